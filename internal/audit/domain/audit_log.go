package domain

import "time"

// Actions recorded by the auth, ledger and provisioning services.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionRegister     = "register"
	ActionLogout       = "logout"
	ActionPurchase     = "purchase"
	ActionActivate     = "activate"
)

// Resources an audit entry can refer to.
const (
	ResourceAuthentication = "authentication"
	ResourceUser           = "user"
	ResourceTransaction    = "transaction"
	ResourceProfile        = "esim_profile"
)

// AuditLog represents an audit event. UserID is empty when the actor is unknown (e.g. failed login).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
