// Package service runs eSIM provisioning for completed transactions.
package service

import (
	"context"
	"errors"
	"log"
	"strconv"

	"esim-gateway/internal/audit"
	auditdomain "esim-gateway/internal/audit/domain"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/provisioning"
	"esim-gateway/internal/provisioning/domain"
	profilerepo "esim-gateway/internal/provisioning/repository"
	txdomain "esim-gateway/internal/transaction/domain"
	userdomain "esim-gateway/internal/user/domain"
)

const (
	maxIdentifierAttempts = 5

	msgAuthRequired   = "Authentication required"
	msgTxNotCompleted = "Transaction not found or not completed"
	msgNotOwner       = "Transaction belongs to another user"
)

// TransactionReader looks up transactions by correlation id.
type TransactionReader interface {
	GetByCorrelationID(ctx context.Context, correlationID string) (*txdomain.Transaction, error)
}

// IdentifierGenerator yields fresh ICCID and IMSI values.
type IdentifierGenerator interface {
	ICCID() (string, error)
	IMSI() (string, error)
}

// Config holds the values baked into activation responses.
type Config struct {
	SMDPAddress   string
	QRCodeBaseURL string
}

// Activation is what a subject needs to install the eSIM.
type Activation struct {
	ActivationCode string
	QRCodeURL      string
	Profile        *domain.Profile
}

// Engine creates at most one profile per completed transaction.
type Engine struct {
	txs      TransactionReader
	profiles profilerepo.Repository
	ids      IdentifierGenerator
	audit    audit.AuditLogger
	cfg      Config
}

// NewEngine returns an Engine. auditLogger may be nil.
func NewEngine(txs TransactionReader, profiles profilerepo.Repository, ids IdentifierGenerator, auditLogger audit.AuditLogger, cfg Config) *Engine {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Engine{txs: txs, profiles: profiles, ids: ids, audit: auditLogger, cfg: cfg}
}

// Activate returns the subject's profile for correlationID, creating it on
// first call. Repeated calls return the same identifiers and code.
func (e *Engine) Activate(ctx context.Context, correlationID, subjectID string) (*Activation, error) {
	userID, err := userdomain.ParseSubjectID(subjectID)
	if err != nil {
		return nil, apperr.Unauthorized(msgAuthRequired)
	}
	tx, err := e.txs.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if tx == nil || tx.Status != txdomain.StatusCompleted {
		return nil, apperr.NotFound(msgTxNotCompleted)
	}
	if tx.UserID != userID {
		return nil, apperr.Forbidden(msgNotOwner)
	}

	profile, created, err := e.ensure(ctx, tx)
	if err != nil {
		return nil, err
	}
	if created {
		e.audit.LogEvent(ctx, subjectID, auditdomain.ActionActivate, auditdomain.ResourceProfile,
			audit.Metadata("transaction_id", tx.CorrelationID, "profile_id", strconv.FormatInt(profile.ID, 10)))
	}
	return e.activation(profile), nil
}

// EnsureProfile creates the profile for a completed transaction if it has none.
// No ownership check is made.
func (e *Engine) EnsureProfile(ctx context.Context, tx *txdomain.Transaction) (*domain.Profile, error) {
	if tx == nil || tx.Status != txdomain.StatusCompleted {
		return nil, apperr.NotFound(msgTxNotCompleted)
	}
	profile, _, err := e.ensure(ctx, tx)
	return profile, err
}

// ensure inserts a pending profile for tx. A clash on the transaction means a
// concurrent caller won and its row is returned; a clash on ICCID or IMSI
// draws new identifiers. A transaction that stopped being completed since it
// was read is NotFound.
func (e *Engine) ensure(ctx context.Context, tx *txdomain.Transaction) (*domain.Profile, bool, error) {
	existing, err := e.profiles.GetByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if existing != nil {
		return existing, false, nil
	}

	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		iccid, err := e.ids.ICCID()
		if err != nil {
			return nil, false, apperr.Internal(err)
		}
		imsi, err := e.ids.IMSI()
		if err != nil {
			return nil, false, apperr.Internal(err)
		}
		p := &domain.Profile{
			UserID:        tx.UserID,
			TransactionID: tx.ID,
			ICCID:         iccid,
			IMSI:          imsi,
			Status:        domain.StatusPending,
		}
		err = e.profiles.Insert(ctx, p)
		switch {
		case err == nil:
			log.Printf("provisioning: profile %d created for transaction %s", p.ID, tx.CorrelationID)
			return p, true, nil
		case errors.Is(err, profilerepo.ErrTransactionProvisioned):
			winner, err := e.profiles.GetByTransaction(ctx, tx.ID)
			if err != nil {
				return nil, false, apperr.Internal(err)
			}
			if winner == nil {
				return nil, false, apperr.Internal(errors.New("profile vanished after unique violation"))
			}
			return winner, false, nil
		case errors.Is(err, profilerepo.ErrTransactionNotCompleted):
			return nil, false, apperr.NotFound(msgTxNotCompleted)
		case errors.Is(err, profilerepo.ErrIdentifierTaken):
			log.Printf("provisioning: identifier clash for transaction %s, attempt %d", tx.CorrelationID, attempt+1)
		default:
			return nil, false, apperr.Internal(err)
		}
	}
	return nil, false, apperr.Conflict("Could not allocate eSIM identifiers")
}

func (e *Engine) activation(p *domain.Profile) *Activation {
	code := provisioning.FormatActivationCode(e.cfg.SMDPAddress, p.ICCID)
	return &Activation{
		ActivationCode: code,
		QRCodeURL:      provisioning.QRCodeURL(e.cfg.QRCodeBaseURL, code),
		Profile:        p,
	}
}
