package service

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"esim-gateway/internal/audit"
	auditdomain "esim-gateway/internal/audit/domain"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/security"
	"esim-gateway/internal/sessioncache"
	userdomain "esim-gateway/internal/user/domain"
	userrepo "esim-gateway/internal/user/repository"
)

const (
	msgCredentialsRequired = "Email and password are required"
	msgRefreshRequired     = "Refresh token is required"
	msgUserExists          = "User already exists"
)

// AuthResult holds the outcome of Login (tokens + user), Register (user only), or Refresh (access token only).
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         *UserInfo
}

// UserInfo is the caller-visible part of a user.
type UserInfo struct {
	ID    int64
	Email string
	Phone string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// AuthService implements password register, login, refresh, and logout. The session
// cache holds exactly one refresh token per subject; logging in again replaces it.
type AuthService struct {
	users       UserRepo
	cache       sessioncache.Cache
	hasher      *security.Hasher
	tokens      *security.TokenProvider
	audit       audit.AuditLogger
	phoneRegion string
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger may be nil.
// phoneRegion is the ISO 3166 region used for phone numbers given without a country code.
func NewAuthService(
	users UserRepo,
	cache sessioncache.Cache,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	auditLogger audit.AuditLogger,
	phoneRegion string,
) *AuthService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &AuthService{
		users:       users,
		cache:       cache,
		hasher:      hasher,
		tokens:      tokens,
		audit:       auditLogger,
		phoneRegion: strings.ToUpper(phoneRegion),
	}
}

type credentials struct {
	Email    string
	Password string
}

func (c credentials) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// Login verifies email/password and issues an access and refresh token pair. The refresh
// token is stored as the subject's only session, overwriting any earlier one.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	in := credentials{Email: normalizeEmail(email), Password: password}
	if err := in.validate(); err != nil {
		return nil, apperr.InvalidInput(msgCredentialsRequired)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil {
		s.hasher.CompareDummy([]byte(in.Password))
		s.audit.LogEvent(ctx, "", auditdomain.ActionLoginFailure, auditdomain.ResourceAuthentication, audit.Metadata("email", in.Email, "reason", "unknown_email"))
		return nil, apperr.InvalidCredentials()
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(in.Password)); err != nil {
		s.audit.LogEvent(ctx, user.SubjectID(), auditdomain.ActionLoginFailure, auditdomain.ResourceAuthentication, audit.Metadata("reason", "bad_password"))
		return nil, apperr.InvalidCredentials()
	}

	sub := user.SubjectID()
	refreshToken, _, err := s.tokens.IssueRefresh(sub)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	accessToken, accessExp, err := s.tokens.IssueAccess(sub, user.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.cache.Set(ctx, sessioncache.RefreshTokenKey(sub), refreshToken, s.tokens.RefreshTTL()); err != nil {
		return nil, apperr.Internal(err)
	}

	s.audit.LogEvent(ctx, sub, auditdomain.ActionLoginSuccess, auditdomain.ResourceAuthentication, "")
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
		User:         &UserInfo{ID: user.ID, Email: user.Email},
	}, nil
}

// Register creates a user. Uniqueness is decided by the insert itself; a duplicate email
// yields Conflict and leaves the existing row unchanged. No tokens are issued.
func (s *AuthService) Register(ctx context.Context, email, password, phone string) (*AuthResult, error) {
	in := credentials{Email: normalizeEmail(email), Password: password}
	if err := in.validate(); err != nil {
		return nil, apperr.InvalidInput(msgCredentialsRequired)
	}
	if err := validation.Validate(in.Email, is.Email); err != nil {
		return nil, apperr.InvalidInput("Invalid email format")
	}
	e164, err := s.normalizePhone(phone)
	if err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	user := &userdomain.User{Email: in.Email, PasswordHash: hashed, Phone: e164}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, apperr.Conflict(msgUserExists)
		}
		return nil, apperr.Internal(err)
	}

	s.audit.LogEvent(ctx, user.SubjectID(), auditdomain.ActionRegister, auditdomain.ResourceUser, "")
	return &AuthResult{User: &UserInfo{ID: user.ID, Email: user.Email, Phone: user.Phone}}, nil
}

// Refresh issues a new access token when refreshToken is valid and is the subject's
// current session. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperr.InvalidInput(msgRefreshRequired)
	}
	sub, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperr.InvalidToken()
	}
	stored, ok, err := s.cache.Get(ctx, sessioncache.RefreshTokenKey(sub))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok || !security.TokenEqual(refreshToken, stored) {
		return nil, apperr.InvalidToken()
	}
	accessToken, accessExp, err := s.tokens.IssueAccess(sub, "")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &AuthResult{AccessToken: accessToken, ExpiresAt: accessExp}, nil
}

// Logout drops the subject's session. Logging out without a session succeeds.
func (s *AuthService) Logout(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return apperr.Unauthorized("Authentication required")
	}
	if _, err := s.cache.Delete(ctx, sessioncache.RefreshTokenKey(subjectID)); err != nil {
		return apperr.Internal(err)
	}
	s.audit.LogEvent(ctx, subjectID, auditdomain.ActionLogout, auditdomain.ResourceAuthentication, "")
	return nil
}

func (s *AuthService) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", apperr.InvalidInput("Invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
