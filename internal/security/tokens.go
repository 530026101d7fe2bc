package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or signed for another issuer or audience.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token. Email is empty on tokens minted by refresh.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Use   string `json:"token_use"`
}

// RefreshClaims holds JWT claims for the refresh token. The subject is the only identity claim.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Use string `json:"token_use"`
}

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// RefreshTTL is the refresh token lifetime; the session cache entry uses the same TTL.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for subjectID. email may be empty.
func (p *TokenProvider) IssueAccess(subjectID, email string) (token string, expiresAt time.Time, err error) {
	reg, err := p.registered(subjectID, p.accessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = p.sign(AccessClaims{RegisteredClaims: reg, Email: email, Use: useAccess})
	return token, reg.ExpiresAt.Time, err
}

// IssueRefresh issues a long-lived refresh JWT for subjectID. Every call yields a distinct
// token because of the random jti, even within the same second.
func (p *TokenProvider) IssueRefresh(subjectID string) (token string, expiresAt time.Time, err error) {
	reg, err := p.registered(subjectID, p.refreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = p.sign(RefreshClaims{RegisteredClaims: reg, Use: useRefresh})
	return token, reg.ExpiresAt.Time, err
}

func (p *TokenProvider) registered(subjectID string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subjectID,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateRefresh parses and validates the refresh token (signature, exp, iss, aud) and returns its subject.
func (p *TokenProvider) ValidateRefresh(tokenString string) (subjectID string, err error) {
	var claims RefreshClaims
	if err := p.parse(tokenString, &claims); err != nil {
		return "", err
	}
	if claims.Use != useRefresh {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
// Returns the subject and, when present, the email claim.
func (p *TokenProvider) ValidateAccess(tokenString string) (subjectID, email string, err error) {
	var claims AccessClaims
	if err := p.parse(tokenString, &claims); err != nil {
		return "", "", err
	}
	if claims.Use != useAccess {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Email, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss != p.issuer {
		return ErrInvalidToken
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, p.audience) {
		return ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
