// Package auth validates the HS256 session tokens that identify the user
// behind every timeline request, and issues them for local tooling.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL  = 12 * time.Hour
	bearerPrefix       = "Bearer "
	authorizationField = "Authorization"
)

var (
	ErrMissingSessionSigningKey = errors.New("session: signing key required")
	ErrMissingSessionIssuer     = errors.New("session: issuer required")
	ErrMissingSessionCookieName = errors.New("session: cookie name required")
	ErrMissingSessionToken      = errors.New("session: token required")
	ErrInvalidSessionToken      = errors.New("session: invalid token")
	ErrExpiredSessionToken      = errors.New("session: token expired")
	ErrMissingSessionSubject    = errors.New("session: subject required")
)

// SessionClaims is the JWT payload of a session.
type SessionClaims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig describes how sessions are signed and located.
type SessionConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	TTL           time.Duration
	Clock         func() time.Time
}

func (cfg SessionConfig) normalized() (SessionConfig, error) {
	if len(cfg.SigningSecret) == 0 {
		return SessionConfig{}, ErrMissingSessionSigningKey
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return SessionConfig{}, ErrMissingSessionIssuer
	}
	cfg.CookieName = strings.TrimSpace(cfg.CookieName)
	if cfg.CookieName == "" {
		return SessionConfig{}, ErrMissingSessionCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.SigningSecret = append([]byte(nil), cfg.SigningSecret...)
	return cfg, nil
}

// SessionValidator validates session tokens carried in a cookie or a bearer header.
type SessionValidator struct {
	cfg SessionConfig
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionConfig) (*SessionValidator, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &SessionValidator{cfg: normalized}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cfg.CookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.cfg.SigningSecret, nil
		},
		jwt.WithTimeFunc(v.cfg.Clock),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// ValidateRequest validates the session cookie, falling back to an
// Authorization bearer token for non-browser clients.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if cookie, err := r.Cookie(v.cfg.CookieName); err == nil && cookie.Value != "" {
		return v.ValidateToken(cookie.Value)
	}
	header := r.Header.Get(authorizationField)
	if strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	return SessionClaims{}, ErrMissingSessionToken
}

// SessionIssuer signs session tokens with the same configuration the validator checks.
type SessionIssuer struct {
	cfg SessionConfig
}

// NewSessionIssuer constructs an issuer.
func NewSessionIssuer(cfg SessionConfig) (*SessionIssuer, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &SessionIssuer{cfg: normalized}, nil
}

// Issue signs a session for the user and returns the token and its expiry.
func (i *SessionIssuer) Issue(userID, email, displayName string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrMissingSessionSubject
	}
	now := i.cfg.Clock().UTC()
	expiresAt := now.Add(i.cfg.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.cfg.SigningSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
