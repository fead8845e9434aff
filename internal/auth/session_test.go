package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "timeline_session"
	testSessionIssuer        = "requests-timeline"
	testSessionUserID        = "user-123"
)

func testSessionConfig(now time.Time) SessionConfig {
	return SessionConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		TTL:           time.Hour,
		Clock:         func() time.Time { return now },
	}
}

func mustIssue(t *testing.T, cfg SessionConfig, userID string) string {
	t.Helper()
	issuer, err := NewSessionIssuer(cfg)
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	token, _, err := issuer.Issue(userID, "user@example.com", "User")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func TestSessionRoundTrip(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testSessionConfig(now)
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(mustIssue(t, cfg, testSessionUserID))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionValidatorRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	token := mustIssue(t, testSessionConfig(issuedAt), testSessionUserID)

	validator, err := NewSessionValidator(testSessionConfig(issuedAt.Add(2 * time.Hour)))
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuerAndAlgorithm(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testSessionConfig(now)
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	foreign := cfg
	foreign.Issuer = "someone-else"
	if _, err := validator.ValidateToken(mustIssue(t, foreign, testSessionUserID)); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token for foreign issuer, got %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token for none algorithm, got %v", err)
	}
}

func TestValidateRequestReadsCookieThenBearer(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testSessionConfig(now)
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	token := mustIssue(t, cfg, testSessionUserID)

	cookieRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: token})
	if _, err := validator.ValidateRequest(cookieRequest); err != nil {
		t.Fatalf("cookie validation failed: %v", err)
	}

	bearerRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	bearerRequest.Header.Set("Authorization", "Bearer "+token)
	if _, err := validator.ValidateRequest(bearerRequest); err != nil {
		t.Fatalf("bearer validation failed: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfig(t *testing.T) {
	if _, err := NewSessionValidator(SessionConfig{}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key, got %v", err)
	}
	if _, err := NewSessionValidator(SessionConfig{SigningSecret: []byte("x")}); !errors.Is(err, ErrMissingSessionIssuer) {
		t.Fatalf("expected missing issuer, got %v", err)
	}
	if _, err := NewSessionValidator(SessionConfig{SigningSecret: []byte("x"), Issuer: "i"}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie name, got %v", err)
	}
}
