package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSigningSecret = "secret"

var validatorNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T, cfg SessionValidatorConfig) *SessionValidator {
	t.Helper()
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = []byte(testSigningSecret)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return validatorNow }
	}
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signClaims(t *testing.T, method jwt.SigningMethod, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func sessionFor(userID string, expiresIn time.Duration) SessionClaims {
	return SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(validatorNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(validatorNow.Add(expiresIn)),
		},
	}
}

func TestNewSessionValidatorRequiresSecret(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	foreignIssuer := sessionFor("user-1", time.Hour)
	foreignIssuer.Issuer = "someone-else"

	noExpiry := sessionFor("user-1", time.Hour)
	noExpiry.ExpiresAt = nil

	anonymous := sessionFor("", time.Hour)

	validator := newTestValidator(t, SessionValidatorConfig{})
	testCases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "valid", token: signClaims(t, jwt.SigningMethodHS256, sessionFor("user-1", time.Hour))},
		{name: "within leeway", token: signClaims(t, jwt.SigningMethodHS256, sessionFor("user-1", -10*time.Second))},
		{name: "expired", token: signClaims(t, jwt.SigningMethodHS256, sessionFor("user-1", -time.Hour)), wantErr: ErrExpiredSessionToken},
		{name: "foreign issuer", token: signClaims(t, jwt.SigningMethodHS256, foreignIssuer), wantErr: ErrInvalidSessionToken},
		{name: "wrong algorithm", token: signClaims(t, jwt.SigningMethodHS512, sessionFor("user-1", time.Hour)), wantErr: ErrInvalidSessionToken},
		{name: "no expiry", token: signClaims(t, jwt.SigningMethodHS256, noExpiry), wantErr: ErrInvalidSessionToken},
		{name: "no subject", token: signClaims(t, jwt.SigningMethodHS256, anonymous), wantErr: ErrMissingSessionSubject},
		{name: "blank", token: "  ", wantErr: ErrMissingSessionToken},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			claims, err := validator.ValidateToken(testCase.token)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation failure: %v", err)
			}
			if claims.UserID != "user-1" {
				t.Fatalf("unexpected user id: %s", claims.UserID)
			}
		})
	}
}

func TestSessionValidatorNegativeLeewayIsStrict(t *testing.T) {
	validator := newTestValidator(t, SessionValidatorConfig{Leeway: -1})
	token := signClaims(t, jwt.SigningMethodHS256, sessionFor("user-1", -10*time.Second))
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	validator := newTestValidator(t, SessionValidatorConfig{CookieName: "app_session"})
	cookieToken := signClaims(t, jwt.SigningMethodHS256, sessionFor("cookie-user", time.Hour))
	bearer := signClaims(t, jwt.SigningMethodHS256, sessionFor("bearer-user", time.Hour))

	testCases := []struct {
		name     string
		header   string
		cookie   string
		wantUser string
		wantErr  error
	}{
		{name: "cookie", cookie: cookieToken, wantUser: "cookie-user"},
		{name: "bearer wins", header: "Bearer " + bearer, cookie: "garbage", wantUser: "bearer-user"},
		{name: "lowercase scheme", header: "bearer " + bearer, wantUser: "bearer-user"},
		{name: "basic scheme falls back to cookie", header: "Basic abc", cookie: cookieToken, wantUser: "cookie-user"},
		{name: "nothing", wantErr: ErrMissingSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/habits", http.NoBody)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			if testCase.cookie != "" {
				request.AddCookie(&http.Cookie{Name: validator.CookieName(), Value: testCase.cookie})
			}
			claims, err := validator.ValidateRequest(request)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validation failed: %v", err)
			}
			if claims.UserID != testCase.wantUser {
				t.Fatalf("unexpected user id: %s", claims.UserID)
			}
		})
	}
}

func TestSessionClaimsHasRole(t *testing.T) {
	claims := SessionClaims{UserRoles: []string{"user", "admin"}}
	if !claims.HasRole("admin") || claims.HasRole("owner") {
		t.Fatalf("unexpected role membership for %v", claims.UserRoles)
	}
}
