package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/habituals/internal/auth"
)

func TestAuthorizeRequestLogLevelFollowsFailureKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name      string
		failure   error
		wantLevel zapcore.Level
	}{
		{name: "expired", failure: auth.ErrExpiredSessionToken, wantLevel: zapcore.InfoLevel},
		{name: "bad signature", failure: errors.New("signature mismatch"), wantLevel: zapcore.WarnLevel},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/habits", http.NoBody)
			ctx.Request.Header.Set("Authorization", "Bearer token")

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				sessions: stubSessionValidator{validateErr: testCase.failure},
				logger:   zap.New(core),
			}
			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("expected unauthorized, got %d", recorder.Code)
			}
			entries := logs.FilterMessage("token validation failed").All()
			if len(entries) != 1 || entries[0].Level != testCase.wantLevel {
				t.Fatalf("expected one %s entry, got %+v", testCase.wantLevel, logs.All())
			}
			if err, ok := entries[0].ContextMap()["error"]; !ok || err != testCase.failure.Error() {
				t.Fatalf("expected error field %q, got %v", testCase.failure, entries[0].ContextMap())
			}
		})
	}
}

func TestAuthorizeRequestRejectsMissingCredentials(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodGet, "/habits", "", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
	expected := `{"error":"authorization header missing or invalid"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.token(t, "user-1")
	recorder := env.do(t, http.MethodGet, "/habits?access_token="+token, "", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != `{"habits":[]}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

type stubSessionValidator struct {
	claims      auth.SessionClaims
	validateErr error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}

func (s stubSessionValidator) ValidateToken(string) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}
