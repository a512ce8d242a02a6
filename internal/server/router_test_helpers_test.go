package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/habituals/internal/auth"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/metrics"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
	"github.com/MarcoPoloResearchLab/habituals/internal/users"
)

const (
	testSigningSecret = "test-signing-secret"
	testWebhookSecret = "test-webhook-secret"
)

var testDatabaseSequence atomic.Int64

type testEnvironment struct {
	handler    http.Handler
	db         *gorm.DB
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	registry   *metrics.Registry
}

type environmentOption func(*Dependencies)

func withConsumablesDisabled() environmentOption {
	return func(deps *Dependencies) {
		deps.ConsumablesDisabled = true
	}
}

func newTestEnvironment(t *testing.T, options ...environmentOption) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := append([]any{&habits.Habit{}, &habits.HabitEvent{}, &users.Identity{}, &users.RCUserBinding{}}, purchases.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	habitsService, err := habits.NewService(habits.ServiceConfig{Database: db, IDProvider: habits.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("habits service: %v", err)
	}
	dispatcher := realtime.NewDispatcher()
	claimService, err := purchases.NewClaimService(purchases.ClaimConfig{Database: db, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("claim service: %v", err)
	}
	bindings, err := users.NewBindingService(users.BindingServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("binding service: %v", err)
	}
	webhooks, err := purchases.NewWebhookProcessor(purchases.WebhookConfig{
		Database:  db,
		Secret:    []byte(testWebhookSecret),
		Bindings:  bindings,
		Publisher: dispatcher,
	})
	if err != nil {
		t.Fatalf("webhook processor: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	registry := metrics.New(zap.NewNop())

	deps := Dependencies{
		SessionValidator:  validator,
		HabitsService:     habitsService,
		ClaimService:      claimService,
		WebhookProcessor:  webhooks,
		Realtime:          dispatcher,
		Metrics:           registry,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testEnvironment{handler: handler, db: db, issuer: issuer, dispatcher: dispatcher, registry: registry}
}

func (e *testEnvironment) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.issuer.IssueSessionToken(context.Background(), auth.SessionIdentity{UserID: userID})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

func (e *testEnvironment) do(t *testing.T, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}
