package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/auth"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/metrics"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
)

const (
	userIDContextKey         = "habituals_user_id"
	requestIDContextKey      = "habituals_request_id"
	requestIDHeader          = "X-Request-ID"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingHabitsService    = errors.New("habits service dependency required")
	errMissingClaimService     = errors.New("claim service dependency required")
	errMissingWebhookProcessor = errors.New("webhook processor dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator authenticates requests. *auth.SessionValidator satisfies it.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto a canonical user id. *users.Service satisfies it.
type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	SessionValidator    SessionValidator
	UserResolver        UserResolver
	HabitsService       *habits.Service
	ClaimService        *purchases.ClaimService
	WebhookProcessor    *purchases.WebhookProcessor
	Realtime            *realtime.Dispatcher
	Metrics             *metrics.Registry
	AllowedOrigins      []string
	ConsumablesDisabled bool
	Features            map[string]bool
	HeartbeatInterval   time.Duration
	Clock               func() time.Time
	Logger              *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.HabitsService == nil {
		return nil, errMissingHabitsService
	}
	if deps.ClaimService == nil {
		return nil, errMissingClaimService
	}
	if deps.WebhookProcessor == nil {
		return nil, errMissingWebhookProcessor
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	dispatcher := deps.Realtime
	if dispatcher == nil {
		dispatcher = realtime.NewDispatcher()
	}
	registry := deps.Metrics
	if registry == nil {
		registry = metrics.New(logger)
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))

	handler := &httpHandler{
		sessions:            deps.SessionValidator,
		users:               deps.UserResolver,
		habitsService:       deps.HabitsService,
		claims:              deps.ClaimService,
		webhooks:            deps.WebhookProcessor,
		realtime:            dispatcher,
		metrics:             registry,
		consumablesDisabled: deps.ConsumablesDisabled,
		features:            deps.Features,
		heartbeat:           heartbeat,
		clock:               clock,
		logger:              logger,
	}

	router.Any("/claim", handler.handleClaim)
	router.Any("/revenuecat-webhook", handler.handleWebhook)
	router.GET("/metrics", gin.WrapH(registry.Handler()))
	router.GET("/features", handler.handleFeatures)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/habits", handler.handleListHabits)
	protected.POST("/habits", handler.handleCreateHabit)
	protected.PATCH("/habits/:id", handler.handleUpdateHabit)
	protected.DELETE("/habits/:id", handler.handleDeleteHabit)
	protected.GET("/habits/:id/streak", handler.handleGetStreak)
	protected.POST("/habits/mark-done", handler.handleMarkDone)
	protected.POST("/habit-events/:id/undo", handler.handleUndoEvent)
	protected.GET("/wallet", handler.handleWallet)
	protected.GET("/entitlements", handler.handleEntitlements)
	protected.GET("/caps", handler.handleCaps)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	sessions            SessionValidator
	users               UserResolver
	habitsService       *habits.Service
	claims              *purchases.ClaimService
	webhooks            *purchases.WebhookProcessor
	realtime            *realtime.Dispatcher
	metrics             *metrics.Registry
	consumablesDisabled bool
	features            map[string]bool
	heartbeat           time.Duration
	clock               func() time.Time
	logger              *zap.Logger
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader, purchases.SignatureHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

// authorizeRequest accepts a bearer header, the session cookie, or an
// access_token query parameter for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.authenticate(c)
	if err != nil {
		if errors.Is(err, errInvalidAuthorization) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) authenticate(c *gin.Context) (string, error) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		token := strings.TrimSpace(c.Query(accessTokenQueryKey))
		if token == "" {
			return "", errInvalidAuthorization
		}
		claims, err = h.sessions.ValidateToken(token)
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		return "", err
	}

	if h.users != nil {
		userID, err := h.users.ResolveCanonicalUserID(claims)
		if err != nil {
			h.logger.Warn("user resolution failed", zap.Error(err))
			return "", err
		}
		return userID, nil
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", errInvalidAuthorization
	}
	return userID, nil
}
