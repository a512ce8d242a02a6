package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/habituals/internal/auth"
	"github.com/MarcoPoloResearchLab/habituals/internal/config"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/metrics"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
	"github.com/MarcoPoloResearchLab/habituals/internal/server"
	"github.com/MarcoPoloResearchLab/habituals/internal/users"
)

// newAPIHandler builds every service over db and mounts them on the HTTP router.
func newAPIHandler(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (http.Handler, error) {
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
		Leeway:        appConfig.SessionLeeway,
	})
	if err != nil {
		return nil, err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	bindings, err := users.NewBindingService(users.BindingServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	dispatcher := realtime.NewDispatcher()

	habitsService, err := habits.NewService(habits.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: habits.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	claimService, err := purchases.NewClaimService(purchases.ClaimConfig{
		Database:          db,
		Logger:            logger,
		Publisher:         dispatcher,
		WeeklyCap:         appConfig.WeeklyCap,
		MonthlyCap:        appConfig.MonthlyCap,
		XPBoosterDuration: appConfig.XPBoosterDuration,
	})
	if err != nil {
		return nil, err
	}
	webhookProcessor, err := purchases.NewWebhookProcessor(purchases.WebhookConfig{
		Database:  db,
		Secret:    []byte(appConfig.WebhookSecret),
		Bindings:  bindings,
		Publisher: dispatcher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		SessionValidator:    sessionValidator,
		UserResolver:        userService,
		HabitsService:       habitsService,
		ClaimService:        claimService,
		WebhookProcessor:    webhookProcessor,
		Realtime:            dispatcher,
		Metrics:             metrics.New(logger),
		AllowedOrigins:      appConfig.AllowedOrigins,
		ConsumablesDisabled: !appConfig.ConsumablesEnabled,
		Features:            appConfig.Features,
		HeartbeatInterval:   appConfig.HeartbeatInterval,
		Logger:              logger,
	})
}
