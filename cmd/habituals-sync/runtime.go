package main

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/config"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/httpclient"
	"github.com/MarcoPoloResearchLab/habituals/internal/logging"
	"github.com/MarcoPoloResearchLab/habituals/internal/metrics"
	"github.com/MarcoPoloResearchLab/habituals/internal/offlinequeue"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
)

// runtime bundles the client-side collaborators one command needs.
type runtime struct {
	config     config.SyncConfig
	logger     *zap.Logger
	client     *httpclient.Client
	repository *habits.HTTPRepository
	store      *purchases.StoreClient
	driver     offlinequeue.ClosableDriver
	queue      *offlinequeue.Queue
	metrics    *metrics.Registry
}

func newRuntime() (*runtime, error) {
	syncConfig, err := config.LoadSync(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithFormat(syncConfig.LogLevel, logging.FormatConsole)
	if err != nil {
		return nil, err
	}
	client, err := httpclient.New(httpclient.Config{
		BaseURL:     syncConfig.APIBaseURL,
		AccessToken: syncConfig.AccessToken,
		Timeout:     syncConfig.RequestTimeout,
		BreakerName: "habituals-sync",
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	driver, err := offlinequeue.OpenDriver(syncConfig.QueueDSN)
	if err != nil {
		return nil, fmt.Errorf("open queue storage: %w", err)
	}
	repository := habits.NewHTTPRepository(client)
	registry := metrics.New(logger)
	queue, err := offlinequeue.New(offlinequeue.Config{
		Driver:      driver,
		Repository:  repository,
		MaxAttempts: syncConfig.MaxAttempts,
		Backoff:     syncConfig.BackoffPolicy(),
		Observer:    registry,
		Logger:      logger,
	})
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	return &runtime{
		config:     syncConfig,
		logger:     logger,
		client:     client,
		repository: repository,
		store:      purchases.NewStoreClient(client),
		driver:     driver,
		queue:      queue,
		metrics:    registry,
	}, nil
}

func (r *runtime) Close() {
	if err := r.driver.Close(); err != nil {
		r.logger.Warn("queue storage close failed", zap.Error(err))
	}
	_ = r.logger.Sync()
}
