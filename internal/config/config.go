package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/habituals/internal/backoff"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
)

const (
	envPrefix             = "HABITUALS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "habituals.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "habituals_session"
	defaultSessionIssuer  = "habituals"
	defaultSessionTTL     = 30 * time.Minute
	defaultSessionLeeway  = 30 * time.Second
	defaultHeartbeat      = 25 * time.Second
	defaultAPIBaseURL     = "http://localhost:8080"
	defaultQueueDSN       = "file://habituals-queue.json"
	defaultMaxAttempts    = 4
	defaultRequestTimeout = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	SessionTTL           time.Duration
	SessionLeeway        time.Duration
	WebhookSecret        string
	WeeklyCap            int
	MonthlyCap           int
	XPBoosterDuration    time.Duration
	ConsumablesEnabled   bool
	Features             map[string]bool
	AllowedOrigins       []string
	HeartbeatInterval    time.Duration
}

// SyncConfig drives the offline sync CLI.
type SyncConfig struct {
	APIBaseURL     string
	AccessToken    string
	QueueDSN       string
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.leeway", defaultSessionLeeway)
	configViper.SetDefault("claim.weekly_cap", purchases.DefaultWeeklyCap)
	configViper.SetDefault("claim.monthly_cap", purchases.DefaultMonthlyCap)
	configViper.SetDefault("claim.xp_booster_duration", purchases.DefaultXPBoosterDuration)
	configViper.SetDefault("features.consumables", true)
	configViper.SetDefault("features.storefront", true)
	configViper.SetDefault("features.paywall", true)
	configViper.SetDefault("features.cosmetics", true)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("realtime.heartbeat", defaultHeartbeat)

	configViper.SetDefault("sync.api_base_url", defaultAPIBaseURL)
	configViper.SetDefault("sync.queue_dsn", defaultQueueDSN)
	configViper.SetDefault("sync.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("sync.backoff_base", backoff.DefaultBase)
	configViper.SetDefault("sync.backoff_max", backoff.DefaultMax)
	configViper.SetDefault("sync.request_timeout", defaultRequestTimeout)
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           configViper.GetDuration("session.ttl"),
		SessionLeeway:        configViper.GetDuration("session.leeway"),
		WebhookSecret:        configViper.GetString("webhook.secret"),
		WeeklyCap:            configViper.GetInt("claim.weekly_cap"),
		MonthlyCap:           configViper.GetInt("claim.monthly_cap"),
		XPBoosterDuration:    configViper.GetDuration("claim.xp_booster_duration"),
		ConsumablesEnabled:   configViper.GetBool("features.consumables"),
		Features:             loadFeatures(configViper),
		AllowedOrigins:       splitList(configViper.GetStringSlice("cors.allowed_origins")),
		HeartbeatInterval:    configViper.GetDuration("realtime.heartbeat"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func loadFeatures(configViper *viper.Viper) map[string]bool {
	return map[string]bool{
		"storefront_enabled":  configViper.GetBool("features.storefront"),
		"paywall_enabled":     configViper.GetBool("features.paywall"),
		"consumables_enabled": configViper.GetBool("features.consumables"),
		"cosmetics_enabled":   configViper.GetBool("features.cosmetics"),
	}
}

// LoadSync parses the sync CLI configuration from viper.
func LoadSync(configViper *viper.Viper) (SyncConfig, error) {
	cfg := SyncConfig{
		APIBaseURL:     configViper.GetString("sync.api_base_url"),
		AccessToken:    configViper.GetString("sync.access_token"),
		QueueDSN:       configViper.GetString("sync.queue_dsn"),
		MaxAttempts:    configViper.GetInt("sync.max_attempts"),
		BackoffBase:    configViper.GetDuration("sync.backoff_base"),
		BackoffMax:     configViper.GetDuration("sync.backoff_max"),
		RequestTimeout: configViper.GetDuration("sync.request_timeout"),
		LogLevel:       configViper.GetString("log.level"),
	}
	if strings.TrimSpace(cfg.QueueDSN) == "" {
		return SyncConfig{}, fmt.Errorf("sync.queue_dsn is required")
	}
	if cfg.MaxAttempts < 1 {
		return SyncConfig{}, fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return SyncConfig{}, fmt.Errorf("sync.backoff_base must be positive and not exceed sync.backoff_max")
	}
	return cfg, nil
}

// BackoffPolicy returns the retry policy described by the sync configuration.
func (c SyncConfig) BackoffPolicy() backoff.Policy {
	policy := backoff.DefaultPolicy()
	policy.Base = c.BackoffBase
	policy.Max = c.BackoffMax
	return policy
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.WeeklyCap < 0 || c.MonthlyCap < 0 {
		return fmt.Errorf("claim caps must not be negative")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
