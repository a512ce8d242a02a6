package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/habituals/internal/auth"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session claims onto canonical user ids. Resolved ids are cached per
// provider login for the life of the process.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	logger   *zap.Logger
	resolved sync.Map
}

// identityKey names one provider login.
type identityKey struct {
	provider string
	subject  string
}

func (k identityKey) String() string {
	return k.provider + ":" + k.subject
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims. A
// "provider:subject" user id is split so that habit rows carry only the subject.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	key, ok := keyFromClaims(claims)
	if !ok {
		return "", ErrInvalidIdentity
	}
	if cached, found := s.resolved.Load(key); found {
		return cached.(string), nil
	}

	identity := Identity{
		Provider:    key.provider,
		Subject:     key.subject,
		UserID:      key.subject,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		LastSeenAt:  s.now().UTC(),
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&identity).Error; err != nil {
		s.logger.Error("identity insert failed", zap.String("identity", key.String()), zap.Error(err))
		return "", err
	}

	var stored Identity
	if err := s.db.Where("provider = ? AND subject = ?", key.provider, key.subject).Take(&stored).Error; err != nil {
		s.logger.Error("identity lookup failed", zap.String("identity", key.String()), zap.Error(err))
		return "", err
	}
	s.refreshProfile(stored, identity)

	s.resolved.Store(key, stored.UserID)
	return stored.UserID, nil
}

// refreshProfile records the latest profile fields; failures only cost freshness.
func (s *Service) refreshProfile(stored, latest Identity) {
	updates := map[string]any{"last_seen_at": latest.LastSeenAt}
	if latest.Email != "" && latest.Email != stored.Email {
		updates["user_email"] = latest.Email
	}
	if latest.DisplayName != "" && latest.DisplayName != stored.DisplayName {
		updates["user_display_name"] = latest.DisplayName
	}
	err := s.db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", stored.Provider, stored.Subject).
		Updates(updates).Error
	if err != nil {
		s.logger.Warn("identity refresh failed", zap.String("user_id", stored.UserID), zap.Error(err))
	}
}

func keyFromClaims(claims auth.SessionClaims) (identityKey, bool) {
	key := identityKey{provider: defaultProvider, subject: normalize(claims.Subject)}

	if raw := normalize(claims.UserID); raw != "" {
		provider, subject, found := strings.Cut(raw, ":")
		switch {
		case found && normalize(provider) != "" && normalize(subject) != "":
			key = identityKey{provider: normalize(provider), subject: normalize(subject)}
		case key.subject == "":
			key.subject = raw
		}
	}
	if key.subject == "" {
		key.subject = normalize(claims.UserEmail)
	}
	return key, key.subject != ""
}
