package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUserMappingMismatch means the user is already bound to another provider account.
	ErrUserMappingMismatch = errors.New("users: user mapping mismatch")
	ErrInvalidBinding      = errors.New("users: user id and provider user id required")
)

// BindingServiceConfig describes the dependencies of the provider binding guard.
type BindingServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// BindingService guards against webhook events that claim a user for a different provider account.
type BindingService struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

func NewBindingService(cfg BindingServiceConfig) (*BindingService, error) {
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
	return &BindingService{db: cfg.Database, now: clock, logger: logger}, nil
}

// Verify binds userID to rcAppUserID the first time the pair is seen. Later calls
// succeed only when the provider id matches the stored binding.
func (s *BindingService) Verify(ctx context.Context, userID, rcAppUserID string) error {
	return s.VerifyTx(s.db.WithContext(ctx), userID, rcAppUserID)
}

// VerifyTx runs Verify inside the caller's transaction.
func (s *BindingService) VerifyTx(tx *gorm.DB, userID, rcAppUserID string) error {
	userID = strings.TrimSpace(userID)
	rcAppUserID = strings.TrimSpace(rcAppUserID)
	if userID == "" || rcAppUserID == "" {
		return ErrInvalidBinding
	}

	binding := RCUserBinding{
		UserID:      userID,
		RCAppUserID: rcAppUserID,
		CreatedAt:   s.now().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&binding).Error; err != nil {
		return fmt.Errorf("users: create binding: %w", err)
	}

	var stored RCUserBinding
	if err := tx.Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		return fmt.Errorf("users: load binding: %w", err)
	}
	if stored.RCAppUserID != rcAppUserID {
		s.logger.Warn("provider binding mismatch",
			zap.String("user_id", userID),
			zap.String("bound_rc_app_user_id", stored.RCAppUserID),
			zap.String("rc_app_user_id", rcAppUserID),
		)
		return ErrUserMappingMismatch
	}
	return nil
}

// Lookup returns the provider account bound to userID, if any.
func (s *BindingService) Lookup(ctx context.Context, userID string) (RCUserBinding, bool, error) {
	var stored RCUserBinding
	err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RCUserBinding{}, false, nil
	}
	if err != nil {
		return RCUserBinding{}, false, err
	}
	return stored, true, nil
}
