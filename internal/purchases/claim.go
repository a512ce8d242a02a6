package purchases

import (
	"context"
	"errors"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
)

const (
	DefaultWeeklyCap         = 1
	DefaultMonthlyCap        = 3
	DefaultXPBoosterDuration = 7 * 24 * time.Hour
)

var noOpLogger = zap.NewNop()

// ClaimRequest asks to apply a purchased consumable. UserID, when set, must own the purchase.
type ClaimRequest struct {
	SKU    string `json:"sku" validate:"required"`
	TxID   string `json:"tx_id" validate:"required"`
	UserID string `json:"-"`
}

// Caps is how many streakshield claims a user has left in the current windows.
type Caps struct {
	UserID                string `json:"user_id"`
	StreakshieldWeekLeft  int    `json:"streakshield_week_left"`
	StreakshieldMonthLeft int    `json:"streakshield_month_left"`
}

type ClaimConfig struct {
	Database          *gorm.DB
	Clock             func() time.Time
	Logger            *zap.Logger
	Validator         *validatorv10.Validate
	Publisher         realtime.Publisher
	WeeklyCap         int
	MonthlyCap        int
	XPBoosterDuration time.Duration
}

// ClaimService applies consumable purchases to wallets at most once per transaction.
type ClaimService struct {
	db            *gorm.DB
	clock         func() time.Time
	logger        *zap.Logger
	validate      *validatorv10.Validate
	publisher     realtime.Publisher
	weeklyCap     int
	monthlyCap    int
	boostDuration time.Duration
	userLocks     *keyedMutex
}

func NewClaimService(cfg ClaimConfig) (*ClaimService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opClaimNew, "missing_database", errMissingDatabase)
	}
	service := &ClaimService{
		db:            cfg.Database,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		validate:      cfg.Validator,
		publisher:     cfg.Publisher,
		weeklyCap:     cfg.WeeklyCap,
		monthlyCap:    cfg.MonthlyCap,
		boostDuration: cfg.XPBoosterDuration,
		userLocks:     newKeyedMutex(),
	}
	if service.clock == nil {
		service.clock = time.Now
	}
	if service.logger == nil {
		service.logger = noOpLogger
	}
	if service.validate == nil {
		service.validate = validatorv10.New(validatorv10.WithRequiredStructEnabled())
	}
	if service.publisher == nil {
		service.publisher = realtime.Discard{}
	}
	if service.weeklyCap <= 0 {
		service.weeklyCap = DefaultWeeklyCap
	}
	if service.monthlyCap <= 0 {
		service.monthlyCap = DefaultMonthlyCap
	}
	if service.boostDuration <= 0 {
		service.boostDuration = DefaultXPBoosterDuration
	}
	return service, nil
}

// Claim applies the purchase behind request.TxID to its owner's wallet. A
// transaction that was already claimed returns the current wallet untouched.
func (s *ClaimService) Claim(ctx context.Context, request ClaimRequest) (Wallet, error) {
	request.SKU = strings.TrimSpace(request.SKU)
	request.TxID = strings.TrimSpace(request.TxID)
	if err := s.validate.Struct(request); err != nil {
		return Wallet{}, ErrInvalidClaim
	}

	audit, err := s.findAudit(ctx, request)
	if err != nil {
		return Wallet{}, err
	}

	unlock := s.userLocks.Lock(audit.UserID)
	defer unlock()

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := claimExists(tx, request.TxID)
		if err != nil {
			s.logError(opClaim, "claim_select_failed", err, zap.String("tx_id", request.TxID))
			return newServiceError(opClaim, "claim_select_failed", err)
		}
		if claimed {
			return nil
		}

		now := s.clock().UTC()
		wallet, err := lockWallet(tx, audit.UserID)
		if err != nil {
			s.logError(opClaim, "wallet_select_failed", err, zap.String("user_id", audit.UserID))
			return newServiceError(opClaim, "wallet_select_failed", err)
		}

		switch request.SKU {
		case SKUStreakshield:
			week, month, err := s.countStreakshields(tx, audit.UserID, now)
			if err != nil {
				s.logError(opClaim, "cap_count_failed", err, zap.String("user_id", audit.UserID))
				return newServiceError(opClaim, "cap_count_failed", err)
			}
			if week >= s.weeklyCap || month >= s.monthlyCap {
				s.logger.Info("streakshield cap exceeded",
					zap.String("user_id", audit.UserID),
					zap.Int("week_count", week),
					zap.Int("month_count", month))
				return ErrCapExceeded
			}
			wallet.StreakshieldCount++
		case SKUXPBooster:
			until := now.Add(s.boostDuration)
			if wallet.XPBoosterUntil != nil && wallet.XPBoosterUntil.After(now) && wallet.XPBoosterUntil.After(until) {
				until = wallet.XPBoosterUntil.UTC()
			}
			wallet.XPBoosterUntil = &until
		default:
			return ErrSKUNotClaimable
		}

		wallet.UpdatedAt = &now
		if err := tx.Save(&wallet).Error; err != nil {
			s.logError(opClaim, "wallet_save_failed", err, zap.String("user_id", audit.UserID))
			return newServiceError(opClaim, "wallet_save_failed", err)
		}
		claim := PurchaseClaim{TxID: request.TxID, UserID: audit.UserID, SKU: request.SKU, ClaimedAt: now}
		if err := tx.Create(&claim).Error; err != nil {
			return newServiceError(opClaim, "claim_insert_failed", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != opClaim+".claim_insert_failed" {
			return Wallet{}, err
		}
		// Another process recorded the claim first; that is a replay.
		claimed, lookupErr := claimExists(s.db.WithContext(ctx), request.TxID)
		if lookupErr != nil || !claimed {
			s.logError(opClaim, "claim_insert_failed", err, zap.String("tx_id", request.TxID))
			return Wallet{}, err
		}
	}

	wallet, err := s.ReadWallet(ctx, audit.UserID)
	if err != nil {
		return Wallet{}, err
	}
	if applied {
		s.logger.Info("purchase claimed",
			zap.String("user_id", audit.UserID),
			zap.String("sku", request.SKU),
			zap.String("tx_id", request.TxID))
		s.publisher.Publish(realtime.Message{
			UserID:    audit.UserID,
			EventType: realtime.EventWalletChanged,
			Timestamp: s.clock().UTC(),
		})
	}
	return wallet, nil
}

// ReadWallet returns the stored wallet, or a zero wallet for users that never claimed.
func (s *ClaimService) ReadWallet(ctx context.Context, userID string) (Wallet, error) {
	var wallet Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyWallet(userID), nil
	}
	if err != nil {
		s.logError(opReadWallet, "wallet_select_failed", err, zap.String("user_id", userID))
		return Wallet{}, newServiceError(opReadWallet, "wallet_select_failed", err)
	}
	return wallet.normalized(), nil
}

// CapsRemaining reports the streakshield claims left this week and this month.
func (s *ClaimService) CapsRemaining(ctx context.Context, userID string) (Caps, error) {
	week, month, err := s.countStreakshields(s.db.WithContext(ctx), userID, s.clock().UTC())
	if err != nil {
		s.logError(opCapsRemaining, "cap_count_failed", err, zap.String("user_id", userID))
		return Caps{}, newServiceError(opCapsRemaining, "cap_count_failed", err)
	}
	return Caps{
		UserID:                userID,
		StreakshieldWeekLeft:  max(0, s.weeklyCap-week),
		StreakshieldMonthLeft: max(0, s.monthlyCap-month),
	}, nil
}

func (s *ClaimService) findAudit(ctx context.Context, request ClaimRequest) (AuditPurchase, error) {
	var audit AuditPurchase
	err := s.db.WithContext(ctx).Where("tx_id = ?", request.TxID).Take(&audit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AuditPurchase{}, ErrPurchaseNotFound
	}
	if err != nil {
		s.logError(opClaim, "audit_select_failed", err, zap.String("tx_id", request.TxID))
		return AuditPurchase{}, newServiceError(opClaim, "audit_select_failed", err)
	}
	if audit.SKU != request.SKU {
		return AuditPurchase{}, ErrPurchaseNotFound
	}
	if request.UserID != "" && audit.UserID != request.UserID {
		return AuditPurchase{}, ErrPurchaseNotFound
	}
	return audit, nil
}

func (s *ClaimService) countStreakshields(tx *gorm.DB, userID string, now time.Time) (int, int, error) {
	weekStart, monthStart := capWindows(now)
	var claimedAt []time.Time
	if err := tx.Model(&PurchaseClaim{}).
		Where("user_id = ? AND sku = ?", userID, SKUStreakshield).
		Pluck("claimed_at", &claimedAt).Error; err != nil {
		return 0, 0, err
	}
	week, month := 0, 0
	for _, at := range claimedAt {
		if !at.Before(weekStart) {
			week++
		}
		if !at.Before(monthStart) {
			month++
		}
	}
	return week, month, nil
}

// capWindows returns the start of the UTC week (Sunday 00:00) and month (the 1st, 00:00).
func capWindows(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := day.AddDate(0, 0, -int(day.Weekday()))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return weekStart, monthStart
}

func claimExists(tx *gorm.DB, txID string) (bool, error) {
	var count int64
	if err := tx.Model(&PurchaseClaim{}).Where("tx_id = ?", txID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func lockWallet(tx *gorm.DB, userID string) (Wallet, error) {
	var wallet Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyWallet(userID), nil
	}
	return wallet, err
}

func (s *ClaimService) logError(operation, reason string, err error, fields ...zap.Field) {
	logServiceError(s.logger, operation, reason, err, fields...)
}

func logServiceError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("purchases service error", attrs...)
}
