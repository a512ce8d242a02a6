package purchases

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
	"github.com/MarcoPoloResearchLab/habituals/internal/users"
)

// SignatureHeader carries base64(HMAC-SHA256(secret, raw body)).
const SignatureHeader = "X-RevenueCat-Signature"

const (
	statusCancellation = "CANCELLATION"
	statusRefund       = "REFUND"

	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformUnknown = "unknown"
)

// Fulfillment names what a processed event did to the user's entitlements.
type Fulfillment string

const (
	FulfillmentPro        Fulfillment = "pro"
	FulfillmentCosmetic   Fulfillment = "cosmetic"
	FulfillmentConsumable Fulfillment = "consumable_audit"
	FulfillmentAuditOnly  Fulfillment = "audit_only"
)

// Event is a purchase provider webhook payload.
type Event struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	AppUserID         string   `json:"app_user_id"`
	OriginalAppUserID string   `json:"original_app_user_id,omitempty"`
	ProductID         string   `json:"product_id"`
	Store             string   `json:"store"`
	PurchasedAtMs     *float64 `json:"purchased_at_ms,omitempty"`
}

// Outcome summarizes a processed webhook event.
type Outcome struct {
	TxID        string
	UserID      string
	SKU         string
	Status      string
	Platform    string
	Fulfillment Fulfillment
}

type WebhookConfig struct {
	Database  *gorm.DB
	Secret    []byte
	Bindings  *users.BindingService
	Publisher realtime.Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// WebhookProcessor verifies, audits, and fulfills provider events.
type WebhookProcessor struct {
	db        *gorm.DB
	secret    []byte
	bindings  *users.BindingService
	publisher realtime.Publisher
	clock     func() time.Time
	logger    *zap.Logger
	schema    *jsonschema.Schema
}

func NewWebhookProcessor(cfg WebhookConfig) (*WebhookProcessor, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opWebhookNew, "missing_database", errMissingDatabase)
	}
	if len(cfg.Secret) == 0 {
		return nil, newServiceError(opWebhookNew, "missing_secret", errMissingSecret)
	}
	if cfg.Bindings == nil {
		return nil, newServiceError(opWebhookNew, "missing_bindings", errMissingBindings)
	}
	schema, err := compileEventSchema()
	if err != nil {
		return nil, newServiceError(opWebhookNew, "schema_compile_failed", err)
	}
	processor := &WebhookProcessor{
		db:        cfg.Database,
		secret:    append([]byte(nil), cfg.Secret...),
		bindings:  cfg.Bindings,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		schema:    schema,
	}
	if processor.publisher == nil {
		processor.publisher = realtime.Discard{}
	}
	if processor.clock == nil {
		processor.clock = time.Now
	}
	if processor.logger == nil {
		processor.logger = noOpLogger
	}
	return processor, nil
}

// Sign returns the signature header value for body. Used by tests and tooling.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *WebhookProcessor) verifySignature(body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := hex.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// Process handles one raw webhook delivery. Replaying the same delivery is harmless.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if !p.verifySignature(body, signature) {
		p.logger.Warn("webhook signature rejected")
		return Outcome{}, ErrInvalidSignature
	}
	if err := validateEvent(p.schema, body); err != nil {
		return Outcome{}, err
	}
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	now := p.clock().UTC()
	outcome := Outcome{
		TxID:     event.ID,
		UserID:   event.AppUserID,
		SKU:      event.ProductID,
		Status:   event.Type,
		Platform: platformFor(event.Store),
	}
	rcAppUserID := event.AppUserID
	if strings.TrimSpace(event.OriginalAppUserID) != "" {
		rcAppUserID = event.OriginalAppUserID
	}
	purchasedAt := now
	if event.PurchasedAtMs != nil {
		purchasedAt = time.UnixMilli(int64(*event.PurchasedAtMs)).UTC()
	}
	fields := []zap.Field{
		zap.String("evt", outcome.Status),
		zap.String("tx_id", outcome.TxID),
		zap.String("user_id", outcome.UserID),
		zap.String("rc_app_user_id", rcAppUserID),
		zap.String("sku", outcome.SKU),
		zap.String("platform", outcome.Platform),
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.bindings.VerifyTx(tx, outcome.UserID, rcAppUserID); err != nil {
			if errors.Is(err, users.ErrUserMappingMismatch) {
				return err
			}
			p.logError("binding_failed", err, fields...)
			return newServiceError(opWebhook, "binding_failed", err)
		}

		audit := AuditPurchase{
			TxID:        outcome.TxID,
			UserID:      outcome.UserID,
			SKU:         outcome.SKU,
			Platform:    outcome.Platform,
			Status:      outcome.Status,
			PurchasedAt: purchasedAt,
			RawJSON:     string(body),
			UpdatedAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "sku", "platform", "status", "purchased_at", "raw_json", "updated_at"}),
		}).Create(&audit).Error; err != nil {
			p.logError("audit_upsert_failed", err, fields...)
			return newServiceError(opWebhook, "audit_upsert_failed", err)
		}

		fulfillment, err := p.fulfill(tx, outcome, now)
		if err != nil {
			p.logError("fulfillment_failed", err, fields...)
			return newServiceError(opWebhook, "fulfillment_failed", err)
		}
		outcome.Fulfillment = fulfillment
		return nil
	})
	if err != nil {
		if errors.Is(err, users.ErrUserMappingMismatch) {
			p.logger.Warn("webhook user mapping mismatch", fields...)
		}
		return Outcome{}, err
	}

	p.logger.Info("webhook event processed", append(fields, zap.String("fulfillment", string(outcome.Fulfillment)))...)
	if outcome.Fulfillment == FulfillmentPro || outcome.Fulfillment == FulfillmentCosmetic {
		p.publisher.Publish(realtime.Message{
			UserID:    outcome.UserID,
			EventType: realtime.EventEntitlementsChanged,
			Timestamp: now,
		})
	}
	return outcome, nil
}

func (p *WebhookProcessor) fulfill(tx *gorm.DB, outcome Outcome, now time.Time) (Fulfillment, error) {
	switch {
	case IsPro(outcome.SKU):
		entitlement, err := loadEntitlement(tx, outcome.UserID)
		if err != nil {
			return "", err
		}
		entitlement.Pro = outcome.Status != statusCancellation && outcome.Status != statusRefund
		entitlement.UpdatedAt = now
		return FulfillmentPro, tx.Save(&entitlement).Error
	case strings.HasPrefix(outcome.SKU, cosmeticPrefix):
		name, ok := CosmeticName(outcome.SKU)
		if !ok {
			return FulfillmentAuditOnly, nil
		}
		entitlement, err := loadEntitlement(tx, outcome.UserID)
		if err != nil {
			return "", err
		}
		if entitlement.Cosmetics == nil {
			entitlement.Cosmetics = map[string]bool{}
		}
		entitlement.Cosmetics[name] = true
		entitlement.UpdatedAt = now
		return FulfillmentCosmetic, tx.Save(&entitlement).Error
	case IsConsumable(outcome.SKU):
		return FulfillmentConsumable, nil
	default:
		return FulfillmentAuditOnly, nil
	}
}

// ReadEntitlement returns the stored entitlement, or an empty one for users without events.
func (p *WebhookProcessor) ReadEntitlement(ctx context.Context, userID string) (Entitlement, error) {
	entitlement, err := loadEntitlement(p.db.WithContext(ctx), userID)
	if err != nil {
		logServiceError(p.logger, opReadEntitle, "entitlement_select_failed", err, zap.String("user_id", userID))
		return Entitlement{}, newServiceError(opReadEntitle, "entitlement_select_failed", err)
	}
	if entitlement.Cosmetics == nil {
		entitlement.Cosmetics = map[string]bool{}
	}
	entitlement.UpdatedAt = entitlement.UpdatedAt.UTC()
	return entitlement, nil
}

func loadEntitlement(tx *gorm.DB, userID string) (Entitlement, error) {
	var entitlement Entitlement
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(&entitlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entitlement{UserID: userID}, nil
	}
	return entitlement, err
}

func platformFor(store string) string {
	switch store {
	case "APP_STORE":
		return PlatformIOS
	case "PLAY_STORE":
		return PlatformAndroid
	default:
		return PlatformUnknown
	}
}

func (p *WebhookProcessor) logError(reason string, err error, fields ...zap.Field) {
	logServiceError(p.logger, opWebhook, reason, err, fields...)
}
