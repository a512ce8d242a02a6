// Package purchases holds the server-authoritative purchase state: the capped,
// idempotent consumable claim and the signed entitlement webhook.
package purchases

import (
	"strings"
	"time"
)

const (
	SKUStreakshield = "consumable_streakshield_1"
	SKUXPBooster    = "consumable_xp_booster_7d"
	SKUProMonth     = "pro_month"
	SKUProYear      = "pro_year"

	cosmeticPrefix   = "cos_"
	cosmeticTheme    = "cos_theme_"
	consumablePrefix = "consumable_"
)

// Wallet is the consumable balance of one user. It only changes through claims.
type Wallet struct {
	UserID            string     `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	StreakshieldCount int        `gorm:"column:streakshield_count;not null;default:0" json:"streakshield_count"`
	XPBoosterUntil    *time.Time `gorm:"column:xp_booster_until" json:"xp_booster_until"`
	UpdatedAt         *time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at,omitempty"`
}

func (Wallet) TableName() string {
	return "user_wallet_balances"
}

func emptyWallet(userID string) Wallet {
	return Wallet{UserID: userID}
}

func (w Wallet) normalized() Wallet {
	if w.XPBoosterUntil != nil {
		until := w.XPBoosterUntil.UTC()
		w.XPBoosterUntil = &until
	}
	if w.UpdatedAt != nil {
		updated := w.UpdatedAt.UTC()
		w.UpdatedAt = &updated
	}
	return w
}

// Entitlement is the pro flag and cosmetic set of one user. Only the webhook writes it.
type Entitlement struct {
	UserID    string          `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	Pro       bool            `gorm:"column:pro;not null;default:false" json:"pro"`
	Cosmetics map[string]bool `gorm:"column:cosmetics;serializer:json" json:"cosmetics"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Entitlement) TableName() string {
	return "user_entitlements"
}

// PurchaseClaim witnesses that a transaction was applied to a wallet.
type PurchaseClaim struct {
	TxID      string    `gorm:"column:tx_id;primaryKey;size:190;not null" json:"tx_id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_purchase_claims_user_sku,priority:1" json:"user_id"`
	SKU       string    `gorm:"column:sku;size:190;not null;index:idx_purchase_claims_user_sku,priority:2" json:"sku"`
	ClaimedAt time.Time `gorm:"column:claimed_at;not null" json:"claimed_at"`
}

func (PurchaseClaim) TableName() string {
	return "purchase_claims"
}

// AuditPurchase is the latest provider event seen for a transaction.
type AuditPurchase struct {
	TxID        string    `gorm:"column:tx_id;primaryKey;size:190;not null" json:"tx_id"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	SKU         string    `gorm:"column:sku;size:190;not null" json:"sku"`
	Platform    string    `gorm:"column:platform;size:32;not null" json:"platform"`
	Status      string    `gorm:"column:status;size:64;not null" json:"status"`
	PurchasedAt time.Time `gorm:"column:purchased_at;not null" json:"purchased_at"`
	RawJSON     string    `gorm:"column:raw_json;type:text" json:"raw"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (AuditPurchase) TableName() string {
	return "audit_purchases"
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Wallet{}, &Entitlement{}, &PurchaseClaim{}, &AuditPurchase{}}
}

// CosmeticName maps a cosmetic sku onto its entitlement key:
// cos_theme_teal_nebula becomes teal_nebula.
func CosmeticName(sku string) (string, bool) {
	if !strings.HasPrefix(sku, cosmeticPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(sku, cosmeticTheme)
	if name == sku {
		name = strings.TrimPrefix(sku, cosmeticPrefix)
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// IsConsumable reports skus the webhook only audits; /claim applies them.
func IsConsumable(sku string) bool {
	return strings.HasPrefix(sku, consumablePrefix)
}

// IsPro reports the subscription skus that drive the pro flag.
func IsPro(sku string) bool {
	return sku == SKUProMonth || sku == SKUProYear
}
