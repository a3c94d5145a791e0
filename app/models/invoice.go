package models

import "time"

// Invoice is the ledger of payment attempts. DedupKey is the provider
// billing id, or provider_billing_id:event_id for later cycles of a
// recurring billing so repeat paid events do not collide.
type Invoice struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	SubscriptionID uint `gorm:"not null;index" json:"subscription_id"`

	DedupKey          string `gorm:"type:varchar(191);not null;uniqueIndex:ux_invoices_dedup" json:"dedup_key"`
	ProviderBillingID string `gorm:"type:varchar(191);not null;index" json:"provider_billing_id"`

	AmountCents           int64  `gorm:"not null" json:"amount_cents"`
	Currency              string `gorm:"type:varchar(8);not null;default:'BRL'" json:"currency"`
	Status                string `gorm:"type:varchar(16);not null" json:"status"`
	ProviderTransactionID string `gorm:"type:varchar(191);not null;default:''" json:"provider_transaction_id"`
	ReceiptURL            string `gorm:"type:varchar(2048);not null;default:''" json:"receipt_url"`
	BillingURL            string `gorm:"type:varchar(2048);not null;default:''" json:"billing_url"`

	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
