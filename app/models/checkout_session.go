package models

import "time"

const (
	CheckoutStatusPending    = "pending"
	CheckoutStatusPaid       = "paid"
	CheckoutStatusFailed     = "failed"
	CheckoutStatusExpired    = "expired"
	CheckoutStatusCanceled   = "canceled"
	CheckoutStatusChargeback = "chargeback"
)

// CheckoutSession is a single attempt to pay for a plan change through the
// payment provider. Status only moves from pending into a terminal state;
// the one terminal-to-terminal edge is paid -> chargeback.
type CheckoutSession struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	SubscriptionID uint `gorm:"not null;index" json:"subscription_id"`

	TargetPlanCode string `gorm:"type:varchar(50);not null" json:"target_plan_code"`
	BillingCycle   string `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	AmountCents    int64  `gorm:"not null" json:"amount_cents"`
	Currency       string `gorm:"type:varchar(8);not null;default:'BRL'" json:"currency"`

	// ProviderExternalID is the locally generated idempotency key sent to the
	// provider; ProviderBillingID is assigned by the provider after creation.
	ProviderExternalID string `gorm:"type:varchar(191);not null;uniqueIndex:ux_checkout_sessions_external" json:"provider_external_id"`
	ProviderBillingID  string `gorm:"type:varchar(191);not null;default:'';index" json:"provider_billing_id"`
	URL                string `gorm:"type:varchar(2048);not null;default:''" json:"url"`

	Status    string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
}

// IsTerminalCheckoutStatus reports whether a checkout status is final.
func IsTerminalCheckoutStatus(status string) bool {
	switch status {
	case CheckoutStatusPaid, CheckoutStatusFailed, CheckoutStatusExpired,
		CheckoutStatusCanceled, CheckoutStatusChargeback:
		return true
	default:
		return false
	}
}

// StaleBefore reports whether a still-pending session was created before the
// given cutoff and should be treated as abandoned.
func (c *CheckoutSession) StaleBefore(cutoff time.Time) bool {
	return c.Status == CheckoutStatusPending && c.CreatedAt.Before(cutoff)
}
