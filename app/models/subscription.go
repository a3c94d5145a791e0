package models

import "time"

const (
	SubscriptionStatusFree     = "free"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

// Subscription is the single billing state row per organization. It is
// created lazily on first entitlement access and only ever transitioned,
// never deleted.
//
// CurrentPeriodStart/End mean the paid billing period while the status is
// active and the dunning grace window while it is past_due.
type Subscription struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	OrganizationID uint   `gorm:"not null;uniqueIndex:ux_subscriptions_organization" json:"organization_id"`
	Status         string `gorm:"type:varchar(16);not null;default:'free';index" json:"status"`

	PlanCode        string `gorm:"type:varchar(50);not null;default:'free'" json:"plan_code"`
	BillingCycle    string `gorm:"type:varchar(16);not null;default:''" json:"billing_cycle"`
	PendingPlanCode string `gorm:"type:varchar(50);not null;default:''" json:"pending_plan_code"`
	TrialPlanCode   string `gorm:"type:varchar(50);not null;default:''" json:"trial_plan_code"`

	// TrialUsedAt is set once when the single per-organization trial starts
	// and is never cleared afterwards.
	TrialStartedAt *time.Time `gorm:"type:timestamp;default:null" json:"trial_started_at,omitempty"`
	TrialEndsAt    *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	TrialUsedAt    *time.Time `gorm:"type:timestamp;default:null" json:"trial_used_at,omitempty"`

	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`

	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt        *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`

	BillingName       string `gorm:"type:varchar(191);not null;default:''" json:"billing_name"`
	BillingCellphone  string `gorm:"type:varchar(32);not null;default:''" json:"billing_cellphone"`
	BillingTaxID      string `gorm:"type:varchar(32);not null;default:''" json:"billing_tax_id"`
	AbacateCustomerID string `gorm:"type:varchar(191);not null;default:'';index" json:"abacate_customer_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodEndedBefore reports whether the current period boundary has passed.
// A missing boundary counts as ended.
func (s *Subscription) PeriodEndedBefore(now time.Time) bool {
	return s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(now)
}

// TrialEndedBefore reports whether the trial window has passed.
func (s *Subscription) TrialEndedBefore(now time.Time) bool {
	return s.TrialEndsAt == nil || !s.TrialEndsAt.After(now)
}
