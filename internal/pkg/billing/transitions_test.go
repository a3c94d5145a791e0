package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/squadbasehq/squadbase/app/models"
)

func TestNextCheckoutStatus(t *testing.T) {
	tests := []struct {
		current string
		outcome Outcome
		want    string
		ok      bool
	}{
		{models.CheckoutStatusPending, OutcomePaid, models.CheckoutStatusPaid, true},
		{models.CheckoutStatusPending, OutcomeFailed, models.CheckoutStatusFailed, true},
		{models.CheckoutStatusPending, OutcomeExpired, models.CheckoutStatusExpired, true},
		{models.CheckoutStatusPending, OutcomeChargeback, models.CheckoutStatusChargeback, true},
		{models.CheckoutStatusPaid, OutcomeChargeback, models.CheckoutStatusChargeback, true},
		// Terminal states never move except paid -> chargeback.
		{models.CheckoutStatusPaid, OutcomeFailed, "", false},
		{models.CheckoutStatusPaid, OutcomeExpired, "", false},
		{models.CheckoutStatusFailed, OutcomePaid, "", false},
		{models.CheckoutStatusExpired, OutcomePaid, "", false},
		{models.CheckoutStatusChargeback, OutcomePaid, "", false},
		{models.CheckoutStatusCanceled, OutcomePaid, "", false},
	}

	for _, tc := range tests {
		got, ok := NextCheckoutStatus(tc.current, tc.outcome)
		assert.Equal(t, tc.ok, ok, "%s + %s", tc.current, tc.outcome)
		assert.Equal(t, tc.want, got, "%s + %s", tc.current, tc.outcome)
	}
}

func transitionFixture(subStatus string, periodEnd *time.Time) (transitionContext, time.Time) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		ID:               1,
		OrganizationID:   1,
		Status:           subStatus,
		PlanCode:         PlanPro,
		CurrentPeriodEnd: periodEnd,
	}
	checkout := &models.CheckoutSession{
		ID:             10,
		OrganizationID: 1,
		SubscriptionID: 1,
		TargetPlanCode: PlanPro,
		BillingCycle:   models.BillingCycleMonthly,
	}
	return transitionContext{now: now, sub: sub, checkout: checkout, catalog: DefaultCatalog()}, now
}

func TestActivateOnPaymentFromTrial(t *testing.T) {
	c, now := transitionFixture(models.SubscriptionStatusTrialing, nil)
	c.sub.PlanCode = PlanFree
	c.sub.PendingPlanCode = PlanPro

	applySubscriptionOutcome(c, OutcomePaid)

	assert.Equal(t, models.SubscriptionStatusActive, c.sub.Status)
	assert.Equal(t, PlanPro, c.sub.PlanCode)
	assert.Equal(t, models.BillingCycleMonthly, c.sub.BillingCycle)
	assert.Equal(t, "", c.sub.PendingPlanCode)
	assert.Equal(t, now, *c.sub.CurrentPeriodStart)
	assert.Equal(t, now.AddDate(0, 0, 30), *c.sub.CurrentPeriodEnd)
}

func TestActivateOnPaymentChainsRenewalPeriods(t *testing.T) {
	periodEnd := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	c, _ := transitionFixture(models.SubscriptionStatusActive, &periodEnd)

	applySubscriptionOutcome(c, OutcomePaid)

	// Renewal paid before the period ends starts where the old one ends.
	assert.Equal(t, periodEnd, *c.sub.CurrentPeriodStart)
	assert.Equal(t, periodEnd.AddDate(0, 0, 30), *c.sub.CurrentPeriodEnd)
}

func TestActivateOnPaymentAfterPeriodEndStartsNow(t *testing.T) {
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c, now := transitionFixture(models.SubscriptionStatusActive, &periodEnd)

	applySubscriptionOutcome(c, OutcomePaid)

	assert.Equal(t, now, *c.sub.CurrentPeriodStart)
	assert.Equal(t, now.AddDate(0, 0, 30), *c.sub.CurrentPeriodEnd)
}

func TestChargebackForcesImmediateLapse(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c, now := transitionFixture(models.SubscriptionStatusActive, &periodEnd)
	c.sub.PendingPlanCode = PlanBusiness

	applySubscriptionOutcome(c, OutcomeChargeback)

	assert.Equal(t, models.SubscriptionStatusPastDue, c.sub.Status)
	assert.Equal(t, now, *c.sub.CurrentPeriodEnd)
	assert.Equal(t, "", c.sub.PendingPlanCode)
}

func TestExpiredDowngradeNeedsLapsingSubscription(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c, _ := transitionFixture(models.SubscriptionStatusActive, &periodEnd)
	c.sub.PendingPlanCode = PlanPro

	applySubscriptionOutcome(c, OutcomeExpired)

	// Still inside a valid paid period: only the matching intent is dropped.
	assert.Equal(t, models.SubscriptionStatusActive, c.sub.Status)
	assert.Equal(t, PlanPro, c.sub.PlanCode)
	assert.Equal(t, "", c.sub.PendingPlanCode)
}

func TestExpiredDowngradeSupersededByNewerIntent(t *testing.T) {
	c, _ := transitionFixture(models.SubscriptionStatusPastDue, nil)
	c.sub.PendingPlanCode = PlanBusiness
	c.checkout.TargetPlanCode = PlanPro

	applySubscriptionOutcome(c, OutcomeExpired)

	// A newer pending plan supersedes this checkout; nothing changes.
	assert.Equal(t, models.SubscriptionStatusPastDue, c.sub.Status)
	assert.Equal(t, PlanBusiness, c.sub.PendingPlanCode)
}

func TestExpiredDowngradeAppliesWhenLapsing(t *testing.T) {
	c, _ := transitionFixture(models.SubscriptionStatusPastDue, nil)

	applySubscriptionOutcome(c, OutcomeExpired)

	assert.Equal(t, models.SubscriptionStatusExpired, c.sub.Status)
	assert.Equal(t, PlanFree, c.sub.PlanCode)
}

func TestFailedOpensGraceWhenPaidPlanLapses(t *testing.T) {
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c, _ := transitionFixture(models.SubscriptionStatusActive, &periodEnd)

	applySubscriptionOutcome(c, OutcomeFailed)

	assert.Equal(t, models.SubscriptionStatusPastDue, c.sub.Status)
	// Grace is anchored to the missed period end, not the event time.
	assert.Equal(t, periodEnd, *c.sub.CurrentPeriodStart)
	assert.Equal(t, periodEnd.AddDate(0, 0, DefaultPastDueGraceDays), *c.sub.CurrentPeriodEnd)
}

func TestFailedDoesNotTouchHealthySubscription(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c, _ := transitionFixture(models.SubscriptionStatusActive, &periodEnd)
	c.sub.PendingPlanCode = PlanPro

	applySubscriptionOutcome(c, OutcomeFailed)

	assert.Equal(t, models.SubscriptionStatusActive, c.sub.Status)
	assert.Equal(t, periodEnd, *c.sub.CurrentPeriodEnd)
	assert.Equal(t, "", c.sub.PendingPlanCode)
}

func TestFailedDoesNotExtendOpenGraceWindow(t *testing.T) {
	graceEnd := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	c, _ := transitionFixture(models.SubscriptionStatusPastDue, &graceEnd)

	applySubscriptionOutcome(c, OutcomeFailed)

	// Repeated failures cannot keep pushing the downgrade out.
	assert.Equal(t, graceEnd, *c.sub.CurrentPeriodEnd)
}
