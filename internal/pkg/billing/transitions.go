package billing

import (
	"time"

	"github.com/squadbasehq/squadbase/app/models"
)

// checkoutTransitions is the explicit (current status, outcome) -> next
// status table. Anything not listed is not a legal transition; the one
// terminal-to-terminal edge is paid -> chargeback.
type checkoutTransitionKey struct {
	status  string
	outcome Outcome
}

var checkoutTransitions = map[checkoutTransitionKey]string{
	{models.CheckoutStatusPending, OutcomePaid}:       models.CheckoutStatusPaid,
	{models.CheckoutStatusPending, OutcomeFailed}:     models.CheckoutStatusFailed,
	{models.CheckoutStatusPending, OutcomeExpired}:    models.CheckoutStatusExpired,
	{models.CheckoutStatusPending, OutcomeChargeback}: models.CheckoutStatusChargeback,
	{models.CheckoutStatusPaid, OutcomeChargeback}:    models.CheckoutStatusChargeback,
}

// NextCheckoutStatus resolves the transition table.
func NextCheckoutStatus(current string, outcome Outcome) (string, bool) {
	next, ok := checkoutTransitions[checkoutTransitionKey{status: current, outcome: outcome}]
	return next, ok
}

// transitionContext carries everything a subscription transition guard or
// apply step may inspect.
type transitionContext struct {
	now      time.Time
	sub      *models.Subscription
	checkout *models.CheckoutSession
	catalog  Catalog
}

// subscriptionRule pairs a guard predicate with the transition it allows.
// When the guard rejects, only a pending plan change matching the checkout
// is cleared; the subscription itself is left alone.
type subscriptionRule struct {
	guard func(c transitionContext) bool
	apply func(c transitionContext)
}

var subscriptionRules = map[Outcome]subscriptionRule{
	OutcomePaid:       {guard: alwaysApplies, apply: activateOnPayment},
	OutcomeChargeback: {guard: alwaysApplies, apply: chargebackDowngrade},
	OutcomeExpired:    {guard: expiredDowngradeApplies, apply: expireToFree},
	OutcomeFailed:     {guard: failedGraceApplies, apply: openOrExtendGrace},
}

// applySubscriptionOutcome mutates the subscription for one classified
// outcome. Persistence is the caller's job.
func applySubscriptionOutcome(c transitionContext, outcome Outcome) {
	rule, ok := subscriptionRules[outcome]
	if !ok {
		return
	}
	if rule.guard(c) {
		rule.apply(c)
		return
	}
	clearMatchingPendingPlan(c)
}

func alwaysApplies(transitionContext) bool { return true }

// isLapsing reports whether the subscription no longer has a valid paid
// period: an active period that has ended, or an open dunning window.
func isLapsing(sub *models.Subscription, now time.Time) bool {
	switch sub.Status {
	case models.SubscriptionStatusActive:
		return sub.PeriodEndedBefore(now)
	case models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// expiredDowngradeApplies allows the downgrade only when the subscription
// was already lapsing and no newer pending plan change superseded this
// checkout. An expired checkout for an upgrade attempt must not kill a
// still-valid subscription.
func expiredDowngradeApplies(c transitionContext) bool {
	if !isLapsing(c.sub, c.now) {
		return false
	}
	pending := c.sub.PendingPlanCode
	return pending == "" || pending == c.checkout.TargetPlanCode
}

// failedGraceApplies opens dunning only for paying plans that are lapsing;
// a failed upgrade attempt on a healthy subscription just drops the intent.
func failedGraceApplies(c transitionContext) bool {
	plan, _ := c.catalog.Get(c.sub.PlanCode)
	return plan.IsPaid() && isLapsing(c.sub, c.now)
}

func clearMatchingPendingPlan(c transitionContext) {
	if c.sub.PendingPlanCode != "" && c.sub.PendingPlanCode == c.checkout.TargetPlanCode {
		c.sub.PendingPlanCode = ""
	}
}

// activateOnPayment moves the subscription to active on the checkout's
// target plan. Renewal periods chain back-to-back: when the current paid
// period is still valid the new one starts where it ends, so a timely
// renewal never gaps coverage.
func activateOnPayment(c transitionContext) {
	start := c.now
	if c.sub.Status == models.SubscriptionStatusActive &&
		c.sub.CurrentPeriodEnd != nil && c.sub.CurrentPeriodEnd.After(c.now) {
		start = *c.sub.CurrentPeriodEnd
	}
	end := start.AddDate(0, 0, BillingPeriodDays(c.checkout.BillingCycle))

	c.sub.Status = models.SubscriptionStatusActive
	c.sub.PlanCode = c.checkout.TargetPlanCode
	c.sub.BillingCycle = c.checkout.BillingCycle
	c.sub.CurrentPeriodStart = &start
	c.sub.CurrentPeriodEnd = &end
	c.sub.CancelAtPeriodEnd = false
	c.sub.CanceledAt = nil
	clearMatchingPendingPlan(c)
}

// chargebackDowngrade forces the subscription out of its paid state with a
// zero-length grace window, so the next entitlement read resolves free.
func chargebackDowngrade(c transitionContext) {
	now := c.now
	c.sub.Status = models.SubscriptionStatusPastDue
	c.sub.CurrentPeriodEnd = &now
	c.sub.PendingPlanCode = ""
}

func expireToFree(c transitionContext) {
	c.sub.Status = models.SubscriptionStatusExpired
	c.sub.PlanCode = PlanFree
	c.sub.PendingPlanCode = ""
}

// openOrExtendGrace enters dunning, or leaves an already-open grace window
// untouched so repeated failures cannot keep pushing the downgrade out.
func openOrExtendGrace(c transitionContext) {
	if c.sub.Status == models.SubscriptionStatusPastDue &&
		c.sub.CurrentPeriodEnd != nil && c.sub.CurrentPeriodEnd.After(c.now) {
		clearMatchingPendingPlan(c)
		return
	}

	graceStart := c.now
	if c.sub.CurrentPeriodEnd != nil && c.sub.CurrentPeriodEnd.Before(c.now) {
		graceStart = *c.sub.CurrentPeriodEnd
	}
	graceEnd := graceStart.AddDate(0, 0, DefaultPastDueGraceDays)

	c.sub.Status = models.SubscriptionStatusPastDue
	c.sub.CurrentPeriodStart = &graceStart
	c.sub.CurrentPeriodEnd = &graceEnd
	clearMatchingPendingPlan(c)
}
