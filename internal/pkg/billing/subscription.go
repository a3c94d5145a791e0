package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
)

// EnsureSubscription returns the organization's subscription row, creating
// it on first access. New organizations start a single 14-day trial on the
// default paid tier; trial_used_at is set at creation and never cleared, so
// a trial is never granted twice.
//
// Concurrent first reads may race on the insert; the loser falls back to
// re-reading the winner's row, which is the same resulting state.
func EnsureSubscription(repo Repository, orgID uint, now time.Time) (*models.Subscription, error) {
	sub, err := repo.GetSubscriptionByOrganization(orgID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load subscription for org %d: %w", orgID, err)
	}

	trialStart := now
	trialEnd := now.AddDate(0, 0, DefaultTrialDays)
	sub = &models.Subscription{
		OrganizationID: orgID,
		Status:         models.SubscriptionStatusTrialing,
		PlanCode:       PlanFree,
		TrialPlanCode:  DefaultTrialPlanCode,
		TrialStartedAt: &trialStart,
		TrialEndsAt:    &trialEnd,
		TrialUsedAt:    &trialStart,
	}
	if err := repo.CreateSubscription(sub); err != nil {
		// Lost a concurrent create; the unique organization index
		// guarantees the other row is equivalent.
		if existing, readErr := repo.GetSubscriptionByOrganization(orgID); readErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create subscription for org %d: %w", orgID, err)
	}
	return sub, nil
}
