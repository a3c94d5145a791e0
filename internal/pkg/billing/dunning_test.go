package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/squadbasehq/squadbase/app/models"
)

func pastDueSubscription(graceStart time.Time) *models.Subscription {
	graceEnd := graceStart.AddDate(0, 0, DefaultPastDueGraceDays)
	return &models.Subscription{
		Status:             models.SubscriptionStatusPastDue,
		PlanCode:           PlanPro,
		CurrentPeriodStart: &graceStart,
		CurrentPeriodEnd:   &graceEnd,
	}
}

func TestComputeDunningZeroValueOutsideDunning(t *testing.T) {
	now := time.Now()

	assert.Equal(t, DunningInfo{}, ComputeDunning(nil, now))
	assert.Equal(t, DunningInfo{}, ComputeDunning(&models.Subscription{Status: models.SubscriptionStatusActive}, now))
	assert.Equal(t, DunningInfo{}, ComputeDunning(&models.Subscription{Status: models.SubscriptionStatusPastDue}, now))
}

func TestComputeDunningMidGrace(t *testing.T) {
	graceStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := pastDueSubscription(graceStart)

	// 20 days in: 8 of 28 grace days left, the 14-day reminder is the
	// latest one reached.
	now := graceStart.AddDate(0, 0, 20)
	info := ComputeDunning(sub, now)

	assert.True(t, info.InGracePeriod)
	assert.Equal(t, 8, info.DaysUntilDowngrade)
	assert.Equal(t, 14, info.ReminderCheckpointDay)
	assert.Equal(t, graceStart.AddDate(0, 0, 28), *info.GraceEndsAt)
}

func TestComputeDunningCheckpointProgression(t *testing.T) {
	graceStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := pastDueSubscription(graceStart)

	tests := []struct {
		day        int
		checkpoint int
	}{
		{0, 0},
		{6, 0},
		{7, 7},
		{13, 7},
		{14, 14},
		{21, 21},
		{27, 21},
	}
	for _, tc := range tests {
		info := ComputeDunning(sub, graceStart.AddDate(0, 0, tc.day))
		assert.Equal(t, tc.checkpoint, info.ReminderCheckpointDay, "day %d", tc.day)
		assert.True(t, info.InGracePeriod, "day %d", tc.day)
	}
}

func TestComputeDunningAfterGraceEnds(t *testing.T) {
	graceStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := pastDueSubscription(graceStart)

	info := ComputeDunning(sub, graceStart.AddDate(0, 0, 30))

	assert.False(t, info.InGracePeriod)
	assert.Equal(t, 0, info.DaysUntilDowngrade)
}

func TestComputeDunningPartialDayRoundsUp(t *testing.T) {
	graceStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := pastDueSubscription(graceStart)

	// 27 days and 1 hour in: 23 hours remain, still "1 day" until
	// downgrade.
	now := graceStart.AddDate(0, 0, 27).Add(time.Hour)
	info := ComputeDunning(sub, now)

	assert.Equal(t, 1, info.DaysUntilDowngrade)
}
