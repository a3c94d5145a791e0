package billing

import (
	"math"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
)

// DefaultPastDueGraceDays is how long paid features survive a failed
// renewal before the forced downgrade.
const DefaultPastDueGraceDays = 28

// dunningReminderCheckpoints are the elapsed-day marks at which a dunning
// reminder email becomes due.
var dunningReminderCheckpoints = []int{7, 14, 21}

// DunningInfo describes where a past_due subscription sits inside its grace
// window. The zero value means "not in dunning".
type DunningInfo struct {
	InGracePeriod         bool       `json:"in_grace_period"`
	GraceEndsAt           *time.Time `json:"grace_ends_at,omitempty"`
	DaysUntilDowngrade    int        `json:"days_until_downgrade"`
	ReminderCheckpointDay int        `json:"reminder_checkpoint_day"`
}

// ComputeDunning derives grace timing and the latest reached reminder
// checkpoint from a subscription. Deterministic and side-effect-free; the
// caller supplies now.
func ComputeDunning(sub *models.Subscription, now time.Time) DunningInfo {
	if sub == nil || sub.Status != models.SubscriptionStatusPastDue || sub.CurrentPeriodEnd == nil {
		return DunningInfo{}
	}

	graceEndsAt := *sub.CurrentPeriodEnd
	info := DunningInfo{
		InGracePeriod: graceEndsAt.After(now),
		GraceEndsAt:   &graceEndsAt,
	}

	if remaining := graceEndsAt.Sub(now); remaining > 0 {
		info.DaysUntilDowngrade = int(math.Ceil(remaining.Hours() / 24))
	}

	graceStart := graceEndsAt.AddDate(0, 0, -DefaultPastDueGraceDays)
	if sub.CurrentPeriodStart != nil {
		graceStart = *sub.CurrentPeriodStart
	}
	elapsedDays := int(now.Sub(graceStart).Hours() / 24)
	for _, checkpoint := range dunningReminderCheckpoints {
		if elapsedDays >= checkpoint {
			info.ReminderCheckpointDay = checkpoint
		}
	}
	return info
}
