package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
	"github.com/squadbasehq/squadbase/internal/pkg/billing"
	"github.com/squadbasehq/squadbase/internal/pkg/cache"
)

// Limits are the effective plan limits; nil means unlimited.
type Limits struct {
	MaxUsers     *int   `json:"max_users"`
	MaxProjects  *int   `json:"max_projects"`
	MonthlyQuota *int64 `json:"monthly_quota"`
}

// Usage is the current consumption counted against the limits.
type Usage struct {
	Members            int64  `json:"members"`
	PendingInvitations int64  `json:"pending_invitations"`
	Projects           int64  `json:"projects"`
	MonthlyUsed        int64  `json:"monthly_used"`
	Period             string `json:"period"`
}

// Restriction flags an organization whose current usage exceeds what its
// effective plan allows, typically after a downgrade.
type Restriction struct {
	Resource string `json:"resource"`
	Used     int64  `json:"used"`
	Limit    int64  `json:"limit"`
}

// Snapshot is the full entitlement view for one organization.
type Snapshot struct {
	OrganizationID     uint                 `json:"organization_id"`
	PlanCode           string               `json:"plan_code"`
	SubscriptionStatus string               `json:"subscription_status"`
	BillingCycle       string               `json:"billing_cycle,omitempty"`
	TrialEndsAt        *time.Time           `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd   *time.Time           `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                 `json:"cancel_at_period_end"`
	PendingPlanCode    string               `json:"pending_plan_code,omitempty"`
	Features           []string             `json:"features"`
	Limits             Limits               `json:"limits"`
	Usage              Usage                `json:"usage"`
	Dunning            *billing.DunningInfo `json:"dunning,omitempty"`
	Restriction        *Restriction         `json:"restriction,omitempty"`
}

// Resolver computes entitlement snapshots from the subscription state,
// advancing time-driven lapses on read so no background sweeper is needed.
type Resolver struct {
	repo    billing.Repository
	catalog billing.Catalog

	// cacheGet/cacheSet are nil when caching is disabled (tests).
	cacheGet func(key string) (string, error)
	cacheSet func(key string, value interface{}, ttl time.Duration) error

	now func() time.Time
}

// NewResolver builds a resolver without snapshot caching.
func NewResolver(repo billing.Repository, catalog billing.Catalog) *Resolver {
	return &Resolver{repo: repo, catalog: catalog, now: time.Now}
}

// NewCachedResolver builds a resolver that serves snapshots from the Redis
// cache when fresh.
func NewCachedResolver(repo billing.Repository, catalog billing.Catalog) *Resolver {
	r := NewResolver(repo, catalog)
	r.cacheGet = cache.Get
	r.cacheSet = cache.Set
	return r
}

// GetOwnerEntitlements returns the organization's current entitlement
// snapshot. Lapsed trial and billing periods are materialized first, so
// the snapshot always reflects wall-clock state.
func (r *Resolver) GetOwnerEntitlements(ctx context.Context, orgID uint) (*Snapshot, error) {
	if r.cacheGet != nil {
		if raw, err := r.cacheGet(cache.EntitlementKey(orgID)); err == nil && raw != "" {
			var snap Snapshot
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				return &snap, nil
			}
		}
	}

	now := r.now()
	sub, _, err := r.currentSubscription(orgID, now)
	if err != nil {
		return nil, err
	}

	plan := r.effectivePlan(sub)
	snap := &Snapshot{
		OrganizationID:     orgID,
		PlanCode:           plan.Code,
		SubscriptionStatus: sub.Status,
		BillingCycle:       sub.BillingCycle,
		TrialEndsAt:        sub.TrialEndsAt,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PendingPlanCode:    sub.PendingPlanCode,
		Features:           plan.Features,
		Limits: Limits{
			MaxUsers:     plan.MaxUsers,
			MaxProjects:  plan.MaxProjects,
			MonthlyQuota: plan.MonthlyQuota,
		},
	}
	if snap.Features == nil {
		snap.Features = []string{}
	}

	if err := r.fillUsage(orgID, now, snap); err != nil {
		return nil, err
	}

	if dunning := billing.ComputeDunning(sub, now); dunning.InGracePeriod {
		snap.Dunning = &dunning
	}
	snap.Restriction = seatRestriction(plan, snap.Usage)

	if r.cacheSet != nil {
		if payload, err := json.Marshal(snap); err == nil {
			if err := r.cacheSet(cache.EntitlementKey(orgID), string(payload), cache.EntitlementCacheTTL); err != nil {
				log.Printf("Failed to cache entitlements for org %d: %v", orgID, err)
			}
		}
	}
	return snap, nil
}

// EffectivePlan resolves the plan whose limits and features currently
// apply to the organization, advancing lapsed state first.
func (r *Resolver) EffectivePlan(ctx context.Context, orgID uint) (billing.PlanDefinition, error) {
	_, plan, err := r.currentSubscription(orgID, r.now())
	return plan, err
}

// currentSubscription loads (or lazily creates) the subscription and
// applies any overdue time-driven transitions, persisting the result.
func (r *Resolver) currentSubscription(orgID uint, now time.Time) (*models.Subscription, billing.PlanDefinition, error) {
	sub, err := billing.EnsureSubscription(r.repo, orgID, now)
	if err != nil {
		return nil, billing.PlanDefinition{}, err
	}
	if advanceLapses(sub, now) {
		if err := r.repo.SaveSubscription(sub); err != nil {
			return nil, billing.PlanDefinition{}, fmt.Errorf("persist lapsed subscription state: %w", err)
		}
	}
	plan := r.effectivePlan(sub)
	return sub, plan, nil
}

// advanceLapses walks the subscription forward through every transition
// its timestamps already imply. Loops because a long-idle organization can
// cross multiple boundaries at once (period end, then grace end).
func advanceLapses(sub *models.Subscription, now time.Time) bool {
	changed := false
	for i := 0; i < 4; i++ {
		switch {
		case sub.Status == models.SubscriptionStatusTrialing && sub.TrialEndedBefore(now):
			sub.Status = models.SubscriptionStatusExpired
			sub.PlanCode = billing.PlanFree
			changed = true

		case sub.Status == models.SubscriptionStatusActive && sub.PeriodEndedBefore(now):
			// A nil period end counts as already ended; anchor its
			// transitions at now instead of dereferencing it.
			periodEnd := now
			if sub.CurrentPeriodEnd != nil {
				periodEnd = *sub.CurrentPeriodEnd
			}
			if sub.CancelAtPeriodEnd {
				sub.Status = models.SubscriptionStatusCanceled
				sub.PlanCode = billing.PlanFree
				sub.CanceledAt = &periodEnd
				sub.CancelAtPeriodEnd = false
			} else {
				// Grace window opens where the paid period closed, so the
				// dunning clock is anchored to the missed renewal.
				graceStart := periodEnd
				graceEnd := graceStart.Add(time.Duration(billing.DefaultPastDueGraceDays) * 24 * time.Hour)
				sub.Status = models.SubscriptionStatusPastDue
				sub.CurrentPeriodStart = &graceStart
				sub.CurrentPeriodEnd = &graceEnd
			}
			changed = true

		case sub.Status == models.SubscriptionStatusPastDue && sub.PeriodEndedBefore(now):
			sub.Status = models.SubscriptionStatusExpired
			sub.PlanCode = billing.PlanFree
			sub.PendingPlanCode = ""
			changed = true

		default:
			return changed
		}
	}
	return changed
}

// effectivePlan maps subscription state to the plan whose limits apply.
// Past-due keeps the paid plan for the whole grace window.
func (r *Resolver) effectivePlan(sub *models.Subscription) billing.PlanDefinition {
	switch sub.Status {
	case models.SubscriptionStatusTrialing:
		if plan, ok := r.catalog.Get(sub.TrialPlanCode); ok {
			return plan
		}
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		if plan, ok := r.catalog.Get(sub.PlanCode); ok {
			return plan
		}
	}
	plan, _ := r.catalog.Get(billing.PlanFree)
	return plan
}

func (r *Resolver) fillUsage(orgID uint, now time.Time, snap *Snapshot) error {
	members, err := r.repo.CountMembers(orgID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	invitations, err := r.repo.CountPendingInvitations(orgID)
	if err != nil {
		return fmt.Errorf("count pending invitations: %w", err)
	}
	projects, err := r.repo.CountProjects(orgID)
	if err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	period := models.UsagePeriod(now)
	used, err := r.repo.GetMonthlyUsage(orgID, MetricAPIRequests, period)
	if err != nil {
		return fmt.Errorf("read monthly usage: %w", err)
	}

	snap.Usage = Usage{
		Members:            members,
		PendingInvitations: invitations,
		Projects:           projects,
		MonthlyUsed:        used,
		Period:             period,
	}
	return nil
}

// seatRestriction reports when occupied seats (members plus outstanding
// invitations) exceed the effective plan's seat limit.
func seatRestriction(plan billing.PlanDefinition, usage Usage) *Restriction {
	if plan.MaxUsers == nil {
		return nil
	}
	seats := usage.Members + usage.PendingInvitations
	if seats <= int64(*plan.MaxUsers) {
		return nil
	}
	return &Restriction{
		Resource: "users",
		Used:     seats,
		Limit:    int64(*plan.MaxUsers),
	}
}
