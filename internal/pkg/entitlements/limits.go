package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/squadbasehq/squadbase/app/models"
)

// MetricAPIRequests is the metered resource counted against the plan's
// monthly quota.
const MetricAPIRequests = "api_requests"

// LimitExceededError is returned when an action would push usage past the
// effective plan's limit. It carries the counts so callers can render an
// exact message.
type LimitExceededError struct {
	Resource string
	Used     int64
	Limit    int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d/%d", e.Resource, e.Used, e.Limit)
}

// IsLimitExceeded reports whether err is a limit violation.
func IsLimitExceeded(err error) bool {
	var lee *LimitExceededError
	return errors.As(err, &lee)
}

// AssertCanCreateInvitation fails when all seats are occupied. Pending
// invitations hold a seat so an organization cannot over-invite.
func (r *Resolver) AssertCanCreateInvitation(ctx context.Context, orgID uint) error {
	return r.assertSeatAvailable(orgID)
}

// AssertCanAddMember fails when accepting a member would exceed the seat
// limit. The member's own pending invitation already holds the seat, so
// only members are counted here.
func (r *Resolver) AssertCanAddMember(ctx context.Context, orgID uint) error {
	now := r.now()
	_, plan, err := r.currentSubscription(orgID, now)
	if err != nil {
		return err
	}
	if plan.MaxUsers == nil {
		return nil
	}
	members, err := r.repo.CountMembers(orgID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if members >= int64(*plan.MaxUsers) {
		return &LimitExceededError{Resource: "users", Used: members, Limit: int64(*plan.MaxUsers)}
	}
	return nil
}

func (r *Resolver) assertSeatAvailable(orgID uint) error {
	now := r.now()
	_, plan, err := r.currentSubscription(orgID, now)
	if err != nil {
		return err
	}
	if plan.MaxUsers == nil {
		return nil
	}
	members, err := r.repo.CountMembers(orgID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	invitations, err := r.repo.CountPendingInvitations(orgID)
	if err != nil {
		return fmt.Errorf("count pending invitations: %w", err)
	}
	seats := members + invitations
	if seats >= int64(*plan.MaxUsers) {
		return &LimitExceededError{Resource: "users", Used: seats, Limit: int64(*plan.MaxUsers)}
	}
	return nil
}

// AssertCanCreateProject fails when the organization already holds as many
// projects as its effective plan allows.
func (r *Resolver) AssertCanCreateProject(ctx context.Context, orgID uint) error {
	now := r.now()
	_, plan, err := r.currentSubscription(orgID, now)
	if err != nil {
		return err
	}
	if plan.MaxProjects == nil {
		return nil
	}
	projects, err := r.repo.CountProjects(orgID)
	if err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	if projects >= int64(*plan.MaxProjects) {
		return &LimitExceededError{Resource: "projects", Used: projects, Limit: int64(*plan.MaxProjects)}
	}
	return nil
}

// AssertCanConsumeMonthlyUsage fails when adding delta units would exceed
// the plan's monthly quota for the current calendar month.
func (r *Resolver) AssertCanConsumeMonthlyUsage(ctx context.Context, orgID uint, delta int64) error {
	now := r.now()
	_, plan, err := r.currentSubscription(orgID, now)
	if err != nil {
		return err
	}
	if plan.MonthlyQuota == nil {
		return nil
	}
	used, err := r.repo.GetMonthlyUsage(orgID, MetricAPIRequests, models.UsagePeriod(now))
	if err != nil {
		return fmt.Errorf("read monthly usage: %w", err)
	}
	if used+delta > *plan.MonthlyQuota {
		return &LimitExceededError{Resource: MetricAPIRequests, Used: used, Limit: *plan.MonthlyQuota}
	}
	return nil
}

// ConsumeMonthlyUsage checks the quota and records delta units against the
// current month in one call.
func (r *Resolver) ConsumeMonthlyUsage(ctx context.Context, orgID uint, delta int64) error {
	if err := r.AssertCanConsumeMonthlyUsage(ctx, orgID, delta); err != nil {
		return err
	}
	return r.repo.IncrementMonthlyUsage(orgID, MetricAPIRequests, models.UsagePeriod(r.now()), delta)
}
