package entitlements

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadbasehq/squadbase/app/models"
	"github.com/squadbasehq/squadbase/internal/pkg/billing"
)

func freePlanFixture(t *testing.T) (*billing.MemoryRepository, *Resolver) {
	t.Helper()
	repo, r := resolverFixture(t)
	seedSubscription(t, repo, func(sub *models.Subscription) {
		sub.Status = models.SubscriptionStatusExpired
		sub.PlanCode = billing.PlanFree
	})
	return repo, r
}

func TestAssertCanCreateInvitationAtSeatLimit(t *testing.T) {
	repo, r := freePlanFixture(t)
	repo.Members = append(repo.Members,
		&models.OrganizationMember{OrganizationID: 1, UserEmail: "owner@acme.test"})

	err := r.AssertCanCreateInvitation(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	assert.Equal(t, "users limit exceeded: 1/1", err.Error())
}

func TestAssertCanCreateInvitationCountsPendingSeats(t *testing.T) {
	repo, r := freePlanFixture(t)
	// No members yet, but an outstanding invitation holds the only seat.
	repo.Invitations = append(repo.Invitations,
		&models.Invitation{OrganizationID: 1, Email: "x@acme.test", Status: models.InvitationStatusPending})

	err := r.AssertCanCreateInvitation(context.Background(), 1)
	assert.True(t, IsLimitExceeded(err))
}

func TestUpgradeLiftsSeatLimit(t *testing.T) {
	repo, r := freePlanFixture(t)
	repo.Members = append(repo.Members,
		&models.OrganizationMember{OrganizationID: 1, UserEmail: "owner@acme.test"})

	require.True(t, IsLimitExceeded(r.AssertCanCreateInvitation(context.Background(), 1)))

	sub, err := repo.GetSubscriptionByOrganization(1)
	require.NoError(t, err)
	end := entNow.AddDate(0, 0, 20)
	sub.Status = models.SubscriptionStatusActive
	sub.PlanCode = billing.PlanPro
	sub.CurrentPeriodEnd = &end
	require.NoError(t, repo.SaveSubscription(sub))

	assert.NoError(t, r.AssertCanCreateInvitation(context.Background(), 1))
}

func TestAssertCanAddMemberIgnoresInvitations(t *testing.T) {
	repo, r := freePlanFixture(t)
	// The accepting member's own invitation must not block acceptance.
	repo.Invitations = append(repo.Invitations,
		&models.Invitation{OrganizationID: 1, Email: "x@acme.test", Status: models.InvitationStatusPending})

	assert.NoError(t, r.AssertCanAddMember(context.Background(), 1))

	repo.Members = append(repo.Members,
		&models.OrganizationMember{OrganizationID: 1, UserEmail: "x@acme.test"})
	assert.True(t, IsLimitExceeded(r.AssertCanAddMember(context.Background(), 1)))
}

func TestAssertCanCreateProject(t *testing.T) {
	repo, r := freePlanFixture(t)
	for i := 0; i < 3; i++ {
		repo.Projects = append(repo.Projects, &models.Project{OrganizationID: 1, Name: "p"})
	}

	err := r.AssertCanCreateProject(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, "projects limit exceeded: 3/3", err.Error())
}

func TestConsumeMonthlyUsage(t *testing.T) {
	repo, r := freePlanFixture(t)

	require.NoError(t, r.ConsumeMonthlyUsage(context.Background(), 1, 99))

	used, err := repo.GetMonthlyUsage(1, MetricAPIRequests, models.UsagePeriod(entNow))
	require.NoError(t, err)
	assert.Equal(t, int64(99), used)

	// One more unit fits the free quota of 100 exactly; the next does not.
	require.NoError(t, r.ConsumeMonthlyUsage(context.Background(), 1, 1))
	err = r.ConsumeMonthlyUsage(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, "api_requests limit exceeded: 100/100", err.Error())
}

func TestMonthlyUsageResetsPerPeriod(t *testing.T) {
	repo, r := freePlanFixture(t)
	lastMonth := models.UsagePeriod(entNow.AddDate(0, -1, 0))
	require.NoError(t, repo.IncrementMonthlyUsage(1, MetricAPIRequests, lastMonth, 100))

	// Last month's exhausted quota does not carry into the current period.
	assert.NoError(t, r.AssertCanConsumeMonthlyUsage(context.Background(), 1, 1))
}

func TestUnlimitedPlanSkipsChecks(t *testing.T) {
	repo, r := resolverFixture(t)
	end := entNow.AddDate(0, 0, 20)
	seedSubscription(t, repo, func(sub *models.Subscription) {
		sub.Status = models.SubscriptionStatusActive
		sub.PlanCode = billing.PlanBusiness
		sub.CurrentPeriodEnd = &end
	})

	for i := 0; i < 100; i++ {
		repo.Members = append(repo.Members,
			&models.OrganizationMember{OrganizationID: 1, UserEmail: "m@acme.test"})
	}

	assert.NoError(t, r.AssertCanCreateInvitation(context.Background(), 1))
	assert.NoError(t, r.AssertCanCreateProject(context.Background(), 1))
	assert.NoError(t, r.AssertCanConsumeMonthlyUsage(context.Background(), 1, 1_000_000))
}
