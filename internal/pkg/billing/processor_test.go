package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadbasehq/squadbase/app/models"
)

type recordingNotifier struct {
	approved []string
	dunning  []string
}

func (n *recordingNotifier) SendPaymentApprovedEmail(org *models.Organization, planCode string) {
	n.approved = append(n.approved, planCode)
}

func (n *recordingNotifier) SendPaymentFailedDunningEmail(org *models.Organization, planCode string) {
	n.dunning = append(n.dunning, planCode)
}

var processorNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func processorFixture(t *testing.T) (*MemoryRepository, *Processor, *recordingNotifier) {
	t.Helper()

	repo := NewMemoryRepository()
	repo.Organizations[1] = &models.Organization{ID: 1, Name: "Acme", OwnerEmail: "owner@acme.test"}

	sub, err := EnsureSubscription(repo, 1, processorNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	sub.PendingPlanCode = PlanPro
	require.NoError(t, repo.SaveSubscription(sub))

	checkout := &models.CheckoutSession{
		OrganizationID:     1,
		SubscriptionID:     sub.ID,
		TargetPlanCode:     PlanPro,
		BillingCycle:       models.BillingCycleMonthly,
		AmountCents:        4990,
		Currency:           "BRL",
		ProviderExternalID: "chk-1",
		Status:             models.CheckoutStatusPending,
		CreatedAt:          processorNow.Add(-time.Minute),
	}
	require.NoError(t, repo.CreateCheckoutSession(checkout))

	notifier := &recordingNotifier{}
	p := NewProcessor(repo, DefaultCatalog(), notifier, nil)
	p.now = func() time.Time { return processorNow }
	return repo, p, notifier
}

func webhookPayload(eventID, eventType, billingID, externalID string, amount int64, transactionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event": %q,
		"data": {
			"billing": {"id": %q, "status": "", "amount": %d, "products": [{"externalId": %q}]},
			"payment": {"amount": %d, "currency": "BRL", "transactionId": %q}
		}
	}`, eventID, eventType, billingID, amount, externalID, amount, transactionID))
}

func singleCheckout(t *testing.T, repo *MemoryRepository) *models.CheckoutSession {
	t.Helper()
	for _, co := range repo.Checkouts {
		return co
	}
	t.Fatal("no checkout in repository")
	return nil
}

func TestProcessWebhookPaidActivatesSubscription(t *testing.T) {
	repo, p, notifier := processorFixture(t)

	result, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.False(t, result.Duplicate)

	checkout := singleCheckout(t, repo)
	assert.Equal(t, models.CheckoutStatusPaid, checkout.Status)
	assert.Equal(t, "bill_1", checkout.ProviderBillingID)
	require.NotNil(t, checkout.PaidAt)

	inv, ok := repo.Invoices["bill_1"]
	require.True(t, ok)
	assert.Equal(t, string(OutcomePaid), inv.Status)
	assert.Equal(t, "txn_1", inv.ProviderTransactionID)

	sub, err := repo.GetSubscriptionByOrganization(1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, PlanPro, sub.PlanCode)
	assert.Equal(t, "", sub.PendingPlanCode)
	assert.Equal(t, processorNow.AddDate(0, 0, 30), *sub.CurrentPeriodEnd)

	assert.Equal(t, []string{PlanPro}, notifier.approved)
	assert.Empty(t, notifier.dunning)
}

func TestProcessWebhookDuplicateDelivery(t *testing.T) {
	repo, p, notifier := processorFixture(t)
	raw := webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1")

	_, err := p.ProcessWebhook(context.Background(), raw)
	require.NoError(t, err)

	result, err := p.ProcessWebhook(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	assert.Len(t, repo.Invoices, 1)
	assert.Len(t, notifier.approved, 1)
}

func TestProcessWebhookUnrecognizedEventIgnored(t *testing.T) {
	repo, p, _ := processorFixture(t)

	result, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "customer.created", "bill_1", "chk-1", 0, ""))
	require.NoError(t, err)
	assert.True(t, result.Processed)

	event := repo.WebhookEvents["evt_1"]
	require.NotNil(t, event)
	assert.Equal(t, models.WebhookStatusIgnored, event.Status)
	assert.Equal(t, models.CheckoutStatusPending, singleCheckout(t, repo).Status)
}

func TestProcessWebhookUnknownBillingIgnored(t *testing.T) {
	repo, p, _ := processorFixture(t)

	result, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_other", "chk-other", 4990, "txn_1"))
	require.NoError(t, err)
	assert.True(t, result.Processed)

	event := repo.WebhookEvents["evt_1"]
	require.NotNil(t, event)
	assert.Equal(t, models.WebhookStatusIgnored, event.Status)
	assert.Empty(t, repo.Invoices)
}

func TestProcessWebhookMalformedPayload(t *testing.T) {
	_, p, _ := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(), []byte(`{"event":"billing.paid"}`))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestProcessWebhookAmountMismatchAborts(t *testing.T) {
	repo, p, notifier := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 100, "txn_1"))
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	assert.Equal(t, models.CheckoutStatusPending, singleCheckout(t, repo).Status)
	assert.Equal(t, models.WebhookStatusFailed, repo.WebhookEvents["evt_1"].Status)
	assert.Empty(t, repo.Invoices)
	assert.Empty(t, notifier.approved)

	sub, err := repo.GetSubscriptionByOrganization(1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
}

func TestProcessWebhookReplayedPaymentRefreshesInvoice(t *testing.T) {
	repo, p, notifier := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	firstEnd := mustSubscription(t, repo).CurrentPeriodEnd

	// Same payment delivered again under a fresh event id.
	result, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_2", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	assert.True(t, result.Processed)

	assert.Len(t, repo.Invoices, 1)
	assert.Equal(t, firstEnd, mustSubscription(t, repo).CurrentPeriodEnd)
	assert.Len(t, notifier.approved, 1)
}

func TestProcessWebhookPaidWithoutTransactionIDIsReplay(t *testing.T) {
	repo, p, _ := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	firstEnd := mustSubscription(t, repo).CurrentPeriodEnd

	// A later paid event with no transaction id (status polls, sparse
	// provider payloads) cannot open a new cycle; only a fresh
	// transaction id does.
	_, err = p.ProcessWebhook(context.Background(),
		webhookPayload("evt_2", "billing.paid", "bill_1", "chk-1", 4990, ""))
	require.NoError(t, err)

	require.Len(t, repo.Invoices, 1)
	inv, ok := repo.Invoices["bill_1"]
	require.True(t, ok)
	assert.Equal(t, "txn_1", inv.ProviderTransactionID)
	assert.Equal(t, firstEnd, mustSubscription(t, repo).CurrentPeriodEnd)
}

func TestProcessWebhookRecurringRenewalChainsPeriod(t *testing.T) {
	repo, p, notifier := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	firstEnd := *mustSubscription(t, repo).CurrentPeriodEnd

	// Next cycle of the same recurring billing: new event id, new
	// transaction id.
	_, err = p.ProcessWebhook(context.Background(),
		webhookPayload("evt_2", "billing.paid", "bill_1", "chk-1", 4990, "txn_2"))
	require.NoError(t, err)

	require.Len(t, repo.Invoices, 2)
	renewal, ok := repo.Invoices["bill_1:evt_2"]
	require.True(t, ok)
	assert.Equal(t, "txn_2", renewal.ProviderTransactionID)

	sub := mustSubscription(t, repo)
	// Renewal arrived before the period lapsed, so coverage chains
	// back-to-back from the previous end.
	assert.Equal(t, firstEnd, *sub.CurrentPeriodStart)
	assert.Equal(t, firstEnd.AddDate(0, 0, 30), *sub.CurrentPeriodEnd)
	assert.Len(t, notifier.approved, 2)
}

func TestProcessWebhookChargebackAfterPaid(t *testing.T) {
	repo, p, _ := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)

	_, err = p.ProcessWebhook(context.Background(),
		webhookPayload("evt_2", "billing.refunded", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)

	assert.Equal(t, models.CheckoutStatusChargeback, singleCheckout(t, repo).Status)

	sub := mustSubscription(t, repo)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	// Zero-length grace: the downgrade takes effect on the next read.
	assert.Equal(t, processorNow, *sub.CurrentPeriodEnd)
}

func TestProcessWebhookTerminalStatusImmutable(t *testing.T) {
	repo, p, _ := processorFixture(t)

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.failed", "bill_1", "chk-1", 0, ""))
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFailed, singleCheckout(t, repo).Status)

	// A late paid event must not resurrect a failed checkout.
	result, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_2", "billing.paid", "bill_1", "chk-1", 4990, "txn_1"))
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.Equal(t, models.CheckoutStatusFailed, singleCheckout(t, repo).Status)

	sub := mustSubscription(t, repo)
	assert.NotEqual(t, models.SubscriptionStatusActive, sub.Status)
}

func TestProcessWebhookFailedOpensGraceForLapsedPlan(t *testing.T) {
	repo, p, notifier := processorFixture(t)

	// Put the subscription on a paid plan whose period already ended.
	sub := mustSubscription(t, repo)
	periodEnd := processorNow.AddDate(0, 0, -2)
	periodStart := periodEnd.AddDate(0, 0, -30)
	sub.Status = models.SubscriptionStatusActive
	sub.PlanCode = PlanPro
	sub.CurrentPeriodStart = &periodStart
	sub.CurrentPeriodEnd = &periodEnd
	require.NoError(t, repo.SaveSubscription(sub))

	_, err := p.ProcessWebhook(context.Background(),
		webhookPayload("evt_1", "billing.failed", "bill_1", "chk-1", 0, ""))
	require.NoError(t, err)

	sub = mustSubscription(t, repo)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, PlanPro, sub.PlanCode)
	assert.Equal(t, periodEnd, *sub.CurrentPeriodStart)
	assert.Equal(t, periodEnd.AddDate(0, 0, DefaultPastDueGraceDays), *sub.CurrentPeriodEnd)
	assert.Equal(t, []string{PlanPro}, notifier.dunning)
}

func mustSubscription(t *testing.T, repo *MemoryRepository) *models.Subscription {
	t.Helper()
	sub, err := repo.GetSubscriptionByOrganization(1)
	require.NoError(t, err)
	return sub
}
