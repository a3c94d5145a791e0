package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
)

// ProcessResult reports how a webhook delivery ended.
type ProcessResult struct {
	Duplicate bool `json:"duplicate"`
	Processed bool `json:"processed"`
}

// Processor turns provider events into checkout/invoice/subscription state,
// exactly once per event id. Webhook pushes and reconciliation polls both
// route through processEvent, so a confirmed outcome takes a single code
// path regardless of how it arrived.
type Processor struct {
	repo       Repository
	catalog    Catalog
	notifier   Notifier
	invalidate func(orgID uint)

	now func() time.Time
}

// NewProcessor wires a processor. notifier and invalidate may be nil.
func NewProcessor(repo Repository, catalog Catalog, notifier Notifier, invalidate func(orgID uint)) *Processor {
	return &Processor{
		repo:       repo,
		catalog:    catalog,
		notifier:   notifier,
		invalidate: invalidate,
		now:        time.Now,
	}
}

// ProcessWebhook handles one raw webhook delivery.
func (p *Processor) ProcessWebhook(ctx context.Context, raw []byte) (ProcessResult, error) {
	evt, err := ParseEvent(raw)
	if err != nil {
		return ProcessResult{}, NewValidationError("malformed webhook payload: %v", err)
	}
	result, _, err := p.processEvent(ctx, evt, string(raw))
	return result, err
}

// processEvent runs the dedup gate, classification, lookup and the
// transactional state transition for one event. Returns whether the event
// changed subscription state.
func (p *Processor) processEvent(ctx context.Context, evt *Event, rawPayload string) (ProcessResult, bool, error) {
	record := &models.WebhookEvent{
		ProviderEventID: evt.ID,
		EventType:       evt.Event,
		PayloadJSON:     rawPayload,
		Status:          models.WebhookStatusReceived,
	}
	created, stored, err := p.repo.CreateWebhookEventIfNotExists(record)
	if err != nil {
		return ProcessResult{}, false, fmt.Errorf("record webhook event %s: %w", evt.ID, err)
	}
	if !created {
		// Second delivery of the same event id; the unique index already
		// absorbed it, nothing to replay.
		return ProcessResult{Duplicate: true}, false, nil
	}

	outcome, recognized := ClassifyEvent(evt.Event, evt.Data.Billing.Status)
	if !recognized {
		p.markEvent(stored.ID, models.WebhookStatusIgnored, fmt.Sprintf("unhandled event type %q", evt.Event))
		return ProcessResult{Processed: true}, false, nil
	}

	checkout, err := p.locateCheckout(evt)
	if err != nil {
		return ProcessResult{}, false, err
	}
	if checkout == nil {
		// Unknown billings are not ours to fail on; they may belong to a
		// different deployment sharing the provider account.
		p.markEvent(stored.ID, models.WebhookStatusIgnored, fmt.Sprintf("no checkout session for billing %q", evt.BillingID()))
		return ProcessResult{Processed: true}, false, nil
	}

	var changed bool
	err = p.repo.Transactionally(ctx, func(tx Repository) error {
		fresh, err := tx.GetCheckoutByID(checkout.ID)
		if err != nil {
			return fmt.Errorf("reload checkout %d: %w", checkout.ID, err)
		}
		changed, err = p.applyOutcome(tx, fresh, evt, outcome)
		return err
	})
	if err != nil {
		p.markEvent(stored.ID, models.WebhookStatusFailed, err.Error())
		return ProcessResult{}, false, err
	}

	p.markEvent(stored.ID, models.WebhookStatusProcessed, "")
	if changed {
		p.afterStateChange(checkout.OrganizationID, checkout.TargetPlanCode, outcome)
	}
	return ProcessResult{Processed: true}, changed, nil
}

func (p *Processor) locateCheckout(evt *Event) (*models.CheckoutSession, error) {
	checkout, err := p.repo.FindCheckoutByProviderBillingID(evt.BillingID())
	if err == nil {
		return checkout, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find checkout by billing id %q: %w", evt.BillingID(), err)
	}

	checkout, err = p.repo.FindCheckoutByProviderExternalID(evt.ExternalID())
	if err == nil {
		return checkout, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find checkout by external id %q: %w", evt.ExternalID(), err)
	}
	return nil, nil
}

// applyOutcome applies one classified outcome to a checkout inside a
// transaction: integrity guards first, then the idempotence and
// terminal-state guards, then checkout, invoice and subscription writes.
func (p *Processor) applyOutcome(tx Repository, checkout *models.CheckoutSession, evt *Event, outcome Outcome) (bool, error) {
	now := p.now()

	if outcome == OutcomePaid {
		if evt.PaidAmountCents() != checkout.AmountCents || evt.Currency() != checkout.Currency {
			return false, NewIntegrityError(
				"webhook amount mismatch for checkout %d: got %d %s, expected %d %s",
				checkout.ID, evt.PaidAmountCents(), evt.Currency(), checkout.AmountCents, checkout.Currency,
			)
		}
	}

	billingID := checkout.ProviderBillingID
	if billingID == "" {
		billingID = evt.BillingID()
	}

	// A second paid event on an already-paid checkout is a new billing
	// cycle of the same recurring billing, unless the invoice ledger shows
	// it is this event replayed.
	recurring := false
	if checkout.Status == models.CheckoutStatusPaid && outcome == OutcomePaid {
		replayed, err := p.refreshReplayedInvoice(tx, billingID, evt)
		if err != nil {
			return false, err
		}
		if replayed {
			return false, nil
		}
		recurring = true
	}

	if string(outcome) == checkout.Status && !recurring {
		return false, nil
	}
	if models.IsTerminalCheckoutStatus(checkout.Status) && !recurring {
		if !(checkout.Status == models.CheckoutStatusPaid && outcome == OutcomeChargeback) {
			return false, nil
		}
	}

	nextStatus := checkout.Status
	if !recurring {
		var ok bool
		nextStatus, ok = NextCheckoutStatus(checkout.Status, outcome)
		if !ok {
			return false, nil
		}
	}

	checkout.Status = nextStatus
	if checkout.ProviderBillingID == "" {
		checkout.ProviderBillingID = billingID
	}
	if outcome == OutcomePaid {
		checkout.PaidAt = &now
	}
	if err := tx.SaveCheckoutSession(checkout); err != nil {
		return false, fmt.Errorf("save checkout %d: %w", checkout.ID, err)
	}

	if err := p.upsertInvoiceFor(tx, checkout, evt, outcome, billingID, recurring, now); err != nil {
		return false, err
	}

	sub, err := tx.GetSubscriptionByID(checkout.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("load subscription %d: %w", checkout.SubscriptionID, err)
	}
	applySubscriptionOutcome(transitionContext{
		now:      now,
		sub:      sub,
		checkout: checkout,
		catalog:  p.catalog,
	}, outcome)
	if err := tx.SaveSubscription(sub); err != nil {
		return false, fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}
	return true, nil
}

// refreshReplayedInvoice reports whether a paid event for an already-paid
// checkout is a replay of a ledgered payment, refreshing receipt metadata
// when it is. Only an event carrying a transaction id unknown to the
// ledger opens a new cycle: an event without one (reconciliation polls,
// providers that omit it) always refreshes the existing invoice, and a
// matching or backfillable stored id means the same payment.
func (p *Processor) refreshReplayedInvoice(tx Repository, billingID string, evt *Event) (bool, error) {
	invoices, err := tx.FindInvoicesByProviderBillingID(billingID)
	if err != nil {
		return false, fmt.Errorf("load invoices for billing %q: %w", billingID, err)
	}
	eventTxn := evt.Data.Payment.TransactionID
	for i := range invoices {
		inv := &invoices[i]
		if eventTxn != "" && inv.ProviderTransactionID != "" && inv.ProviderTransactionID != eventTxn {
			continue
		}
		if eventTxn != "" {
			inv.ProviderTransactionID = eventTxn
		}
		if evt.Data.Payment.ReceiptURL != "" {
			inv.ReceiptURL = evt.Data.Payment.ReceiptURL
		}
		if evt.Data.Payment.BillingURL != "" {
			inv.BillingURL = evt.Data.Payment.BillingURL
		}
		if err := tx.UpsertInvoice(inv); err != nil {
			return false, fmt.Errorf("refresh invoice %s: %w", inv.DedupKey, err)
		}
		return true, nil
	}
	return false, nil
}

func (p *Processor) upsertInvoiceFor(tx Repository, checkout *models.CheckoutSession, evt *Event, outcome Outcome, billingID string, recurring bool, now time.Time) error {
	dedupKey := billingID
	if recurring {
		// Recurring billings reuse the provider billing id across cycles;
		// the event id keeps each cycle's invoice distinct.
		dedupKey = billingID + ":" + evt.ID
	}

	inv := &models.Invoice{
		OrganizationID:        checkout.OrganizationID,
		SubscriptionID:        checkout.SubscriptionID,
		DedupKey:              dedupKey,
		ProviderBillingID:     billingID,
		AmountCents:           checkout.AmountCents,
		Currency:              checkout.Currency,
		Status:                string(outcome),
		ProviderTransactionID: evt.Data.Payment.TransactionID,
		ReceiptURL:            evt.Data.Payment.ReceiptURL,
		BillingURL:            evt.Data.Payment.BillingURL,
	}
	if outcome == OutcomePaid {
		inv.PaidAt = &now
	}
	if err := tx.UpsertInvoice(inv); err != nil {
		return fmt.Errorf("upsert invoice %s: %w", dedupKey, err)
	}
	return nil
}

func (p *Processor) markEvent(id uint, status, message string) {
	if err := p.repo.MarkWebhookEvent(id, status, message); err != nil {
		log.Printf("Failed to mark webhook event %d as %s: %v", id, status, err)
	}
}

func (p *Processor) afterStateChange(orgID uint, planCode string, outcome Outcome) {
	if p.invalidate != nil {
		p.invalidate(orgID)
	}
	if p.notifier == nil {
		return
	}
	org, err := p.repo.GetOrganizationByID(orgID)
	if err != nil {
		log.Printf("Failed to load organization %d for billing email: %v", orgID, err)
		return
	}
	switch outcome {
	case OutcomePaid:
		p.notifier.SendPaymentApprovedEmail(org, planCode)
	case OutcomeFailed:
		p.notifier.SendPaymentFailedDunningEmail(org, planCode)
	}
}
