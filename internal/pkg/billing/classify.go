package billing

import (
	"encoding/json"
	"errors"
	"strings"
)

// Outcome is the internal classification of a provider event. The state
// transition core only ever sees this enum; all provider-shape knowledge
// stays in this file.
type Outcome string

const (
	OutcomePaid       Outcome = "paid"
	OutcomeFailed     Outcome = "failed"
	OutcomeExpired    Outcome = "expired"
	OutcomeChargeback Outcome = "chargeback"
)

// Event is a parsed provider event, either delivered by webhook or
// synthesized during reconciliation.
type Event struct {
	ID    string    `json:"id"`
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	Billing EventBilling `json:"billing"`
	Payment EventPayment `json:"payment"`
}

type EventBilling struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	Amount     int64                `json:"amount"`
	PaidAmount int64                `json:"paidAmount"`
	Products   []abacateProductJSON `json:"products"`
}

type EventPayment struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId"`
	ReceiptURL    string `json:"receiptUrl"`
	BillingURL    string `json:"billingUrl"`
}

// ParseEvent decodes a raw webhook payload and rejects malformed envelopes.
func ParseEvent(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, err
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, errors.New("event id is required")
	}
	if strings.TrimSpace(evt.Event) == "" {
		return nil, errors.New("event type is required")
	}
	return &evt, nil
}

// BillingID returns the provider billing id carried by the event.
func (e *Event) BillingID() string {
	return strings.TrimSpace(e.Data.Billing.ID)
}

// ExternalID returns the local idempotency key echoed back by the provider,
// used as a fallback when the billing id is unknown locally.
func (e *Event) ExternalID() string {
	if len(e.Data.Billing.Products) > 0 {
		return strings.TrimSpace(e.Data.Billing.Products[0].ExternalID)
	}
	return ""
}

// PaidAmountCents returns the amount the provider reports as paid.
func (e *Event) PaidAmountCents() int64 {
	if e.Data.Payment.Amount > 0 {
		return e.Data.Payment.Amount
	}
	return e.Data.Billing.PaidAmount
}

// Currency returns the payment currency, defaulting to BRL when the
// provider omits it.
func (e *Event) Currency() string {
	if c := strings.TrimSpace(e.Data.Payment.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return "BRL"
}

// ClassifyEvent maps the provider's event-type and billing-status shapes
// into an Outcome. The second return is false for events this system does
// not act on.
func ClassifyEvent(eventType, billingStatus string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "billing.paid", "payment.paid", "payment.succeeded", "pix.paid":
		return OutcomePaid, true
	case "billing.failed", "payment.failed", "payment.declined":
		return OutcomeFailed, true
	case "billing.expired", "payment.expired":
		return OutcomeExpired, true
	case "billing.refunded", "payment.refunded", "billing.chargeback", "payment.chargeback":
		return OutcomeChargeback, true
	}

	// Reconciliation and some provider pushes carry the status instead of a
	// specific event name.
	switch strings.ToUpper(strings.TrimSpace(billingStatus)) {
	case AbacateStatusPaid:
		return OutcomePaid, true
	case AbacateStatusExpired:
		return OutcomeExpired, true
	case AbacateStatusCancelled, "FAILED":
		return OutcomeFailed, true
	case AbacateStatusRefunded, "CHARGEBACK":
		return OutcomeChargeback, true
	}
	return "", false
}
