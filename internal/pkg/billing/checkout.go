package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squadbasehq/squadbase/app/models"
	"github.com/squadbasehq/squadbase/internal/pkg/env"
)

const (
	// DefaultCheckoutStaleAfter is how long a pending checkout may sit
	// without provider confirmation before being treated as abandoned.
	DefaultCheckoutStaleAfter = 5 * time.Minute
	// MaxCheckoutStaleAfter caps the configurable staleness window.
	MaxCheckoutStaleAfter = 30 * time.Minute
)

// ServiceConfig carries checkout orchestration settings.
type ServiceConfig struct {
	StaleAfter   time.Duration
	PublicDomain string
}

// ServiceConfigFromEnv reads the staleness window and public domain from
// the environment, clamping the window to the hard cap.
func ServiceConfigFromEnv() ServiceConfig {
	cfg := ServiceConfig{
		StaleAfter:   DefaultCheckoutStaleAfter,
		PublicDomain: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
	}
	if raw := strings.TrimSpace(env.GetEnv("CHECKOUT_STALE_AFTER_MINUTES", "")); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			cfg.StaleAfter = time.Duration(minutes) * time.Minute
		}
	}
	if cfg.StaleAfter > MaxCheckoutStaleAfter {
		cfg.StaleAfter = MaxCheckoutStaleAfter
	}
	return cfg
}

// CheckoutResult is what callers need to send a user to the provider.
type CheckoutResult struct {
	CheckoutID  uint   `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Service orchestrates checkout sessions against the payment provider and
// reconciles their status on demand.
type Service struct {
	repo       Repository
	provider   Provider
	catalog    Catalog
	processor  *Processor
	cfg        ServiceConfig
	invalidate func(orgID uint)

	now func() time.Time
}

// NewService wires the checkout orchestrator. invalidate may be nil.
func NewService(repo Repository, provider Provider, catalog Catalog, processor *Processor, cfg ServiceConfig, invalidate func(orgID uint)) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultCheckoutStaleAfter
	}
	if cfg.StaleAfter > MaxCheckoutStaleAfter {
		cfg.StaleAfter = MaxCheckoutStaleAfter
	}
	return &Service{
		repo:       repo,
		provider:   provider,
		catalog:    catalog,
		processor:  processor,
		cfg:        cfg,
		invalidate: invalidate,
		now:        time.Now,
	}
}

// CreateCheckoutSession starts a payment attempt for a plan change. The
// local pending row is written before the provider call so a crash in
// between leaves a row the staleness policy can clean up.
func (s *Service) CreateCheckoutSession(ctx context.Context, orgID uint, targetPlanCode, billingCycle string) (*CheckoutResult, error) {
	plan, known := s.catalog.Get(targetPlanCode)
	if !known || !plan.IsPaid() {
		return nil, NewValidationError("plan %q is not available for checkout", targetPlanCode)
	}
	if billingCycle != models.BillingCycleMonthly && billingCycle != models.BillingCycleAnnual {
		return nil, NewValidationError("billing cycle %q is not valid; use %q or %q",
			billingCycle, models.BillingCycleMonthly, models.BillingCycleAnnual)
	}

	now := s.now()
	sub, err := EnsureSubscription(s.repo, orgID, now)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusActive && sub.PlanCode == targetPlanCode && !sub.PeriodEndedBefore(now) {
		return nil, NewValidationError("organization is already on the %s plan", targetPlanCode)
	}

	customerID, err := s.ensureProviderCustomer(ctx, sub)
	if err != nil {
		return nil, err
	}

	checkout := &models.CheckoutSession{
		OrganizationID:     orgID,
		SubscriptionID:     sub.ID,
		TargetPlanCode:     targetPlanCode,
		BillingCycle:       billingCycle,
		AmountCents:        plan.AmountCents(billingCycle),
		Currency:           "BRL",
		ProviderExternalID: uuid.NewString(),
		Status:             models.CheckoutStatusPending,
		CreatedAt:          now,
	}
	if err := s.repo.CreateCheckoutSession(checkout); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	frequency := "MULTIPLE_PAYMENTS"
	if billingCycle == models.BillingCycleAnnual {
		frequency = "ONE_TIME"
	}
	billing, err := s.provider.CreateBilling(ctx, AbacateBillingParams{
		Frequency:     frequency,
		CustomerID:    customerID,
		ExternalID:    checkout.ProviderExternalID,
		ProductName:   fmt.Sprintf("SquadBase %s (%s)", plan.Name, billingCycle),
		AmountCents:   checkout.AmountCents,
		ReturnURL:     s.cfg.PublicDomain + "/settings/billing",
		CompletionURL: s.cfg.PublicDomain + "/settings/billing?checkout=done",
	})
	if err != nil {
		s.failCheckout(checkout, fmt.Sprintf("provider billing creation failed: %v", err))
		return nil, fmt.Errorf("create provider billing: %w", err)
	}

	if err := ValidateCheckoutURL(billing.URL); err != nil {
		// Never persist or hand out a URL we do not trust.
		s.failCheckout(checkout, err.Error())
		return nil, err
	}

	checkout.ProviderBillingID = billing.ID
	checkout.URL = billing.URL
	if err := s.repo.SaveCheckoutSession(checkout); err != nil {
		return nil, fmt.Errorf("save checkout session: %w", err)
	}

	sub.PendingPlanCode = targetPlanCode
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("mark pending plan: %w", err)
	}
	if s.invalidate != nil {
		s.invalidate(orgID)
	}

	return &CheckoutResult{CheckoutID: checkout.ID, CheckoutURL: checkout.URL}, nil
}

// ensureProviderCustomer lazily provisions the AbacatePay customer from the
// subscription's billing profile and caches the id.
func (s *Service) ensureProviderCustomer(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.AbacateCustomerID != "" {
		return sub.AbacateCustomerID, nil
	}

	var missing []string
	if strings.TrimSpace(sub.BillingName) == "" {
		missing = append(missing, "billing name")
	}
	if strings.TrimSpace(sub.BillingCellphone) == "" {
		missing = append(missing, "billing cellphone")
	}
	if strings.TrimSpace(sub.BillingTaxID) == "" {
		missing = append(missing, "billing tax id")
	}
	if len(missing) > 0 {
		return "", NewValidationError("billing profile incomplete: missing %s", strings.Join(missing, ", "))
	}

	org, err := s.repo.GetOrganizationByID(sub.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("load organization %d: %w", sub.OrganizationID, err)
	}
	customerID, err := s.provider.CreateCustomer(ctx, AbacateCustomerParams{
		Name:      sub.BillingName,
		Cellphone: sub.BillingCellphone,
		TaxID:     sub.BillingTaxID,
		Email:     org.OwnerEmail,
	})
	if err != nil {
		return "", fmt.Errorf("create provider customer: %w", err)
	}

	sub.AbacateCustomerID = customerID
	if err := s.repo.SaveSubscription(sub); err != nil {
		return "", fmt.Errorf("cache provider customer id: %w", err)
	}
	return customerID, nil
}

// failCheckout is the compensating action after a provider-side failure.
func (s *Service) failCheckout(checkout *models.CheckoutSession, reason string) {
	checkout.Status = models.CheckoutStatusFailed
	if err := s.repo.SaveCheckoutSession(checkout); err != nil {
		log.Printf("Failed to mark checkout %d as failed (%s): %v", checkout.ID, reason, err)
		return
	}
	log.Printf("Checkout %d marked failed: %s", checkout.ID, reason)
}

// GetCheckoutSession reads a checkout, lazily expiring it when stale.
func (s *Service) GetCheckoutSession(orgID, checkoutID uint) (*models.CheckoutSession, error) {
	checkout, err := s.repo.GetCheckoutForOrganization(checkoutID, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("checkout session %d not found", checkoutID)
		}
		return nil, err
	}
	if err := s.expireIfStale(checkout); err != nil {
		return nil, err
	}
	return checkout, nil
}

// expireIfStale forces an abandoned pending session to failed and drops a
// pending plan change that belongs to it. Lazy expiry on read keeps
// correctness without a background sweep.
func (s *Service) expireIfStale(checkout *models.CheckoutSession) error {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	if !checkout.StaleBefore(cutoff) {
		return nil
	}

	checkout.Status = models.CheckoutStatusFailed
	if err := s.repo.SaveCheckoutSession(checkout); err != nil {
		return fmt.Errorf("expire stale checkout %d: %w", checkout.ID, err)
	}

	sub, err := s.repo.GetSubscriptionByID(checkout.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", checkout.SubscriptionID, err)
	}
	if sub.PendingPlanCode == checkout.TargetPlanCode {
		sub.PendingPlanCode = ""
		if err := s.repo.SaveSubscription(sub); err != nil {
			return fmt.Errorf("clear pending plan: %w", err)
		}
	}
	if s.invalidate != nil {
		s.invalidate(checkout.OrganizationID)
	}
	return nil
}

// ReconcileCheckout polls the provider for a checkout's true status. A
// terminal provider status is synthesized into an internal event and routed
// through the same transition path as webhooks; a non-terminal one only
// refreshes the cached url/status fields. Returns whether local state
// changed.
func (s *Service) ReconcileCheckout(ctx context.Context, orgID, checkoutID uint) (bool, error) {
	checkout, err := s.GetCheckoutSession(orgID, checkoutID)
	if err != nil {
		return false, err
	}
	if checkout.Status == models.CheckoutStatusFailed && checkout.ProviderBillingID == "" {
		// Failed before the provider ever saw it; nothing to reconcile.
		return false, nil
	}

	billings, err := s.provider.ListBillings(ctx)
	if err != nil {
		// Transient; the next poll retries.
		return false, fmt.Errorf("list provider billings: %w", err)
	}

	var match *AbacateBilling
	for i := range billings {
		b := &billings[i]
		if (checkout.ProviderBillingID != "" && b.ID == checkout.ProviderBillingID) ||
			b.ExternalID == checkout.ProviderExternalID {
			match = b
			break
		}
	}
	if match == nil {
		log.Printf("Reconciliation found no provider billing for checkout %d", checkout.ID)
		return false, nil
	}

	_, terminal := ClassifyEvent("", match.Status)
	if !terminal {
		changed := false
		if match.URL != "" && match.URL != checkout.URL && ValidateCheckoutURL(match.URL) == nil {
			checkout.URL = match.URL
			changed = true
		}
		if checkout.ProviderBillingID == "" && match.ID != "" {
			checkout.ProviderBillingID = match.ID
			changed = true
		}
		if changed {
			if err := s.repo.SaveCheckoutSession(checkout); err != nil {
				return false, fmt.Errorf("refresh checkout %d: %w", checkout.ID, err)
			}
		}
		return false, nil
	}

	evt := &Event{
		ID:    "recon_" + uuid.NewString(),
		Event: "billing.reconciled",
		Data: EventData{
			Billing: EventBilling{
				ID:         match.ID,
				Status:     match.Status,
				Amount:     match.AmountCents,
				PaidAmount: match.PaidAmountCents,
				Products:   []abacateProductJSON{{ExternalID: checkout.ProviderExternalID}},
			},
			Payment: EventPayment{
				Amount:   match.PaidAmountCents,
				Currency: match.Currency,
			},
		},
	}
	raw := fmt.Sprintf(`{"id":%q,"event":"billing.reconciled","data":{"billing":{"id":%q,"status":%q}}}`,
		evt.ID, match.ID, match.Status)

	_, changed, err := s.processor.processEvent(ctx, evt, raw)
	return changed, err
}

// ValidateCheckoutURL enforces the redirect allow-list: only HTTPS pay
// pages on abacatepay.com hosts may be stored or returned. Anything else
// is treated as a possible open-redirect and rejected.
func ValidateCheckoutURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return NewIntegrityError("provider returned unparseable checkout url")
	}
	if u.Scheme != "https" {
		return NewIntegrityError("provider checkout url %q is not https", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host != "abacatepay.com" && !strings.HasSuffix(host, ".abacatepay.com") {
		return NewIntegrityError("provider checkout url host %q is not allow-listed", host)
	}
	if !strings.HasPrefix(u.Path, "/pay/") {
		return NewIntegrityError("provider checkout url path %q is not allow-listed", u.Path)
	}
	return nil
}
