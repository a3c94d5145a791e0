package billing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
)

// MemoryRepository is an in-memory Repository used by tests and local
// tooling. Writes are serialized by a single mutex, which also stands in
// for transactional isolation.
type MemoryRepository struct {
	mu sync.Mutex

	nextID        uint
	Organizations map[uint]*models.Organization
	Members       []*models.OrganizationMember
	Invitations   []*models.Invitation
	Projects      []*models.Project
	Subscriptions map[uint]*models.Subscription
	Checkouts     map[uint]*models.CheckoutSession
	Invoices      map[string]*models.Invoice
	WebhookEvents map[string]*models.WebhookEvent
	Overrides     map[uint]map[string]*models.FeatureOverride
	Rollouts      map[string]*models.FeatureRollout
	Usage         map[string]int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:        1,
		Organizations: make(map[uint]*models.Organization),
		Subscriptions: make(map[uint]*models.Subscription),
		Checkouts:     make(map[uint]*models.CheckoutSession),
		Invoices:      make(map[string]*models.Invoice),
		WebhookEvents: make(map[string]*models.WebhookEvent),
		Overrides:     make(map[uint]map[string]*models.FeatureOverride),
		Rollouts:      make(map[string]*models.FeatureRollout),
		Usage:         make(map[string]int64),
	}
}

func (r *MemoryRepository) allocID() uint {
	id := r.nextID
	r.nextID++
	return id
}

func (r *MemoryRepository) Transactionally(_ context.Context, fn func(tx Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(memoryTx{r})
}

// memoryTx exposes the repository without re-locking inside a transaction.
type memoryTx struct {
	r *MemoryRepository
}

func (t memoryTx) Transactionally(_ context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t memoryTx) GetOrganizationByID(id uint) (*models.Organization, error) {
	return t.r.getOrganizationByID(id)
}
func (t memoryTx) GetSubscriptionByOrganization(orgID uint) (*models.Subscription, error) {
	return t.r.getSubscriptionByOrganization(orgID)
}
func (t memoryTx) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	return t.r.getSubscriptionByID(id)
}
func (t memoryTx) CreateSubscription(sub *models.Subscription) error {
	return t.r.createSubscription(sub)
}
func (t memoryTx) SaveSubscription(sub *models.Subscription) error {
	return t.r.saveSubscription(sub)
}
func (t memoryTx) CreateCheckoutSession(co *models.CheckoutSession) error {
	return t.r.createCheckoutSession(co)
}
func (t memoryTx) SaveCheckoutSession(co *models.CheckoutSession) error {
	return t.r.saveCheckoutSession(co)
}
func (t memoryTx) GetCheckoutByID(id uint) (*models.CheckoutSession, error) {
	return t.r.getCheckoutByID(id)
}
func (t memoryTx) GetCheckoutForOrganization(id, orgID uint) (*models.CheckoutSession, error) {
	return t.r.getCheckoutForOrganization(id, orgID)
}
func (t memoryTx) FindCheckoutByProviderBillingID(id string) (*models.CheckoutSession, error) {
	return t.r.findCheckoutByProviderBillingID(id)
}
func (t memoryTx) FindCheckoutByProviderExternalID(id string) (*models.CheckoutSession, error) {
	return t.r.findCheckoutByProviderExternalID(id)
}
func (t memoryTx) UpsertInvoice(inv *models.Invoice) error {
	return t.r.upsertInvoice(inv)
}
func (t memoryTx) FindInvoicesByProviderBillingID(id string) ([]models.Invoice, error) {
	return t.r.findInvoicesByProviderBillingID(id)
}
func (t memoryTx) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	return t.r.createWebhookEventIfNotExists(event)
}
func (t memoryTx) MarkWebhookEvent(id uint, status, msg string) error {
	return t.r.markWebhookEvent(id, status, msg)
}
func (t memoryTx) CountMembers(orgID uint) (int64, error) {
	return t.r.countMembers(orgID)
}
func (t memoryTx) CountPendingInvitations(orgID uint) (int64, error) {
	return t.r.countPendingInvitations(orgID)
}
func (t memoryTx) CountProjects(orgID uint) (int64, error) {
	return t.r.countProjects(orgID)
}
func (t memoryTx) GetMonthlyUsage(orgID uint, metricKey, period string) (int64, error) {
	return t.r.getMonthlyUsage(orgID, metricKey, period)
}
func (t memoryTx) IncrementMonthlyUsage(orgID uint, metricKey, period string, delta int64) error {
	return t.r.incrementMonthlyUsage(orgID, metricKey, period, delta)
}
func (t memoryTx) GetFeatureOverride(orgID uint, featureKey string) (*models.FeatureOverride, error) {
	return t.r.getFeatureOverride(orgID, featureKey)
}
func (t memoryTx) GetFeatureRollout(featureKey string) (*models.FeatureRollout, error) {
	return t.r.getFeatureRollout(featureKey)
}

func (r *MemoryRepository) GetOrganizationByID(id uint) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrganizationByID(id)
}

func (r *MemoryRepository) getOrganizationByID(id uint) (*models.Organization, error) {
	org, ok := r.Organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (r *MemoryRepository) GetSubscriptionByOrganization(orgID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSubscriptionByOrganization(orgID)
}

func (r *MemoryRepository) getSubscriptionByOrganization(orgID uint) (*models.Subscription, error) {
	for _, sub := range r.Subscriptions {
		if sub.OrganizationID == orgID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSubscriptionByID(id)
}

func (r *MemoryRepository) getSubscriptionByID(id uint) (*models.Subscription, error) {
	sub, ok := r.Subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *MemoryRepository) CreateSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createSubscription(sub)
}

func (r *MemoryRepository) createSubscription(sub *models.Subscription) error {
	for _, existing := range r.Subscriptions {
		if existing.OrganizationID == sub.OrganizationID {
			return ErrDuplicateKey
		}
	}
	sub.ID = r.allocID()
	cp := *sub
	r.Subscriptions[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) SaveSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveSubscription(sub)
}

func (r *MemoryRepository) saveSubscription(sub *models.Subscription) error {
	if sub.ID == 0 {
		return r.createSubscription(sub)
	}
	cp := *sub
	r.Subscriptions[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) CreateCheckoutSession(co *models.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCheckoutSession(co)
}

func (r *MemoryRepository) createCheckoutSession(co *models.CheckoutSession) error {
	co.ID = r.allocID()
	cp := *co
	r.Checkouts[co.ID] = &cp
	return nil
}

func (r *MemoryRepository) SaveCheckoutSession(co *models.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveCheckoutSession(co)
}

func (r *MemoryRepository) saveCheckoutSession(co *models.CheckoutSession) error {
	if co.ID == 0 {
		return r.createCheckoutSession(co)
	}
	cp := *co
	r.Checkouts[co.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetCheckoutByID(id uint) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCheckoutByID(id)
}

func (r *MemoryRepository) getCheckoutByID(id uint) (*models.CheckoutSession, error) {
	co, ok := r.Checkouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *co
	return &cp, nil
}

func (r *MemoryRepository) GetCheckoutForOrganization(id, orgID uint) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCheckoutForOrganization(id, orgID)
}

func (r *MemoryRepository) getCheckoutForOrganization(id, orgID uint) (*models.CheckoutSession, error) {
	co, ok := r.Checkouts[id]
	if !ok || co.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	cp := *co
	return &cp, nil
}

func (r *MemoryRepository) FindCheckoutByProviderBillingID(id string) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findCheckoutByProviderBillingID(id)
}

func (r *MemoryRepository) findCheckoutByProviderBillingID(id string) (*models.CheckoutSession, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	for _, co := range r.Checkouts {
		if co.ProviderBillingID == id {
			cp := *co
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindCheckoutByProviderExternalID(id string) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findCheckoutByProviderExternalID(id)
}

func (r *MemoryRepository) findCheckoutByProviderExternalID(id string) (*models.CheckoutSession, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	for _, co := range r.Checkouts {
		if co.ProviderExternalID == id {
			cp := *co
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) UpsertInvoice(inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertInvoice(inv)
}

func (r *MemoryRepository) upsertInvoice(inv *models.Invoice) error {
	if existing, ok := r.Invoices[inv.DedupKey]; ok {
		existing.Status = inv.Status
		existing.ProviderTransactionID = inv.ProviderTransactionID
		existing.ReceiptURL = inv.ReceiptURL
		existing.BillingURL = inv.BillingURL
		existing.PaidAt = inv.PaidAt
		*inv = *existing
		return nil
	}
	inv.ID = r.allocID()
	cp := *inv
	r.Invoices[inv.DedupKey] = &cp
	return nil
}

func (r *MemoryRepository) FindInvoicesByProviderBillingID(id string) ([]models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findInvoicesByProviderBillingID(id)
}

func (r *MemoryRepository) findInvoicesByProviderBillingID(id string) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, inv := range r.Invoices {
		if inv.ProviderBillingID == id {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createWebhookEventIfNotExists(event)
}

func (r *MemoryRepository) createWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := r.WebhookEvents[event.ProviderEventID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = r.allocID()
	cp := *event
	r.WebhookEvents[event.ProviderEventID] = &cp
	out := cp
	return true, &out, nil
}

func (r *MemoryRepository) MarkWebhookEvent(id uint, status, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markWebhookEvent(id, status, msg)
}

func (r *MemoryRepository) markWebhookEvent(id uint, status, msg string) error {
	for _, event := range r.WebhookEvents {
		if event.ID == id {
			now := time.Now()
			event.Status = status
			event.ErrorMessage = msg
			event.ProcessedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) CountMembers(orgID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countMembers(orgID)
}

func (r *MemoryRepository) countMembers(orgID uint) (int64, error) {
	var n int64
	for _, m := range r.Members {
		if m.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountPendingInvitations(orgID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countPendingInvitations(orgID)
}

func (r *MemoryRepository) countPendingInvitations(orgID uint) (int64, error) {
	var n int64
	for _, inv := range r.Invitations {
		if inv.OrganizationID == orgID && inv.Status == models.InvitationStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountProjects(orgID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countProjects(orgID)
}

func (r *MemoryRepository) countProjects(orgID uint) (int64, error) {
	var n int64
	for _, p := range r.Projects {
		if p.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func usageKey(orgID uint, metricKey, period string) string {
	return period + ":" + metricKey + ":" + strconv.FormatUint(uint64(orgID), 10)
}

func (r *MemoryRepository) GetMonthlyUsage(orgID uint, metricKey, period string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getMonthlyUsage(orgID, metricKey, period)
}

func (r *MemoryRepository) getMonthlyUsage(orgID uint, metricKey, period string) (int64, error) {
	return r.Usage[usageKey(orgID, metricKey, period)], nil
}

func (r *MemoryRepository) IncrementMonthlyUsage(orgID uint, metricKey, period string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incrementMonthlyUsage(orgID, metricKey, period, delta)
}

func (r *MemoryRepository) incrementMonthlyUsage(orgID uint, metricKey, period string, delta int64) error {
	r.Usage[usageKey(orgID, metricKey, period)] += delta
	return nil
}

func (r *MemoryRepository) GetFeatureOverride(orgID uint, featureKey string) (*models.FeatureOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getFeatureOverride(orgID, featureKey)
}

func (r *MemoryRepository) getFeatureOverride(orgID uint, featureKey string) (*models.FeatureOverride, error) {
	if byKey, ok := r.Overrides[orgID]; ok {
		if ov, ok := byKey[featureKey]; ok {
			cp := *ov
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetFeatureRollout(featureKey string) (*models.FeatureRollout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getFeatureRollout(featureKey)
}

func (r *MemoryRepository) getFeatureRollout(featureKey string) (*models.FeatureRollout, error) {
	ro, ok := r.Rollouts[featureKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ro
	return &cp, nil
}

// SetFeatureOverride is a test helper mirroring an admin write.
func (r *MemoryRepository) SetFeatureOverride(orgID uint, featureKey string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Overrides[orgID] == nil {
		r.Overrides[orgID] = make(map[string]*models.FeatureOverride)
	}
	r.Overrides[orgID][featureKey] = &models.FeatureOverride{
		ID:             r.allocID(),
		OrganizationID: orgID,
		FeatureKey:     featureKey,
		Enabled:        enabled,
	}
}

// SetFeatureRollout is a test helper mirroring an admin write.
func (r *MemoryRepository) SetFeatureRollout(featureKey string, percentage int, seed string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rollouts[featureKey] = &models.FeatureRollout{
		ID:         r.allocID(),
		FeatureKey: featureKey,
		Percentage: percentage,
		Seed:       seed,
	}
}
