package billing

import (
	"context"
	"time"

	"github.com/squadbasehq/squadbase/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing core and the
// entitlement resolver. Transactionally hands the closure a Repository
// bound to the transaction; every write inside commits or rolls back as
// one unit.
type Repository interface {
	Transactionally(ctx context.Context, fn func(tx Repository) error) error

	GetOrganizationByID(id uint) (*models.Organization, error)

	GetSubscriptionByOrganization(orgID uint) (*models.Subscription, error)
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error

	CreateCheckoutSession(co *models.CheckoutSession) error
	SaveCheckoutSession(co *models.CheckoutSession) error
	GetCheckoutByID(id uint) (*models.CheckoutSession, error)
	GetCheckoutForOrganization(id, orgID uint) (*models.CheckoutSession, error)
	FindCheckoutByProviderBillingID(providerBillingID string) (*models.CheckoutSession, error)
	FindCheckoutByProviderExternalID(externalID string) (*models.CheckoutSession, error)

	UpsertInvoice(inv *models.Invoice) error
	FindInvoicesByProviderBillingID(providerBillingID string) ([]models.Invoice, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookEvent(id uint, status, errorMessage string) error

	CountMembers(orgID uint) (int64, error)
	CountPendingInvitations(orgID uint) (int64, error)
	CountProjects(orgID uint) (int64, error)
	GetMonthlyUsage(orgID uint, metricKey, period string) (int64, error)
	IncrementMonthlyUsage(orgID uint, metricKey, period string, delta int64) error

	GetFeatureOverride(orgID uint, featureKey string) (*models.FeatureOverride, error)
	GetFeatureRollout(featureKey string) (*models.FeatureRollout, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transactionally(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetOrganizationByID(id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) GetSubscriptionByOrganization(orgID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("organization_id = ?", orgID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) CreateCheckoutSession(co *models.CheckoutSession) error {
	return r.db.Create(co).Error
}

func (r *gormRepository) SaveCheckoutSession(co *models.CheckoutSession) error {
	return r.db.Save(co).Error
}

func (r *gormRepository) GetCheckoutByID(id uint) (*models.CheckoutSession, error) {
	var co models.CheckoutSession
	if err := r.db.First(&co, id).Error; err != nil {
		return nil, err
	}
	return &co, nil
}

func (r *gormRepository) GetCheckoutForOrganization(id, orgID uint) (*models.CheckoutSession, error) {
	var co models.CheckoutSession
	if err := r.db.Where("id = ? AND organization_id = ?", id, orgID).First(&co).Error; err != nil {
		return nil, err
	}
	return &co, nil
}

func (r *gormRepository) FindCheckoutByProviderBillingID(providerBillingID string) (*models.CheckoutSession, error) {
	if providerBillingID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var co models.CheckoutSession
	if err := r.db.Where("provider_billing_id = ?", providerBillingID).First(&co).Error; err != nil {
		return nil, err
	}
	return &co, nil
}

func (r *gormRepository) FindCheckoutByProviderExternalID(externalID string) (*models.CheckoutSession, error) {
	if externalID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var co models.CheckoutSession
	if err := r.db.Where("provider_external_id = ?", externalID).First(&co).Error; err != nil {
		return nil, err
	}
	return &co, nil
}

func (r *gormRepository) UpsertInvoice(inv *models.Invoice) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "dedup_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"provider_transaction_id",
			"receipt_url",
			"billing_url",
			"paid_at",
			"updated_at",
		}),
	}).Create(inv).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("dedup_key = ?", inv.DedupKey).First(inv).Error
}

func (r *gormRepository) FindInvoicesByProviderBillingID(providerBillingID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("provider_billing_id = ?", providerBillingID).Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookEvent(id uint, status, errorMessage string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"processed_at":  &now,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) CountMembers(orgID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.OrganizationMember{}).Where("organization_id = ?", orgID).Count(&n).Error
	return n, err
}

func (r *gormRepository) CountPendingInvitations(orgID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Invitation{}).
		Where("organization_id = ? AND status = ?", orgID, models.InvitationStatusPending).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) CountProjects(orgID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Project{}).Where("organization_id = ?", orgID).Count(&n).Error
	return n, err
}

func (r *gormRepository) GetMonthlyUsage(orgID uint, metricKey, period string) (int64, error) {
	var row models.OwnerMonthlyUsage
	err := r.db.Where("organization_id = ? AND metric_key = ? AND period = ?", orgID, metricKey, period).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return row.UsedCount, nil
}

func (r *gormRepository) IncrementMonthlyUsage(orgID uint, metricKey, period string, delta int64) error {
	row := models.OwnerMonthlyUsage{
		OrganizationID: orgID,
		MetricKey:      metricKey,
		Period:         period,
		UsedCount:      delta,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "organization_id"},
			{Name: "metric_key"},
			{Name: "period"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"used_count": gorm.Expr("used_count + ?", delta),
		}),
	}).Create(&row).Error
}

func (r *gormRepository) GetFeatureOverride(orgID uint, featureKey string) (*models.FeatureOverride, error) {
	var ov models.FeatureOverride
	if err := r.db.Where("organization_id = ? AND feature_key = ?", orgID, featureKey).First(&ov).Error; err != nil {
		return nil, err
	}
	return &ov, nil
}

func (r *gormRepository) GetFeatureRollout(featureKey string) (*models.FeatureRollout, error) {
	var ro models.FeatureRollout
	if err := r.db.Where("feature_key = ?", featureKey).First(&ro).Error; err != nil {
		return nil, err
	}
	return &ro, nil
}
