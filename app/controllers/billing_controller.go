package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/squadbasehq/squadbase/internal/pkg/billing"
	"github.com/squadbasehq/squadbase/internal/pkg/cache"
	"github.com/squadbasehq/squadbase/internal/pkg/database"
	"github.com/squadbasehq/squadbase/internal/pkg/entitlements"
	"github.com/squadbasehq/squadbase/internal/pkg/env"
)

const billingRequestTimeout = 15 * time.Second

// validate is shared across requests; validator.Validate is safe for
// concurrent use and caches struct metadata.
var validate = validator.New()

func billingRepo() billing.Repository {
	return billing.NewRepository(database.GetDB())
}

func billingProcessor(repo billing.Repository) *billing.Processor {
	return billing.NewProcessor(repo, billing.DefaultCatalog(), billing.NewSMTPNotifier(), cache.InvalidateEntitlements)
}

func checkoutService(repo billing.Repository) *billing.Service {
	return billing.NewService(
		repo,
		billing.NewAbacateClientFromEnv(),
		billing.DefaultCatalog(),
		billingProcessor(repo),
		billing.ServiceConfigFromEnv(),
		cache.InvalidateEntitlements,
	)
}

// HandleAbacateWebhook receives AbacatePay event deliveries. Duplicate
// deliveries and events we do not act on still get a 200 so the provider
// stops retrying them.
func HandleAbacateWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("ABACATEPAY_WEBHOOK_SECRET", "")
	if secret != "" && !billing.VerifyWebhookSecret(c.Query("webhookSecret"), secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_webhook_secret"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	result, err := billingProcessor(billingRepo()).ProcessWebhook(ctx, rawBody)
	if err != nil {
		if billing.IsValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleGetEntitlements returns the organization's entitlement snapshot.
func HandleGetEntitlements(c *fiber.Ctx) error {
	orgID, err := c.ParamsInt("orgID")
	if err != nil || orgID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_organization_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	resolver := entitlements.NewCachedResolver(billingRepo(), billing.DefaultCatalog())
	snapshot, err := resolver.GetOwnerEntitlements(ctx, uint(orgID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlements_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}

type createCheckoutRequest struct {
	PlanCode     string `json:"plan_code" validate:"required"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly annual"`
}

func (r *createCheckoutRequest) Validate() error {
	return validate.Struct(r)
}

// HandleCreateCheckout starts a checkout session and returns the provider
// payment page URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	orgID, err := c.ParamsInt("orgID")
	if err != nil || orgID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_organization_id"})
	}

	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	result, err := checkoutService(billingRepo()).CreateCheckoutSession(ctx, uint(orgID), req.PlanCode, req.BillingCycle)
	if err != nil {
		if billing.IsValidationError(err) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "checkout_rejected", "message": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleReconcileCheckout polls the provider for the checkout's real status
// and applies any missed transition. Safe to call repeatedly.
func HandleReconcileCheckout(c *fiber.Ctx) error {
	orgID, err := c.ParamsInt("orgID")
	if err != nil || orgID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_organization_id"})
	}
	checkoutID, err := c.ParamsInt("checkoutID")
	if err != nil || checkoutID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_checkout_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	repo := billingRepo()
	svc := checkoutService(repo)
	changed, err := svc.ReconcileCheckout(ctx, uint(orgID), uint(checkoutID))
	if err != nil {
		if billing.IsValidationError(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "checkout_not_found", "message": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	checkout, err := svc.GetCheckoutSession(uint(orgID), uint(checkoutID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"changed": changed,
		"status":  checkout.Status,
	})
}
