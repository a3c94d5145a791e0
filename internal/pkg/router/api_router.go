package router

import (
	"github.com/squadbasehq/squadbase/app/controllers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Provider callbacks. Authenticated by the shared webhook secret, not
	// by a user session.
	v1.Post("/webhooks/abacatepay", controllers.HandleAbacateWebhook)

	orgs := v1.Group("/organizations/:orgID")
	orgs.Get("/entitlements", controllers.HandleGetEntitlements)
	orgs.Post("/checkout", controllers.HandleCreateCheckout)
	orgs.Post("/checkout/:checkoutID/reconcile", controllers.HandleReconcileCheckout)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
