package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/llmready/llmready/app/controllers"
	"github.com/llmready/llmready/internal/pkg/middleware"
)

// Controllers groups the handlers the router wires up.
type Controllers struct {
	Generation *controllers.GenerationController
	Webhook    *controllers.WebhookController
}

// InstallRouter registers all routes. The API group requires a resolved user;
// the webhook endpoint authenticates by signature instead and must stay
// outside the user middleware.
func InstallRouter(app *fiber.App, ctrl Controllers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1", middleware.RequireUser())
	v1.Post("/generations", ctrl.Generation.HandleStart)
	v1.Get("/generations/quota", ctrl.Generation.HandleQuota)
	v1.Get("/generations/:id", ctrl.Generation.HandleStatus)

	app.Post("/webhooks/stripe", ctrl.Webhook.HandleStripe)
}
