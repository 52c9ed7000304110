package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/llmready/llmready/internal/pkg/billing"
	"github.com/llmready/llmready/internal/pkg/env"
)

// WebhookController receives payment-processor webhooks.
type WebhookController struct {
	service *billing.Service
	secret  string
}

func NewWebhookController(service *billing.Service) *WebhookController {
	return &WebhookController{
		service: service,
		secret:  env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
}

// HandleStripe verifies the signature on the raw payload, then records and
// applies the event. Once the event is durably recorded the endpoint answers
// 200 even if applying it failed, so the sender never redelivers an event the
// resync job will repair anyway.
func (wc *WebhookController) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	event, err := billing.VerifyAndParse(payload, signature, wc.secret)
	if err != nil {
		log.Warnf("[Webhook] Rejected payload with bad signature: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid signature"})
	}

	if err := wc.service.HandleEvent(c.UserContext(), event); err != nil {
		// Not recorded yet; ask the sender to try again.
		log.Errorf("[Webhook] Failed to record event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record event"})
	}

	return c.JSON(fiber.Map{"received": true})
}
