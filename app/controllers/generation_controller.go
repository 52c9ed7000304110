package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/generator"
	"github.com/llmready/llmready/internal/pkg/middleware"
	"github.com/llmready/llmready/internal/pkg/quota"
)

// GenerationController exposes the synchronous generation API: start a
// generation, poll its status and read the remaining quota.
type GenerationController struct {
	orchestrator *generator.Orchestrator
	ledger       *quota.Ledger
	validate     *validator.Validate
}

func NewGenerationController(orchestrator *generator.Orchestrator, ledger *quota.Ledger) *GenerationController {
	return &GenerationController{
		orchestrator: orchestrator,
		ledger:       ledger,
		validate:     validator.New(),
	}
}

type startGenerationRequest struct {
	WebsiteID  uint `json:"website_id" validate:"required,min=1"`
	PageBudget int  `json:"page_budget" validate:"min=0,max=10000"`
}

// HandleStart reserves a quota slot and enqueues the generation. The response
// is 202: the work itself runs out-of-band and the client polls the status
// endpoint.
func (gc *GenerationController) HandleStart(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req startGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := gc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	gen, err := gc.orchestrator.Start(c.UserContext(), userID, req.WebsiteID, req.PageBudget)
	if err != nil {
		return mapStartError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":          gen.ID,
		"uuid":        gen.UUID,
		"website_id":  gen.WebsiteID,
		"status":      gen.Status,
		"page_budget": gen.PageBudget,
		"created_at":  gen.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// mapStartError translates the reservation error taxonomy to HTTP. Quota
// responses name the specific limit that was hit so the client can show an
// actionable message.
func mapStartError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "quota_exceeded", "message": err.Error()})
	case errors.Is(err, quota.ErrPlanLimitExceeded):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "plan_limit_exceeded", "message": err.Error()})
	case errors.Is(err, quota.ErrSubscriptionInactive):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "subscription_inactive", "message": err.Error()})
	case errors.Is(err, quota.ErrGenerationInFlight):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "generation_in_flight", "message": err.Error()})
	case errors.Is(err, generator.ErrWebsiteNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Website not found"})
	case errors.Is(err, generator.ErrWebsiteInactive):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "website_inactive", "message": "Website is not active"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "subscription_missing", "message": "No subscription for this user"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to start generation"})
	}
}

// HandleStatus returns one generation with its download readiness and, once
// completed, the recommended artifact set.
func (gc *GenerationController) HandleStatus(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid generation id"})
	}

	gen, err := gc.orchestrator.Status(c.UserContext(), userID, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Generation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load generation"})
	}

	response := fiber.Map{
		"id":               gen.ID,
		"uuid":             gen.UUID,
		"website_id":       gen.WebsiteID,
		"status":           gen.Status,
		"page_budget":      gen.PageBudget,
		"retry_count":      gen.RetryCount,
		"created_at":       gen.CreatedAt.UTC().Format(time.RFC3339),
		"started_at":       formatTimePtr(gen.StartedAt),
		"completed_at":     formatTimePtr(gen.CompletedAt),
		"duration_seconds": gen.DurationSeconds,
	}

	switch gen.Status {
	case models.GenerationStatusCompleted:
		rec := generator.Recommend(gen.TotalPages, gen.FileSize)
		response["total_pages"] = gen.TotalPages
		response["total_files"] = gen.TotalFiles
		response["file_size"] = gen.FileSize
		response["download_ready"] = gen.FilePath != ""
		response["recommendation"] = fiber.Map{
			"tier":  rec,
			"files": rec.Files(),
		}
	case models.GenerationStatusFailed:
		response["error_message"] = gen.ErrorMessage
	}

	return c.JSON(response)
}

// HandleQuota returns the current period usage for the authenticated user.
func (gc *GenerationController) HandleQuota(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	used, limit, err := gc.ledger.Remaining(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription for this user"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load quota"})
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return c.JSON(fiber.Map{
		"generations_used":  used,
		"generations_limit": limit,
		"remaining":         remaining,
	})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
