package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/database"
)

// KeyUserID is the locals key carrying the authenticated user id.
const KeyUserID = "USER_ID"

// RequireUser resolves the caller from the X-User-ID header set by the
// authenticating proxy in front of this service. It verifies the account
// exists and is active, then stores the id in locals for the controllers.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("X-User-ID"))
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing user identity"})
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid user identity"})
		}

		db := database.GetDB()
		if db == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		var user models.User
		if err := db.First(&user, uint(id)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown user"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "User lookup failed"})
		}
		if user.Status != models.UserStatusActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		c.Locals(KeyUserID, user.ID)
		return c.Next()
	}
}

// UserID reads the authenticated user id from locals. Zero means the request
// did not pass RequireUser.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(KeyUserID).(uint); ok {
		return id
	}
	return 0
}
