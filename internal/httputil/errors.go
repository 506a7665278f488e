package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"audio-processing-api/internal/models"
)

// WriteError standardizes JSON error responses across all endpoints.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(models.ErrorResponse{Error: msg})
}
