package utils

import (
	"errors"

	"paycore/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetClaims extracts the caller's claims from the Fiber context.
func GetClaims(c *fiber.Ctx) (*models.Claims, error) {
	v := c.Locals("claims")
	if v == nil {
		return nil, errors.New("claims not found in context")
	}

	claims, ok := v.(*models.Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
