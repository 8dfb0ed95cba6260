// Package middleware provides HTTP middleware for the fiber API.
package middleware

import (
	"strings"

	"paycore/internal/models"
	"paycore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware validates bearer tokens and stores the claims in the
// request context under "claims".
type AuthMiddleware struct {
	secret string
	logger *logrus.Entry
}

func NewAuthMiddleware(secret string, logger *logrus.Entry) *AuthMiddleware {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AuthMiddleware{secret: secret, logger: logger.WithField("component", "auth")}
}

func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
	}

	claims, err := utils.ParseToken(m.secret, strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		m.logger.WithError(err).WithField("path", c.Path()).Debug("token rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	c.Locals("claims", claims)
	return c.Next()
}

// AdminOnly rejects callers whose token does not carry the admin role.
func AdminOnly(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(*models.Claims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid claims"})
	}
	if !claims.IsAdmin() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Insufficient permissions"})
	}
	return c.Next()
}
