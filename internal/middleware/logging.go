package middleware

import (
	"time"

	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestLogger writes one entry per request. Client errors, denials
// included, are warnings; only 5xx responses log at error level.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := uuid.NewString()
		c.Locals("requestID", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		details := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status_code": statusCode,
			"latency_ms":  time.Since(start).Milliseconds(),
			"ip":          c.IP(),
			"request_id":  requestID,
		}

		principal := GetPrincipal(c)
		userID := ""
		if principal.IsAuthenticated {
			userID = principal.ID.String()
		}

		switch {
		case statusCode >= 500:
			if userID != "" {
				logger.ErrorWithUser(userID, "http_request", err, details)
			} else {
				logger.Error("http_request", err, details)
			}
		case statusCode >= 400:
			if userID != "" {
				logger.WarnWithUser(userID, "http_request", details)
			} else {
				logger.Warn("http_request", details)
			}
		default:
			if userID != "" {
				logger.InfoWithUser(userID, "http_request", details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}
