package utils

import "github.com/gofiber/fiber/v2"

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// Denied is an error envelope that also names the machine-readable reason
// an access decision gave.
func Denied(c *fiber.Ctx, status int, message, reason string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"reason":  reason,
	})
}

func Paginated(c *fiber.Ctx, data interface{}, p PaginationParams, total int64) error {
	totalPages := 0
	if p.Limit > 0 {
		totalPages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"pagination": fiber.Map{
			"page":       p.Page,
			"limit":      p.Limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}
