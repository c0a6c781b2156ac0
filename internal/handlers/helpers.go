package handlers

import (
	"errors"
	"strings"

	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const passcodeHeader = "X-Group-Passcode"

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// passcodeFrom reads a private group passcode from the request header, then
// the query string.
func passcodeFrom(c *fiber.Ctx) string {
	if p := c.Get(passcodeHeader); p != "" {
		return p
	}
	return c.Query("passcode")
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// respondError maps a service error to a status code and envelope. Denials
// carry their reason code; anything unrecognised is a 500 with fallback as
// the message.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	var denied *services.DeniedError
	if errors.As(err, &denied) {
		return utils.Denied(c, deniedStatus(denied.Verdict.Reason), "access denied", denied.Verdict.Reason.String())
	}

	switch {
	case errors.Is(err, services.ErrGroupNotFound):
		return utils.Error(c, fiber.StatusNotFound, "group not found")
	case errors.Is(err, services.ErrFileNotFound):
		return utils.Error(c, fiber.StatusNotFound, "file not found")
	case errors.Is(err, services.ErrMembershipNotFound):
		return utils.Error(c, fiber.StatusNotFound, "membership not found")
	case errors.Is(err, services.ErrUserNotFound):
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrAlreadyMember):
		return utils.Error(c, fiber.StatusConflict, "user is already a member")
	case errors.Is(err, services.ErrAlreadyProcessing):
		return utils.Error(c, fiber.StatusConflict, "file is already being processed")
	case errors.Is(err, services.ErrQuotaExceeded):
		return utils.Error(c, fiber.StatusRequestEntityTooLarge, "group storage quota exceeded")
	case errors.Is(err, services.ErrInvalidInput):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	logger.Error("request_failed", err, map[string]interface{}{
		"method": c.Method(),
		"path":   c.Path(),
	})
	return utils.Error(c, fiber.StatusInternalServerError, fallback)
}

func deniedStatus(reason services.Reason) int {
	switch reason {
	case services.ReasonUnauthenticated:
		return fiber.StatusUnauthorized
	case services.ReasonResourceLocked:
		return fiber.StatusConflict
	case services.ReasonLookupFailed:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusForbidden
	}
}
