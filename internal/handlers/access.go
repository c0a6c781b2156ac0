package handlers

import (
	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AccessHandler lets clients ask ahead of time whether an action would be
// allowed, so a UI can hide controls the caller cannot use.
type AccessHandler struct {
	Access *services.AccessService
}

func NewAccessHandler(access *services.AccessService) *AccessHandler {
	return &AccessHandler{Access: access}
}

type accessCheckRequest struct {
	Action       string `json:"action"`
	GroupID      string `json:"groupID"`
	FileID       string `json:"fileID"`
	TargetUserID string `json:"targetUserID"`
}

func (h *AccessHandler) Check(c *fiber.Ctx) error {
	var req accessCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	decision := services.Request{
		Actor:    middleware.GetPrincipal(c),
		Action:   services.Action(req.Action),
		Passcode: passcodeFrom(c),
	}
	var err error
	if decision.GroupID, err = optionalUUID(req.GroupID); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}
	if decision.FileID, err = optionalUUID(req.FileID); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid fileID")
	}
	if decision.TargetUserID, err = optionalUUID(req.TargetUserID); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid targetUserID")
	}

	verdict := h.Access.Decide(c.UserContext(), decision)
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"allowed": verdict.Allowed(),
		"outcome": verdict.Outcome.String(),
		"reason":  verdict.Reason.String(),
	})
}

func optionalUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	return parseUUID(raw)
}
