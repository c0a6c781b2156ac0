package handlers

import (
	"strconv"

	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type GroupsHandler struct {
	Groups *services.GroupService
}

func NewGroupsHandler(groups *services.GroupService) *GroupsHandler {
	return &GroupsHandler{Groups: groups}
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	IsPrivate bool     `json:"isPrivate"`
	Passcode  string   `json:"passcode"`
	MaxSize   int64    `json:"maxSize"`
	Tags      []string `json:"tags"`
}

func (h *GroupsHandler) Create(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.Groups.Create(c.UserContext(), middleware.GetPrincipal(c), services.CreateGroupInput{
		Name:      req.Name,
		IsPrivate: req.IsPrivate,
		Passcode:  req.Passcode,
		MaxSize:   req.MaxSize,
		Tags:      req.Tags,
	})
	if err != nil {
		return respondError(c, err, "failed creating group")
	}
	return utils.Success(c, fiber.StatusCreated, group)
}

func (h *GroupsHandler) List(c *fiber.Ctx) error {
	filter := services.GroupFilter{
		Name:   c.Query("name"),
		Search: c.Query("search"),
		Tags:   splitTags(c.Query("tags")),
		Page:   utils.ParsePagination(c),
	}
	if raw := c.Query("isPrivate"); raw != "" {
		isPrivate, err := strconv.ParseBool(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid isPrivate")
		}
		filter.IsPrivate = &isPrivate
	}

	groups, total, err := h.Groups.ListMine(c.UserContext(), middleware.GetPrincipal(c), filter)
	if err != nil {
		return respondError(c, err, "failed listing groups")
	}
	return utils.Paginated(c, groups, filter.Page, total)
}

func (h *GroupsHandler) Get(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	group, err := h.Groups.Get(c.UserContext(), middleware.GetPrincipal(c), groupID, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed loading group")
	}
	return utils.Success(c, fiber.StatusOK, group)
}

type updateGroupRequest struct {
	Name      *string  `json:"name"`
	IsPrivate *bool    `json:"isPrivate"`
	MaxSize   *int64   `json:"maxSize"`
	Tags      []string `json:"tags"`
}

func (h *GroupsHandler) Update(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req updateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.Groups.Update(c.UserContext(), middleware.GetPrincipal(c), groupID, passcodeFrom(c), services.UpdateGroupInput{
		Name:      req.Name,
		IsPrivate: req.IsPrivate,
		MaxSize:   req.MaxSize,
		Tags:      req.Tags,
	})
	if err != nil {
		return respondError(c, err, "failed updating group")
	}
	return utils.Success(c, fiber.StatusOK, group)
}

type setPasscodeRequest struct {
	Passcode string `json:"passcode"`
}

func (h *GroupsHandler) SetPasscode(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req setPasscodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Groups.SetPasscode(c.UserContext(), middleware.GetPrincipal(c), groupID, passcodeFrom(c), req.Passcode); err != nil {
		return respondError(c, err, "failed changing passcode")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "passcode updated"})
}

func (h *GroupsHandler) Delete(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if err := h.Groups.Delete(c.UserContext(), middleware.GetPrincipal(c), groupID, passcodeFrom(c)); err != nil {
		return respondError(c, err, "failed deleting group")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "group deleted"})
}

type addMemberRequest struct {
	UserID    string `json:"userID"`
	Role      string `json:"role"`
	CanAdd    bool   `json:"canAdd"`
	CanView   bool   `json:"canView"`
	CanEdit   bool   `json:"canEdit"`
	CanDelete bool   `json:"canDelete"`
}

func (h *GroupsHandler) AddMember(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	userID, err := parseUUID(req.UserID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	m, err := h.Groups.AddMember(c.UserContext(), middleware.GetPrincipal(c), groupID, passcodeFrom(c), services.AddMemberInput{
		UserID:    userID,
		Role:      models.GroupMembershipRole(req.Role),
		CanAdd:    req.CanAdd,
		CanView:   req.CanView,
		CanEdit:   req.CanEdit,
		CanDelete: req.CanDelete,
	})
	if err != nil {
		return respondError(c, err, "failed adding member")
	}
	return utils.Success(c, fiber.StatusCreated, m)
}

type updateMemberRequest struct {
	Role      *string `json:"role"`
	CanAdd    *bool   `json:"canAdd"`
	CanView   *bool   `json:"canView"`
	CanEdit   *bool   `json:"canEdit"`
	CanDelete *bool   `json:"canDelete"`
}

func (h *GroupsHandler) UpdateMember(c *fiber.Ctx) error {
	groupID, userID, err := memberParams(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var req updateMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	update := services.MembershipUpdate{
		CanAdd:    req.CanAdd,
		CanView:   req.CanView,
		CanEdit:   req.CanEdit,
		CanDelete: req.CanDelete,
	}
	if req.Role != nil {
		role := models.GroupMembershipRole(*req.Role)
		if !role.Valid() {
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		update.Role = &role
	}

	m, err := h.Groups.UpdateMember(c.UserContext(), middleware.GetPrincipal(c), groupID, userID, passcodeFrom(c), update)
	if err != nil {
		return respondError(c, err, "failed updating member")
	}
	return utils.Success(c, fiber.StatusOK, m)
}

func (h *GroupsHandler) RemoveMember(c *fiber.Ctx) error {
	groupID, userID, err := memberParams(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.Groups.RemoveMember(c.UserContext(), middleware.GetPrincipal(c), groupID, userID, passcodeFrom(c)); err != nil {
		return respondError(c, err, "failed removing member")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}

func memberParams(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid group id")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	return groupID, userID, nil
}
