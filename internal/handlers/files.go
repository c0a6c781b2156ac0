package handlers

import (
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type FilesHandler struct {
	Files *services.FileService
	Mass  *services.MassDeleteService
}

func NewFilesHandler(files *services.FileService, mass *services.MassDeleteService) *FilesHandler {
	return &FilesHandler{Files: files, Mass: mass}
}

// Upload accepts one or more "file" parts for the same group. A single part
// returns the file; several return {"files": [...]}.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.FormValue("groupID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["file"]) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	aiEnabled, _ := strconv.ParseBool(c.FormValue("aiEnabled"))
	tags := splitTags(c.FormValue("tags"))
	passcode := passcodeFrom(c)

	entries := make([]services.UploadInput, 0, len(form.File["file"]))
	for _, fileHeader := range form.File["file"] {
		stream, err := fileHeader.Open()
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
		}
		defer stream.Close()

		filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))
		entries = append(entries, services.UploadInput{
			GroupID:     groupID,
			Passcode:    passcode,
			Name:        filename,
			Size:        fileHeader.Size,
			ContentType: uploadContentType(fileHeader.Header.Get("Content-Type"), filename),
			Body:        stream,
			Tags:        tags,
			AIEnabled:   aiEnabled,
		})
	}

	actor := middleware.GetPrincipal(c)
	if len(entries) == 1 {
		file, err := h.Files.Upload(c.UserContext(), actor, entries[0])
		if err != nil {
			return respondError(c, err, "failed uploading file")
		}
		return utils.Success(c, fiber.StatusCreated, file)
	}

	files, err := h.Files.UploadMany(c.UserContext(), actor, entries)
	if err != nil {
		return respondError(c, err, "failed uploading files")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"files": files})
}

// ZipUpload unpacks an uploaded zip archive into the group.
func (h *FilesHandler) ZipUpload(c *fiber.Ctx) error {
	groupID, err := parseUUID(c.FormValue("groupID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	aiEnabled, _ := strconv.ParseBool(c.FormValue("aiEnabled"))
	files, err := h.Files.UploadArchive(c.UserContext(), middleware.GetPrincipal(c), services.UploadArchiveInput{
		GroupID:   groupID,
		Passcode:  passcodeFrom(c),
		Name:      fileHeader.Filename,
		Archive:   stream,
		Size:      fileHeader.Size,
		Tags:      splitTags(c.FormValue("tags")),
		AIEnabled: aiEnabled,
	})
	if err != nil {
		return respondError(c, err, "failed uploading archive")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"files": files})
}

func uploadContentType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (h *FilesHandler) List(c *fiber.Ctx) error {
	page := utils.ParsePagination(c)
	in := services.ListFilesInput{
		Passcode: passcodeFrom(c),
		Name:     c.Query("name"),
		FileType: models.FileType(c.Query("fileType")),
		Search:   c.Query("search"),
		Tags:     splitTags(c.Query("tags")),
		Page:     page,
	}
	if raw := c.Query("groupID"); raw != "" {
		groupID, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
		}
		in.GroupID = groupID
	}

	files, total, err := h.Files.List(c.UserContext(), middleware.GetPrincipal(c), in)
	if err != nil {
		return respondError(c, err, "failed listing files")
	}
	return utils.Paginated(c, files, page, total)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	file, err := h.Files.Get(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed loading file")
	}
	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) DownloadURL(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	url, err := h.Files.DownloadURL(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed generating download url")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"url": url})
}

type updateFileRequest struct {
	Name             *string  `json:"name"`
	ShortDescription *string  `json:"shortDescription"`
	Tags             []string `json:"tags"`
}

func (h *FilesHandler) Update(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req updateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	file, err := h.Files.Update(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c), services.UpdateFileInput{
		Name:             req.Name,
		ShortDescription: req.ShortDescription,
		Tags:             req.Tags,
	})
	if err != nil {
		return respondError(c, err, "failed updating file")
	}
	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Files.Delete(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c)); err != nil {
		return respondError(c, err, "failed deleting file")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file deleted"})
}

type regenerateRequest struct {
	Kind string `json:"kind"`
}

func (h *FilesHandler) Regenerate(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req regenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.Files.Regenerate(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c), models.EnrichmentKind(req.Kind))
	if err != nil {
		return respondError(c, err, "failed submitting regeneration")
	}
	return utils.Success(c, fiber.StatusAccepted, job)
}

func (h *FilesHandler) EnrichmentStatus(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	job, err := h.Files.LatestJob(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed loading enrichment status")
	}
	if job == nil {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"status": "none"})
	}
	return utils.Success(c, fiber.StatusOK, job)
}

func (h *FilesHandler) RetryEnrichment(c *fiber.Ctx) error {
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	job, err := h.Files.RetryEnrichment(c.UserContext(), middleware.GetPrincipal(c), fileID, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed retrying enrichment")
	}
	return utils.Success(c, fiber.StatusAccepted, job)
}

type massDeleteRequest struct {
	GroupID string   `json:"groupID"`
	FileIDs []string `json:"fileIDs"`
}

func (h *FilesHandler) MassDelete(c *fiber.Ctx) error {
	var req massDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	groupID, err := parseUUID(req.GroupID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}
	ids := make([]uuid.UUID, 0, len(req.FileIDs))
	for _, raw := range req.FileIDs {
		id, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid file id "+raw)
		}
		ids = append(ids, id)
	}

	deleted, err := h.Mass.MassDelete(c.UserContext(), middleware.GetPrincipal(c), groupID, ids, passcodeFrom(c))
	if err != nil {
		return respondError(c, err, "failed deleting files")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": deleted})
}
