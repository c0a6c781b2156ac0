package handlers

import (
	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

type Router struct {
	Auth   *middleware.AuthMiddleware
	Groups *GroupsHandler
	Files  *FilesHandler
	Access *AccessHandler
}

// Register mounts the API under /api. Every route resolves the caller
// first; the access engine itself rejects anonymous callers where needed.
func (r *Router) Register(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", r.Auth.OptionalAuth)

	api.Post("/access/check", r.Access.Check)

	groupRoutes := api.Group("/groups")
	groupRoutes.Post("/", r.Auth.RequireAuth, r.Groups.Create)
	groupRoutes.Get("/", r.Auth.RequireAuth, r.Groups.List)
	groupRoutes.Get("/:id", r.Groups.Get)
	groupRoutes.Put("/:id", r.Groups.Update)
	groupRoutes.Put("/:id/passcode", r.Groups.SetPasscode)
	groupRoutes.Delete("/:id", r.Groups.Delete)
	groupRoutes.Post("/:id/members", r.Groups.AddMember)
	groupRoutes.Put("/:id/members/:userId", r.Groups.UpdateMember)
	groupRoutes.Delete("/:id/members/:userId", r.Groups.RemoveMember)

	fileRoutes := api.Group("/files")
	fileRoutes.Post("/upload", r.Files.Upload)
	fileRoutes.Post("/zip-upload", r.Files.ZipUpload)
	fileRoutes.Post("/mass-delete", r.Files.MassDelete)
	fileRoutes.Get("/", r.Files.List)
	fileRoutes.Get("/:id/download-url", r.Files.DownloadURL)
	fileRoutes.Get("/:id/enrichment", r.Files.EnrichmentStatus)
	fileRoutes.Post("/:id/enrichment/retry", r.Files.RetryEnrichment)
	fileRoutes.Post("/:id/regenerate", r.Files.Regenerate)
	fileRoutes.Get("/:id", r.Files.Get)
	fileRoutes.Put("/:id", r.Files.Update)
	fileRoutes.Delete("/:id", r.Files.Delete)
}
