package middleware

import (
	"strings"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

const principalKey = "principal"

// AuthMiddleware turns a bearer token into a services.Principal. Requests
// without a usable token continue as the anonymous principal unless the
// route uses RequireAuth.
type AuthMiddleware struct {
	DB *gorm.DB
}

func NewAuthMiddleware(db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{DB: db}
}

func CORS(origins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Group-Passcode",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	principal, reason := a.resolve(c, authHeader)
	if reason != "" {
		logger.Warn("jwt_rejected", map[string]interface{}{
			"ip":     c.IP(),
			"path":   c.Path(),
			"reason": reason,
		})
		return utils.Error(c, fiber.StatusUnauthorized, reason)
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Next()
	}
	if principal, reason := a.resolve(c, authHeader); reason == "" {
		c.Locals(principalKey, principal)
	}
	return c.Next()
}

// resolve returns the principal for a header, or a non-empty rejection
// message.
func (a *AuthMiddleware) resolve(c *fiber.Ctx, authHeader string) (services.Principal, string) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return services.Principal{}, "invalid authorization format"
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		return services.Principal{}, "invalid or expired token"
	}

	var user models.User
	if err := a.DB.WithContext(c.UserContext()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		return services.Principal{}, "user not found"
	}

	return services.Principal{
		ID:              user.ID,
		IsAuthenticated: true,
		IsVerified:      user.IsVerified,
	}, ""
}

// GetPrincipal returns the caller resolved by the auth middleware, or the
// anonymous principal.
func GetPrincipal(c *fiber.Ctx) services.Principal {
	if p, ok := c.Locals(principalKey).(services.Principal); ok {
		return p
	}
	return services.Anonymous()
}
