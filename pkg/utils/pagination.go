package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams selects one page of a listing. The zero value means
// unpaginated.
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

func NewPagination(page, limit int) PaginationParams {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// ParsePagination reads ?page= and ?limit= from the request.
func ParsePagination(c *fiber.Ctx) PaginationParams {
	return NewPagination(parseIntDefault(c.Query("page"), 1), parseIntDefault(c.Query("limit"), defaultPageSize))
}

func ApplyPagination(db *gorm.DB, p PaginationParams) *gorm.DB {
	if p.Limit <= 0 {
		return db
	}
	return db.Offset(p.Offset).Limit(p.Limit)
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
