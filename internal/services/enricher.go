package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudstorm/backend/internal/models"
)

// Enrichment holds generated metadata. Nil fields leave the file unchanged.
type Enrichment struct {
	Name             *string
	ShortDescription *string
	Tags             []string
}

// Enricher produces metadata for a file. Implementations backed by a
// language model plug in here.
type Enricher interface {
	Enrich(ctx context.Context, file *models.File, kind models.EnrichmentKind) (*Enrichment, error)
}

// MetadataEnricher derives metadata from the stored file attributes alone.
type MetadataEnricher struct{}

func (MetadataEnricher) Enrich(_ context.Context, file *models.File, kind models.EnrichmentKind) (*Enrichment, error) {
	out := &Enrichment{}

	if kind == models.EnrichmentKindUpload || kind == models.EnrichmentKindFilename {
		name := normalizeFilename(file.Name)
		out.Name = &name
	}
	if kind == models.EnrichmentKindUpload || kind == models.EnrichmentKindShortDescription {
		desc := fmt.Sprintf("%s file, %d bytes", file.FileType, file.FileSize)
		if file.FileExtension != "" {
			desc = fmt.Sprintf("%s file (.%s), %d bytes", file.FileType, file.FileExtension, file.FileSize)
		}
		out.ShortDescription = &desc
	}
	if kind == models.EnrichmentKindUpload || kind == models.EnrichmentKindTags {
		out.Tags = []string{string(file.FileType)}
		if file.FileExtension != "" {
			out.Tags = append(out.Tags, file.FileExtension)
		}
	}

	return out, nil
}

// normalizeFilename lowercases the base name and joins words with dashes,
// keeping the extension.
func normalizeFilename(name string) string {
	rawExt := filepath.Ext(name)
	base := strings.TrimSuffix(name, rawExt)
	ext := strings.ToLower(strings.TrimPrefix(rawExt, "."))

	fields := strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})
	out := strings.Join(fields, "-")
	if out == "" {
		out = "file"
	}
	if ext != "" {
		out += "." + ext
	}
	return out
}
