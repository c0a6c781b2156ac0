package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
)

type UploadArchiveInput struct {
	GroupID   uuid.UUID
	Passcode  string
	Name      string
	Archive   io.ReaderAt
	Size      int64
	Tags      []string
	AIEnabled bool
}

// UploadArchive unpacks a zip archive and uploads every regular, non-empty
// entry into the group as its own file, with the same all-or-nothing rules
// as UploadMany. Directory structure is flattened to base names.
func (s *FileService) UploadArchive(ctx context.Context, actor Principal, in UploadArchiveInput) ([]models.File, error) {
	if !strings.EqualFold(path.Ext(strings.TrimSpace(in.Name)), ".zip") {
		return nil, invalidInput("uploaded file is not a zip archive")
	}
	reader, err := zip.NewReader(in.Archive, in.Size)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, zip.ErrChecksum) {
			return nil, invalidInput("invalid zip archive")
		}
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	var entries []UploadInput
	var opened []io.Closer
	defer func() {
		for _, c := range opened {
			c.Close()
		}
	}()

	for _, f := range reader.File {
		if !archiveEntryWanted(f) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, invalidInput(fmt.Sprintf("unreadable archive entry %q", f.Name))
		}
		opened = append(opened, rc)

		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		size := int64(f.UncompressedSize64)
		entries = append(entries, UploadInput{
			GroupID:     in.GroupID,
			Passcode:    in.Passcode,
			Name:        name,
			Size:        size,
			ContentType: contentTypeFor(name),
			Body:        io.LimitReader(rc, size),
			Tags:        in.Tags,
			AIEnabled:   in.AIEnabled,
		})
	}
	if len(entries) == 0 {
		return nil, invalidInput("archive contains no files")
	}

	files, err := s.UploadMany(ctx, actor, entries)
	if err != nil {
		return nil, err
	}
	logger.InfoWithUser(actor.ID.String(), "archive_uploaded", map[string]interface{}{
		"group_id": in.GroupID.String(),
		"archive":  in.Name,
		"files":    len(files),
	})
	return files, nil
}

func archiveEntryWanted(f *zip.File) bool {
	if f.FileInfo().IsDir() || !f.Mode().IsRegular() || f.UncompressedSize64 == 0 {
		return false
	}
	name := strings.ReplaceAll(f.Name, "\\", "/")
	if strings.HasPrefix(name, "__MACOSX/") {
		return false
	}
	return !strings.HasPrefix(path.Base(name), ".")
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
