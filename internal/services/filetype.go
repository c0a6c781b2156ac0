package services

import (
	"path/filepath"
	"strings"

	"github.com/cloudstorm/backend/internal/models"
)

var extensionTypes = map[string]models.FileType{
	"jpg": models.FileTypeImage, "jpeg": models.FileTypeImage, "png": models.FileTypeImage,
	"gif": models.FileTypeImage, "bmp": models.FileTypeImage, "tiff": models.FileTypeImage,
	"svg": models.FileTypeImage, "webp": models.FileTypeImage, "jfif": models.FileTypeImage,

	"mp4": models.FileTypeVideo, "avi": models.FileTypeVideo, "mov": models.FileTypeVideo,
	"mkv": models.FileTypeVideo, "flv": models.FileTypeVideo, "wmv": models.FileTypeVideo,
	"webm": models.FileTypeVideo,

	"pdf": models.FileTypeDocument, "doc": models.FileTypeDocument, "docx": models.FileTypeDocument,
	"txt": models.FileTypeDocument, "xls": models.FileTypeDocument, "xlsx": models.FileTypeDocument,
	"ppt": models.FileTypeDocument, "pptx": models.FileTypeDocument, "csv": models.FileTypeDocument,

	"mp3": models.FileTypeAudio, "wav": models.FileTypeAudio, "aac": models.FileTypeAudio,
	"flac": models.FileTypeAudio, "ogg": models.FileTypeAudio, "m4a": models.FileTypeAudio,
}

// FileExtension returns the lowercased extension of name without the dot.
func FileExtension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func DetectFileType(name string) models.FileType {
	if t, ok := extensionTypes[FileExtension(name)]; ok {
		return t
	}
	return models.FileTypeOther
}

// mergeTags appends the tags in extra missing from base, preserving order.
func mergeTags(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
