package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
)

var allowedExtensions = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
}

// ValidateFilename checks that name is a bare file name with an accepted image
// extension and returns the lower-cased extension without the dot.
func ValidateFilename(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("file name %q: %w", name, common.ErrInvalidInput)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fmt.Errorf("file type %q not allowed: %w", ext, common.ErrInvalidInput)
	}
	return ext, nil
}

// NewImageID names a stored upload: a fresh uuid with the original extension.
func NewImageID(ext string) string {
	return uuid.NewString() + "." + ext
}

// ContentTypeFor maps an accepted extension to its MIME type.
func ContentTypeFor(ext string) string {
	return allowedExtensions[strings.ToLower(ext)]
}
