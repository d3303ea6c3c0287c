// Package uploads validates and stores profile images. Images go either to a
// local directory or to an S3-compatible bucket.
package uploads

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted upload, 2 MiB.
const MaxImageSize int64 = 2 << 20

var (
	ErrEmptyFile          = errors.New("empty file")
	ErrFileTooLarge       = errors.New("file too large")
	ErrExtensionForbidden = errors.New("file extension not allowed")
)

var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
}

// Store persists an uploaded object under name. Delete of a missing object
// is not an error.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) error
	Delete(ctx context.Context, name string) error
}

// Validate checks the client-supplied file name and size and returns the
// lower-cased extension to store the file under.
func Validate(filename string, size int64) (string, error) {
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if size > MaxImageSize {
		return "", ErrFileTooLarge
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", ErrExtensionForbidden
	}
	return ext, nil
}

// NewFileName returns a fresh, unguessable object name with the given
// extension.
func NewFileName(ext string) string {
	return "img_" + uuid.NewString() + "." + ext
}
