// Package uploads validates, stores and records files uploaded into the
// upload root, from plain multipart forms and from resumable tus sessions.
package uploads

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Kighlander1975/dbe-exercise-file-upload/pathsafe"
)

var (
	ErrInvalidStructure = errors.New("invalid upload")
	ErrTooLarge         = errors.New("file too large")
	ErrExtension        = errors.New("file type not allowed")
	ErrMove             = errors.New("could not store file")
)

var folderPattern = regexp.MustCompile(`^[a-zA-Z0-9/_-]+$`)

type Policy struct {
	MaxBytes   int64
	AllowedExt []string
}

// CheckFolder accepts an empty folder or one made of letters, digits, '/',
// '_' and '-'.
func (p Policy) CheckFolder(folder string) error {
	if folder == "" {
		return nil
	}
	if !folderPattern.MatchString(folder) {
		return fmt.Errorf("%w: folder %q", ErrInvalidStructure, folder)
	}
	return nil
}

// Check validates the original file name and size.
func (p Policy) Check(name string, size int64) error {
	if baseName(name) == "" {
		return fmt.Errorf("%w: missing file name", ErrInvalidStructure)
	}
	if size > p.MaxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, p.MaxBytes)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(baseName(name)), "."))
	for _, allowed := range p.AllowedExt {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrExtension, ext)
}

// StoredName prefixes the cleaned original name with a random id so
// concurrent uploads of the same name never collide. The name is cleaned the
// way /file resolves names, so the stored file can always be served.
func StoredName(original string) string {
	return uuid.NewString() + "-" + pathsafe.SanitizeSegment(baseName(original))
}

// baseName strips any client side directory, whichever separator it uses.
func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Reason is the short outcome label used in metrics and flash messages.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrExtension):
		return "extension"
	case errors.Is(err, ErrInvalidStructure):
		return "invalid"
	default:
		return "store_failed"
	}
}
