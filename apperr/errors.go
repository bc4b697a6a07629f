// Package apperr holds the error kinds shared by the path guard, the file
// streamer and the HTTP handlers.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidPath marks traversal or NUL byte attempts.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound marks a missing, non-regular or unreadable target.
	ErrNotFound = errors.New("not found")
	// ErrRangeNotSatisfiable marks a Range header outside the file.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrIO marks an unexpected read failure.
	ErrIO = errors.New("i/o failure")
)

// Status maps an error to the HTTP status reported for it.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}
