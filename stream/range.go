package stream

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
)

var rangeRegex = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// Range is an inclusive byte span of a file plus the status it is served with.
type Range struct {
	Start  int64
	End    int64
	Status int
}

// Length is the number of bytes in the span.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for a 206 response.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// RangeError is returned when a Range header cannot be satisfied. Size is
// needed for the "bytes */<size>" Content-Range of the 416 response.
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d bytes", e.Size)
}

func (e *RangeError) Unwrap() error {
	return apperr.ErrRangeNotSatisfiable
}

// ParseRange turns a Range header into a span of a file of the given size.
//
// An empty or malformed header (other unit, several ranges, garbage) selects
// the whole file with status 200. "bytes=-N" selects the last N bytes. A
// start beyond the end of the file, or a start after the end bound, fails with
// apperr.ErrRangeNotSatisfiable. An end bound past the file is clamped to
// size-1.
func ParseRange(header string, size int64) (Range, error) {
	full := Range{Start: 0, End: size - 1, Status: http.StatusOK}

	header = strings.TrimSpace(header)
	if header == "" {
		return full, nil
	}

	m := rangeRegex.FindStringSubmatch(header)
	if m == nil || (m[1] == "" && m[2] == "") {
		return full, nil
	}
	startStr, endStr := m[1], m[2]

	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return full, nil
		}
		if suffix == 0 || size == 0 {
			return Range{}, apperr.ErrRangeNotSatisfiable
		}
		start := size - suffix
		if start < 0 {
			start = 0
		}
		return Range{Start: start, End: size - 1, Status: http.StatusPartialContent}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return full, nil
	}
	end := size - 1
	if endStr != "" {
		if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return full, nil
		}
	}

	if start >= size || start > end {
		return Range{}, apperr.ErrRangeNotSatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return Range{Start: start, End: end, Status: http.StatusPartialContent}, nil
}
