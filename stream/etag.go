package stream

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ETag fingerprints a file by its absolute path, size and modification time.
func ETag(path string, size int64, modTime time.Time) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%d", path, size, modTime.UnixNano())
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// MatchesETag reports whether an If-None-Match value names etag. The value may
// be "*" or a comma separated list; weak validators compare by their opaque part.
func MatchesETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// NotModifiedSince reports whether an If-Modified-Since value is at or after
// modTime. HTTP dates carry whole seconds, so modTime is truncated first.
func NotModifiedSince(ifModifiedSince string, modTime time.Time) bool {
	if ifModifiedSince == "" {
		return false
	}
	t, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}
