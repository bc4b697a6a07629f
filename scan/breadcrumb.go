package scan

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
)

// Crumb is one link of the breadcrumb navigation.
type Crumb struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Root  bool   `json:"root"`
}

// Breadcrumb splits path into links. Paths at or below uploadRoot start with
// an "Uploads" crumb and continue relative to it; every other path starts at
// its filesystem root (or volume on Windows).
func Breadcrumb(path, uploadRoot string) []Crumb {
	path = filepath.Clean(path)
	uploadRoot = filepath.Clean(uploadRoot)

	var crumbs []Crumb
	var base string
	if uploadRoot != "." && (path == uploadRoot || strings.HasPrefix(path, strings.TrimSuffix(uploadRoot, string(filepath.Separator))+string(filepath.Separator))) {
		base = uploadRoot
		crumbs = append(crumbs, Crumb{Label: "Uploads", Path: uploadRoot, Root: true})
	} else {
		base = volumeRoot(path)
		crumbs = append(crumbs, Crumb{Label: base, Path: base, Root: true})
	}

	rel := strings.TrimPrefix(path, base)
	current := base
	for _, part := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		current = filepath.Join(current, part)
		crumbs = append(crumbs, Crumb{Label: part, Path: current})
	}
	return crumbs
}

func volumeRoot(path string) string {
	if vol := filepath.VolumeName(path); vol != "" {
		return vol + string(filepath.Separator)
	}
	return string(filepath.Separator)
}

// Drive is a top level entry point offered next to the tree.
type Drive struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Drives lists A:\ to Z:\ volumes that exist on Windows, and "/" plus
// "/home" when present elsewhere.
func Drives() []Drive {
	var drives []Drive
	if runtime.GOOS == "windows" {
		for letter := 'A'; letter <= 'Z'; letter++ {
			root := string(letter) + `:\`
			if info, err := os.Stat(root); err == nil && info.IsDir() {
				drives = append(drives, Drive{Label: root, Path: root})
			}
		}
		return drives
	}

	drives = append(drives, Drive{Label: "Root /", Path: "/"})
	if info, err := os.Stat("/home"); err == nil && info.IsDir() {
		drives = append(drives, Drive{Label: "Home", Path: "/home"})
	}
	return drives
}

// HumanSize renders a byte count with IEC units.
func HumanSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

var inlineExt = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "svg": true,
	"pdf": true, "mp4": true, "webm": true, "ogg": true, "mp3": true, "wav": true,
	"txt": true,
}

// IsInlineView reports whether files with the lower-case extension ext open
// in the browser rather than download.
func IsInlineView(ext string) bool {
	return inlineExt[ext]
}
