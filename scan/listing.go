package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	IsDir     bool      `json:"isDir"`
	IsSpecial bool      `json:"isSpecial"`
	ModTime   time.Time `json:"mtime"`
	Size      int64     `json:"size"`
	Ext       string    `json:"ext"`
}

// List returns the contents of dir: "." and ".." first (unless dir is a
// filesystem root), then directories, then files, each group sorted
// case-insensitively. Entries are stat'ed through symlinks; entries that
// cannot be stat'ed are left out. A missing or unreadable dir gives an empty
// list.
func List(dir string, policy HiddenPolicy) []Entry {
	result := []Entry{}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return result
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return result
	}

	result = append(result, Entry{Name: ".", Path: dir, IsDir: true, IsSpecial: true, ModTime: info.ModTime()})
	if parent := filepath.Dir(dir); parent != dir {
		parentEntry := Entry{Name: "..", Path: parent, IsDir: true, IsSpecial: true, ModTime: info.ModTime()}
		if pinfo, err := os.Stat(parent); err == nil {
			parentEntry.ModTime = pinfo.ModTime()
		}
		result = append(result, parentEntry)
	}

	var dirs, files []Entry
	for _, item := range items {
		name := item.Name()
		if policy.Hidden(name) {
			continue
		}

		full := filepath.Join(dir, name)
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}

		if fi.IsDir() {
			if IsSystemDir(name) {
				continue
			}
			dirs = append(dirs, Entry{Name: name, Path: full, IsDir: true, ModTime: fi.ModTime()})
			continue
		}

		files = append(files, Entry{
			Name:    name,
			Path:    full,
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
			Ext:     strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")),
		})
	}

	sortEntries(dirs)
	sortEntries(files)
	result = append(result, dirs...)
	return append(result, files...)
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return lessFold(entries[i].Name, entries[j].Name)
	})
}

func sortDirEntries(entries []os.DirEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return lessFold(entries[i].Name(), entries[j].Name())
	})
}

// lessFold orders names case-insensitively, falling back to the raw names so
// that "A" and "a" always come out in the same order.
func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
