package scan

import (
	"os"
	"path/filepath"
	"runtime"
)

const probeBatch = 64

func DefaultConcurrency() int {
	maxProcs := runtime.GOMAXPROCS(0)
	numCPU := runtime.NumCPU()
	if maxProcs < numCPU {
		return maxProcs
	}
	return numCPU
}

// hasSubdir reports whether dir contains at least one visible directory. It
// reads the directory in small batches and stops at the first hit.
func hasSubdir(dir string, policy HiddenPolicy) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()

	for {
		entries, err := f.ReadDir(probeBatch)
		for _, entry := range entries {
			if isVisibleDir(dir, entry, policy) {
				return true
			}
		}
		// io.EOF and read errors both end the probe
		if err != nil {
			return false
		}
	}
}

// subdirs returns the visible subdirectories of dir sorted like listings.
// Errors give an empty result.
func subdirs(dir string, policy HiddenPolicy) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	dirs := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if isVisibleDir(dir, entry, policy) {
			dirs = append(dirs, entry)
		}
	}
	sortDirEntries(dirs)
	return dirs
}

// isVisibleDir follows symlinks so a link to a directory counts as one.
func isVisibleDir(parent string, entry os.DirEntry, policy HiddenPolicy) bool {
	name := entry.Name()
	if policy.Hidden(name) {
		return false
	}

	isDir := entry.IsDir()
	if !isDir && entry.Type()&os.ModeSymlink != 0 {
		info, err := os.Stat(filepath.Join(parent, name))
		isDir = err == nil && info.IsDir()
	}
	return isDir && !IsSystemDir(name)
}
