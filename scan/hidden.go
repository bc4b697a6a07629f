package scan

import (
	"runtime"
	"strings"
)

// systemDirs are skipped everywhere, compared case-insensitively.
var systemDirs = []string{
	"$RECYCLE.BIN",
	"System Volume Information",
	"lost+found",
}

// windowsSystemDirs are only reserved on Windows volumes.
var windowsSystemDirs = []string{
	"Config.Msi",
	"Recovery",
	"Recycler",
	"MSOCache",
}

// HiddenPolicy decides which names never show up in trees and listings.
// Dot names are hidden unless they appear in Allow.
type HiddenPolicy struct {
	Allow []string
}

// Hidden reports whether name is a dot name that is not allow-listed.
func (p HiddenPolicy) Hidden(name string) bool {
	if name == "" || name[0] != '.' {
		return false
	}
	for _, allowed := range p.Allow {
		if name == allowed {
			return false
		}
	}
	return true
}

// Skip reports whether an entry should be left out. System directory names
// only apply to directories.
func (p HiddenPolicy) Skip(name string, isDir bool) bool {
	if p.Hidden(name) {
		return true
	}
	return isDir && IsSystemDir(name)
}

// IsSystemDir matches reserved volume directories. On Windows every name
// starting with '$' is reserved as well.
func IsSystemDir(name string) bool {
	for _, d := range systemDirs {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	if runtime.GOOS != "windows" {
		return false
	}
	if strings.HasPrefix(name, "$") {
		return true
	}
	for _, d := range windowsSystemDirs {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}
