// Package preview extracts displayable details from stored files: EXIF tags
// of images and rendered markdown.
package preview

import (
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
)

// stringTags collects every ASCII valued tag.
type stringTags map[string]string

func (s stringTags) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag.Format() != tiff.StringVal {
		return nil
	}
	if v, err := tag.StringVal(); err == nil && v != "" {
		s[string(name)] = v
	}
	return nil
}

// ReadExif returns the string valued EXIF tags of the file at path. Files
// without EXIF data give an empty map; only a file that cannot be opened is
// an error.
func ReadExif(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	defer f.Close()

	tags := stringTags{}
	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF data is not an error
		return tags, nil
	}
	// a walk cut short still leaves the tags read so far
	_ = x.Walk(tags)
	return tags, nil
}
