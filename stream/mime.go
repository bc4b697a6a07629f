package stream

import "github.com/gabriel-vasile/mimetype"

const fallbackMIME = "application/octet-stream"

// DetectMIME classifies a file by its leading bytes. Unreadable files and
// unknown content yield application/octet-stream.
func DetectMIME(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil || m == nil {
		return fallbackMIME
	}
	if s := m.String(); s != "" {
		return s
	}
	return fallbackMIME
}
