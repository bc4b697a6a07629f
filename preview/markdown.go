package preview

import (
	"bytes"
	"fmt"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
)

// MaxMarkdownBytes bounds the files RenderMarkdownFile will load.
const MaxMarkdownBytes = 2 << 20

// Raw HTML in uploaded markdown is omitted.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Typographer,
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// RenderMarkdown converts markdown source to an HTML fragment.
func RenderMarkdown(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdownFile loads and renders the file at path.
func RenderMarkdownFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, path)
	}
	if info.Size() > MaxMarkdownBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", apperr.ErrIO, path, MaxMarkdownBytes)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	return RenderMarkdown(source)
}
