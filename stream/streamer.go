// Package stream serves files from the upload root with conditional GET,
// single byte ranges and chunked, flushed delivery.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
	"github.com/Kighlander1975/dbe-exercise-file-upload/pathsafe"
)

const (
	DefaultChunkSize   = 64 * 1024
	DefaultCacheMaxAge = 24 * time.Hour
)

type Options struct {
	ChunkSize       int
	CacheMaxAge     time.Duration
	ForceAttachment bool
}

// Request carries the parts of an HTTP request the streamer looks at.
type Request struct {
	Name            string
	Attachment      bool
	IfNoneMatch     string
	IfModifiedSince string
	Range           string
}

// Response is a fully negotiated reply. Header is complete before any byte
// of the body is produced. When HasBody is true the caller must either send
// the body (Body or WriteTo) or call Close.
type Response struct {
	Status int
	Header http.Header
	Path   string
	Size   int64
	Range  Range

	file      *os.File
	chunkSize int
	closeOnce sync.Once
}

type Streamer struct {
	guard  *pathsafe.Guard
	opts   Options
	detect func(string) string
}

func New(guard *pathsafe.Guard, opts Options) *Streamer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = DefaultCacheMaxAge
	}
	return &Streamer{guard: guard, opts: opts, detect: DetectMIME}
}

// Open walks a request through path resolution, validation, cache
// negotiation and range computation. Errors wrap the apperr sentinels; an
// unsatisfiable range is a *RangeError carrying the file size.
func (s *Streamer) Open(req Request) (*Response, error) {
	path, err := s.guard.Resolve(req.Name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, req.Name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperr.ErrNotFound, req.Name, err)
	}

	size := info.Size()
	etag := ETag(path, size, info.ModTime())

	header := http.Header{}
	header.Set("ETag", etag)
	header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.opts.CacheMaxAge.Seconds())))

	notModified := MatchesETag(req.IfNoneMatch, etag)
	if req.IfNoneMatch == "" {
		notModified = NotModifiedSince(req.IfModifiedSince, info.ModTime())
	}
	if notModified {
		f.Close()
		return &Response{Status: http.StatusNotModified, Header: header, Path: path, Size: size}, nil
	}

	rng, err := ParseRange(req.Range, size)
	if err != nil {
		f.Close()
		if errors.Is(err, apperr.ErrRangeNotSatisfiable) {
			return nil, &RangeError{Size: size}
		}
		return nil, err
	}

	header.Set("Content-Type", s.detect(path))
	header.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	header.Set("Accept-Ranges", "bytes")
	if rng.Status == http.StatusPartialContent {
		header.Set("Content-Range", rng.ContentRange(size))
	}
	header.Set("Content-Disposition", ContentDisposition(req.Attachment || s.opts.ForceAttachment, filepath.Base(path)))

	return &Response{
		Status:    rng.Status,
		Header:    header,
		Path:      path,
		Size:      size,
		Range:     rng,
		file:      f,
		chunkSize: s.opts.ChunkSize,
	}, nil
}

// HasBody reports whether the response still owns an open file.
func (r *Response) HasBody() bool {
	return r.file != nil
}

// ContentLength is the number of body bytes, zero for 304.
func (r *Response) ContentLength() int64 {
	if r.file == nil {
		return 0
	}
	return r.Range.Length()
}

// Close releases the file handle. Safe to call more than once.
func (r *Response) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.file != nil {
			err = r.file.Close()
		}
	})
	return err
}

// Body returns a reader over the selected range that hands out at most one
// chunk per Read and closes the file when closed.
func (r *Response) Body() io.ReadCloser {
	return &body{
		section: io.NewSectionReader(r.file, r.Range.Start, r.ContentLength()),
		chunk:   r.chunkSize,
		close:   r.Close,
	}
}

type flusher interface {
	Flush() error
}

// WriteTo copies the selected range to w one chunk at a time, flushing after
// every chunk when w is a bufio style writer or an http.Flusher. The file is
// closed when WriteTo returns, whatever the outcome.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	if r.file == nil {
		return 0, nil
	}
	b := r.Body()
	defer b.Close()

	buf := make([]byte, r.chunkSize)
	var written int64
	for {
		n, readErr := b.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, fmt.Errorf("%w: write: %v", apperr.ErrIO, err)
			}
			switch f := w.(type) {
			case flusher:
				if err := f.Flush(); err != nil {
					return written, fmt.Errorf("%w: flush: %v", apperr.ErrIO, err)
				}
			case http.Flusher:
				f.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: read: %v", apperr.ErrIO, readErr)
		}
	}
}

type body struct {
	section *io.SectionReader
	chunk   int
	close   func() error
}

func (b *body) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	return b.section.Read(p)
}

func (b *body) Close() error {
	return b.close()
}
