package main

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/metrics"
	"github.com/Kighlander1975/dbe-exercise-file-upload/preview"
	"github.com/Kighlander1975/dbe-exercise-file-upload/stream"
)

// handleFile streams a stored file: GET /file?name=<relative>[&download=1].
func (s *server) handleFile(c *fiber.Ctx) error {
	logger := logging.FromCtx(c)
	name := s.uploadName(c.Query("name"))

	resp, err := s.streamer.Open(stream.Request{
		Name:            name,
		Attachment:      c.Query("download") == "1",
		IfNoneMatch:     c.Get(fiber.HeaderIfNoneMatch),
		IfModifiedSince: c.Get(fiber.HeaderIfModifiedSince),
		Range:           c.Get(fiber.HeaderRange),
	})
	if err != nil {
		var rangeErr *stream.RangeError
		if errors.As(err, &rangeErr) {
			metrics.RecordStream(fiber.StatusRequestedRangeNotSatisfiable, 0)
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", rangeErr.Size))
			return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)
		}

		code := apperr.Status(err)
		metrics.RecordStream(code, 0)
		if errors.Is(err, apperr.ErrInvalidPath) {
			logger.Warn("rejected file path", zap.String("name", name), zap.String("ip", c.IP()))
		} else {
			logger.Debug("file not served", zap.String("name", name), zap.Error(err))
		}
		return c.Status(code).SendString(http.StatusText(code))
	}

	for key, values := range resp.Header {
		if key == fiber.HeaderContentLength {
			continue
		}
		c.Set(key, values[0])
	}
	c.Status(resp.Status)

	if !resp.HasBody() {
		metrics.RecordStream(resp.Status, 0)
		return nil
	}

	n := resp.ContentLength()
	if c.Method() == fiber.MethodHead || n == 0 {
		resp.Close()
		metrics.RecordStream(resp.Status, 0)
		c.Response().Header.SetContentLength(int(n))
		return nil
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		written, err := resp.WriteTo(w)
		metrics.RecordStream(resp.Status, written)
		if err != nil {
			// usually the client went away mid transfer
			logger.Debug("stream ended early", zap.String("name", name), zap.Int64("written", written), zap.Error(err))
		}
	})
	// SetBodyStreamWriter resets the length to chunked
	c.Response().Header.SetContentLength(int(n))
	return nil
}

// handleZipDownload streams an upload folder as a zip archive.
func (s *server) handleZipDownload(c *fiber.Ctx) error {
	logger := logging.FromCtx(c)
	name := s.uploadName(c.Query("name"))

	fullPath, err := s.guard.Resolve(name)
	if err != nil {
		return err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, name)
	}
	if !info.IsDir() {
		return fiber.NewError(fiber.StatusBadRequest, "Path must be a directory")
	}

	zipName := filepath.Base(fullPath) + ".zip"
	if fullPath == s.guard.Root() {
		zipName = "uploads.zip"
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, stream.ContentDisposition(true, zipName))

	if c.Method() == fiber.MethodHead {
		return nil
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := s.writeZip(w, fullPath); err != nil {
			logger.Warn("zip stream failed", zap.String("name", name), zap.Error(err))
			return
		}
		logger.Info("zip download completed", zap.String("name", name))
	})
	return nil
}

// writeZip adds every visible file below root to a zip written to w.
func (s *server) writeZip(w io.Writer, root string) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if s.hidden.Skip(info.Name(), info.IsDir()) || strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// handleExif answers GET /exif?path= with the string EXIF tags of an
// uploaded image.
func (s *server) handleExif(c *fiber.Ctx) error {
	input := c.Query("path")
	if input == "" {
		input = c.Query("name")
	}
	if input == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "No path specified",
		})
	}

	path, err := s.guard.Resolve(s.uploadName(input))
	if err == nil {
		var tags map[string]string
		if tags, err = preview.ReadExif(path); err == nil {
			return c.JSON(fiber.Map{
				"success": true,
				"exif":    tags,
			})
		}
	}

	logging.FromCtx(c).Debug("exif lookup failed", zap.String("path", input), zap.Error(err))
	msg := "File not found"
	if errors.Is(err, apperr.ErrInvalidPath) {
		msg = "Invalid path"
	}
	return c.Status(apperr.Status(err)).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// handlePreview renders an uploaded markdown file as a page.
func (s *server) handlePreview(c *fiber.Ctx) error {
	name := s.uploadName(c.Query("name"))
	path, err := s.guard.Resolve(name)
	if err != nil {
		return err
	}

	html, err := preview.RenderMarkdownFile(path)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return s.tmpl.ExecuteTemplate(c.Response().BodyWriter(), "preview.html.tmpl", previewData{
		Title: filepath.Base(path),
		Name:  name,
		Body:  safeHTML(html),
	})
}
