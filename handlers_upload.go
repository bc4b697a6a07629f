package main

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/scan"
	"github.com/Kighlander1975/dbe-exercise-file-upload/uploads"
)

// handleUpload stores a multipart upload (fields "file" and "folder").
// Browsers get a 303 back to the listing with a flash message; clients
// asking for JSON get the record or the rejection reason.
func (s *server) handleUpload(c *fiber.Ctx) error {
	wantsJSON := c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON

	fh, err := c.FormFile("file")
	if err != nil {
		return s.uploadResult(c, wantsJSON, nil, fiber.NewError(fiber.StatusBadRequest, "No file uploaded"))
	}
	folder := strings.Trim(strings.TrimSpace(c.FormValue("folder")), "/")

	f, err := fh.Open()
	if err != nil {
		return s.uploadResult(c, wantsJSON, nil, fmt.Errorf("%w: %v", uploads.ErrMove, err))
	}
	defer f.Close()

	rec, err := s.uploads.Save(folder, fh.Filename, fh.Size, f)
	return s.uploadResult(c, wantsJSON, rec, err)
}

func (s *server) uploadResult(c *fiber.Ctx, wantsJSON bool, rec *uploads.Record, err error) error {
	logger := logging.FromCtx(c)

	if err != nil {
		code := statusFor(err)
		msg := s.uploadMessage(err)
		logger.Info("upload rejected",
			zap.String("reason", uploads.Reason(err)),
			zap.Int("status", code),
			zap.Error(err),
		)
		if wantsJSON {
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"reason":  uploads.Reason(err),
				"message": msg,
			})
		}
		setFlash(c, "error", msg)
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	if wantsJSON {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"status": "ok",
			"upload": rec,
		})
	}
	setFlash(c, "success", "Uploaded "+rec.OriginalName)
	return c.Redirect("/?path="+url.QueryEscape(filepath.Dir(rec.StoredPath)), fiber.StatusSeeOther)
}

func (s *server) uploadMessage(err error) string {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Message
	case errors.Is(err, uploads.ErrTooLarge):
		return "File exceeds the upload limit of " + scan.HumanSize(s.cfg.Upload.MaxBytes)
	case errors.Is(err, uploads.ErrExtension):
		return "File type not allowed. Allowed: " + strings.Join(s.cfg.Upload.AllowedExt, ", ")
	case errors.Is(err, uploads.ErrInvalidStructure):
		return "Invalid folder name. Use letters, digits, '/', '_' and '-' only"
	default:
		return "Upload failed"
	}
}

// setupTusUpload mounts the resumable upload endpoints.
func (s *server) setupTusUpload(app *fiber.App) {
	h := s.tus.Handler

	group := app.Group(tusBasePath, adaptor.HTTPMiddleware(h.Middleware))
	group.Post("", s.limiter.Middleware(), adaptor.HTTPHandlerFunc(h.PostFile))
	group.Head(":id", adaptor.HTTPHandlerFunc(h.HeadFile))
	group.Patch(":id", adaptor.HTTPHandlerFunc(h.PatchFile))
	group.Get(":id", adaptor.HTTPHandlerFunc(h.GetFile))
	group.Delete(":id", adaptor.HTTPHandlerFunc(h.DelFile))

	logging.L().Info("resumable uploads enabled", zap.String("path", tusBasePath))
}
