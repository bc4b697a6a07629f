package main

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
	"github.com/Kighlander1975/dbe-exercise-file-upload/config"
	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/metrics"
	"github.com/Kighlander1975/dbe-exercise-file-upload/pathsafe"
	"github.com/Kighlander1975/dbe-exercise-file-upload/scan"
	"github.com/Kighlander1975/dbe-exercise-file-upload/stream"
	"github.com/Kighlander1975/dbe-exercise-file-upload/uploads"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const tusBasePath = "/upload/tus/"

type server struct {
	cfg      *config.Config
	guard    *pathsafe.Guard
	streamer *stream.Streamer
	uploads  *uploads.Manager
	tus      *uploads.Tus
	hidden   scan.HiddenPolicy
	limiter  *rateLimiter
	tmpl     *template.Template

	// off-route tree levels, dropped whenever the upload tree changes
	treeCache *scan.Cache
}

// newServer wires the components for cfg. store may be nil.
func newServer(cfg *config.Config, store *uploads.Store) (*server, error) {
	guard, err := pathsafe.NewGuard(cfg.Server.UploadDir)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}

	s := &server{
		cfg:   cfg,
		guard: guard,
		streamer: stream.New(guard, stream.Options{
			ChunkSize:       cfg.Stream.ChunkSize,
			CacheMaxAge:     time.Duration(cfg.Stream.CacheMaxAge) * time.Second,
			ForceAttachment: cfg.Stream.ForceAttachment,
		}),
		uploads: uploads.NewManager(guard, uploads.Policy{
			MaxBytes:   cfg.Upload.MaxBytes,
			AllowedExt: cfg.Upload.AllowedExt,
		}, store),
		hidden:    scan.HiddenPolicy{Allow: cfg.Browse.ShowHidden},
		limiter:   newRateLimiter(cfg.Upload.RatePerMinute, cfg.Upload.Burst),
		tmpl:      tmpl,
		treeCache: scan.NewCache(),
	}

	s.uploads.OnStored(func(uploads.Record) { s.treeCache.Clear() })

	if cfg.Server.WriteMode {
		if s.tus, err = s.uploads.NewTus(cfg.TusDir(), tusBasePath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             int(s.cfg.Upload.MaxBytes) + 1<<20,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logging.Middleware())
	app.Use(metrics.Middleware())

	app.Get("/", s.handleIndex)
	app.Get("/api/browse", s.handleBrowse)
	app.Get("/api/tree", s.handleTreeLevel)
	app.Get("/api/uploads", s.handleRecentUploads)

	// GET routes answer HEAD as well
	app.Get("/file", s.handleFile)
	app.Get("/zip", s.handleZipDownload)
	app.Get("/exif", s.handleExif)
	app.Get("/preview", s.handlePreview)

	if s.cfg.Server.WriteMode {
		app.Post("/upload", s.limiter.Middleware(), s.handleUpload)
		s.setupTusUpload(app)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if isWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/list", s.websocketHandler())

	app.Get("/metrics", metrics.Handler())
	return app
}

// statusFor maps handler errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, uploads.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, uploads.ErrExtension):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, uploads.ErrInvalidStructure):
		return fiber.StatusUnprocessableEntity
	default:
		return apperr.Status(err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	logger := logging.FromCtx(c)
	if code >= fiber.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(code).SendString(http.StatusText(code) + " (request " + logging.RequestID(c) + ")")
	}
	logger.Debug("request rejected", zap.String("path", c.Path()), zap.Int("status", code), zap.Error(err))
	return c.Status(code).SendString(http.StatusText(code))
}

// uploadRelative returns path relative to the upload root when it lies
// inside it.
func (s *server) uploadRelative(path string) (string, bool) {
	if !pathsafe.Within(s.guard.Root(), path) {
		return "", false
	}
	rel, err := filepath.Rel(s.guard.Root(), path)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// uploadName accepts either a name relative to the upload root or an
// absolute path inside it, as the listing hands out.
func (s *server) uploadName(input string) string {
	if filepath.IsAbs(input) {
		if filepath.Clean(input) == s.guard.Root() {
			return ""
		}
		if rel, ok := s.uploadRelative(filepath.Clean(input)); ok {
			return rel
		}
	}
	return input
}
