// Package logging provides structured logging with zap.
package logging

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDKey = "request_id"

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputPath string `yaml:"output_path"` // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	globalLogger = logger
	return nil
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// L returns the global logger. Before Init it is a no-op logger so packages
// and tests can log unconditionally.
func L() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// FromCtx returns the request scoped logger stored by Middleware.
func FromCtx(c *fiber.Ctx) *zap.Logger {
	if logger, ok := c.Locals("logger").(*zap.Logger); ok {
		return logger
	}
	return L()
}

// RequestID returns the request id assigned by Middleware.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Middleware tags each request with an id (taken from X-Request-ID when the
// client sent one) and logs its completion.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, requestID)

		logger := L().With(zap.String(requestIDKey, requestID))
		c.Locals(requestIDKey, requestID)
		c.Locals("logger", logger)

		logger.Debug("request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_addr", c.IP()),
		)

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		logger.Info("request completed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Int("size", c.Response().Header.ContentLength()),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}
