package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/authgate/internal/config"
)

// UserIDLocal is the fiber.Ctx locals key carrying the resolved local user id.
const UserIDLocal = "auth_user_id"

// NewLogger creates a structured zap.Logger configured via env settings.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
			TimeKey:    "ts",
			NameKey:    "logger",
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(l.String())
			},
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// UnmatchedRoute labels requests that matched no registered route.
const UnmatchedRoute = "unmatched"

// RouteLabels returns bounded metric labels for the request: the registered
// route pattern and a copy of the method. Fiber strings alias reused request
// buffers, so they are copied before a collector retains them.
func RouteLabels(c *fiber.Ctx) (route, method string) {
	method = utils.CopyString(c.Method())
	if c.Response().StatusCode() == fiber.StatusNotFound {
		return UnmatchedRoute, method
	}
	return utils.CopyString(c.Route().Path), method
}

// RequestLogger logs each request once it has been handled and records its metrics.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		route, method := RouteLabels(c)
		metrics.RecordRequest(route, method, status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if userID, ok := c.Locals(UserIDLocal).(string); ok && userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		logger.Info("request", fields...)
		return err
	}
}
