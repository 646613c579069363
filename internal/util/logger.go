package util

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger builds the process logger: JSON in production, colored console
// output otherwise. Every entry carries the service name.
func InitLogger(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build(zap.Fields(
		zap.String("service", serviceName),
		zap.String("env", env),
	))
	if err != nil {
		return err
	}

	SetLogger(built)
	return nil
}

// SetLogger replaces the process logger, mainly for tests.
func SetLogger(l *zap.Logger) {
	logger = l
	zap.ReplaceGlobals(l)
}

// GetLogger returns the process logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}

type loggerKey struct{}

// WithLogger stores a request-scoped logger on ctx.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFrom returns the logger stored on ctx, or fallback when there is none.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return GetLogger()
}

// Field constructors for the identifiers that show up in most entries.

func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func CartID(id int64) zap.Field { return zap.Int64("cart_id", id) }
func CartItemID(id int64) zap.Field { return zap.Int64("cart_item_id", id) }
func ProductID(id int64) zap.Field { return zap.Int64("product_id", id) }
func OrderID(id int64) zap.Field { return zap.Int64("order_id", id) }
func IdempotencyKey(key string) zap.Field { return zap.String("idempotency_key", key) }
