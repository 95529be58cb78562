package application

import (
	"context"
	"log/slog"

	"github.com/example/availability-engine/internal/logging"
	"github.com/example/availability-engine/internal/scheduler"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// serviceLogger prefers the request logger carried by ctx over the service's own.
func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(base)
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return logger.With(pairs...)
}

// logOutcome logs expected booking races at info and everything else at error.
func logOutcome(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if scheduler.IsRejection(err) {
		logger.InfoContext(ctx, msg, "outcome", "rejected", "error_kind", ErrorKind(err), "reason", err.Error())
		return
	}
	logger.ErrorContext(ctx, msg, "error_kind", ErrorKind(err), "error", err)
}
