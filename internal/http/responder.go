package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/logging"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scheduler"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errMissingRange   = errors.New("from and to must be RFC 3339 timestamps")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		message = err.Error()
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps service errors onto status codes. Lost races carry
// the decision so clients can show which host was taken.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error, decision *scheduler.Decision) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	if scheduler.IsRejection(err) {
		resp := errorResponse{ErrorCode: rejectionCode(err), Message: err.Error()}
		if decision != nil {
			dto := newDecisionDTO(*decision)
			resp.Decision = &dto
		}
		r.writeJSON(ctx, w, http.StatusConflict, resp)
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "request is invalid",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, availability.ErrInvalidSchedule), errors.Is(err, interval.ErrInvalidInterval):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{ErrorCode: "INVALID_SCHEDULE", Message: err.Error()})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, application.ErrUnavailable), errors.Is(err, persistence.ErrLocked):
		w.Header().Set("Retry-After", "1")
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: "UNAVAILABLE", Message: "store is busy, retry shortly"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: http.StatusText(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, scheduler.ErrBookingLimitExceeded):
		return "BOOKING_LIMIT_EXCEEDED"
	default:
		return "SLOT_NO_LONGER_AVAILABLE"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Decision  *decisionDTO      `json:"decision,omitempty"`
}
