package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/scheduler"
)

type bookingService interface {
	ValidateBookingSlot(ctx context.Context, params application.ValidateParams) (scheduler.Decision, error)
	CreateBooking(ctx context.Context, params application.CreateBookingParams) (application.BookingOutcome, error)
}

// BookingHandler serves booking validation and creation.
type BookingHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{service: service, responder: newResponder(logger), logger: logger}
}

// Validate handles POST /bookings/validate.
func (h *BookingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	ctx := r.Context()
	decision, err := h.service.ValidateBookingSlot(ctx, application.ValidateParams{
		EventTypeID: req.EventTypeID,
		HostIDs:     req.HostIDs,
		Start:       req.Start,
		Attendees:   req.Attendees,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err, &decision)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, newDecisionDTO(decision))
}

// Create handles POST /bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	ctx := r.Context()
	outcome, err := h.service.CreateBooking(ctx, application.CreateBookingParams{
		EventTypeID: req.EventTypeID,
		HostIDs:     req.HostIDs,
		Start:       req.Start,
		Attendees:   req.Attendees,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err, &outcome.Decision)
		return
	}

	handlerLogger(ctx, h.logger, "bookings", "create").DebugContext(ctx, "booking written", "booking_id", outcome.Booking.ID)
	w.Header().Set("Location", "/bookings/"+outcome.Booking.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, bookingResponse{
		Booking:  newBookingDTO(outcome.Booking),
		Decision: newDecisionDTO(outcome.Decision),
	})
}

type bookingRequest struct {
	EventTypeID string    `json:"eventTypeId"`
	HostIDs     []string  `json:"hostIds"`
	Start       time.Time `json:"start"`
	Attendees   int       `json:"attendees"`
}

type bookingDTO struct {
	ID          string    `json:"id"`
	EventTypeID string    `json:"eventTypeId"`
	HostIDs     []string  `json:"hostIds"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   int       `json:"attendees"`
	Seated      bool      `json:"seated"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newBookingDTO(b application.Booking) bookingDTO {
	return bookingDTO{
		ID:          b.ID,
		EventTypeID: b.EventTypeID,
		HostIDs:     b.HostIDs,
		Start:       b.Start.UTC(),
		End:         b.End.UTC(),
		Attendees:   b.Attendees,
		Seated:      b.Seated,
		Status:      b.Status,
		CreatedAt:   b.CreatedAt.UTC(),
	}
}

type bookingResponse struct {
	Booking  bookingDTO  `json:"booking"`
	Decision decisionDTO `json:"decision"`
}

type decisionDTO struct {
	State     scheduler.State   `json:"state"`
	History   []scheduler.State `json:"history"`
	Reason    string            `json:"reason,omitempty"`
	Conflicts []conflictDTO     `json:"conflicts,omitempty"`
}

type conflictDTO struct {
	HostID string    `json:"hostId"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

func newDecisionDTO(d scheduler.Decision) decisionDTO {
	dto := decisionDTO{State: d.State, History: d.History}
	if d.Reason != nil {
		dto.Reason = d.Reason.Error()
	}
	for _, c := range d.Conflicts {
		dto.Conflicts = append(dto.Conflicts, conflictDTO{
			HostID: c.HostID,
			Start:  c.With.Start.UTC(),
			End:    c.With.End.UTC(),
			Source: string(c.With.Source),
		})
	}
	return dto
}
