package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/limits"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
)

type availabilityService interface {
	GetAvailableSlots(ctx context.Context, q application.SlotQuery) (application.SlotResult, error)
}

// SlotHandler serves slot queries.
type SlotHandler struct {
	service   availabilityService
	responder responder
	logger    *slog.Logger
}

func NewSlotHandler(service availabilityService, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{service: service, responder: newResponder(logger), logger: logger}
}

// ForEventType handles GET /event-types/{id}/slots.
func (h *SlotHandler) ForEventType(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	params := r.URL.Query()
	from, errFrom := time.Parse(time.RFC3339, params.Get("from"))
	to, errTo := time.Parse(time.RFC3339, params.Get("to"))
	if errFrom != nil || errTo != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingRange)
		return
	}

	h.serve(w, r, application.SlotQuery{
		EventTypeID:    mux.Vars(r)["id"],
		From:           from,
		To:             to,
		Timezone:       params.Get("timezone"),
		ContactOwnerID: params.Get("contactOwnerId"),
	})
}

// Query handles POST /slots/query.
func (h *SlotHandler) Query(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req slotQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	q, err := req.toQuery()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err, nil)
		return
	}
	h.serve(w, r, q)
}

func (h *SlotHandler) serve(w http.ResponseWriter, r *http.Request, q application.SlotQuery) {
	ctx := r.Context()
	result, err := h.service.GetAvailableSlots(ctx, q)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err, nil)
		return
	}
	handlerLogger(ctx, h.logger, "slots", "get_available_slots").DebugContext(ctx, "slots served", "slots", len(result.Slots))
	h.responder.writeJSON(ctx, w, http.StatusOK, newSlotsResponse(result))
}

type slotQueryRequest struct {
	EventTypeID          string                    `json:"eventTypeId"`
	Hosts                []queryHostDTO            `json:"hosts"`
	SchedulingType       assignment.SchedulingType `json:"schedulingType"`
	DurationMinutes      int                       `json:"durationMinutes"`
	IntervalMinutes      int                       `json:"intervalMinutes"`
	BufferBeforeMinutes  int                       `json:"bufferBeforeMinutes"`
	BufferAfterMinutes   int                       `json:"bufferAfterMinutes"`
	MinimumNoticeMinutes int                       `json:"minimumNoticeMinutes"`
	SeatsPerSlot         int                       `json:"seatsPerSlot"`
	BookingLimits        *limitsDTO                `json:"bookingLimits,omitempty"`
	From                 time.Time                 `json:"from"`
	To                   time.Time                 `json:"to"`
	Timezone             string                    `json:"timezone"`
	ContactOwnerID       string                    `json:"contactOwnerId"`
	Segment              json.RawMessage           `json:"segment,omitempty"`
}

type queryHostDTO struct {
	UserID     string `json:"userId"`
	ScheduleID string `json:"scheduleId"`
	IsFixed    bool   `json:"isFixed"`
	Priority   int    `json:"priority"`
	Weight     int    `json:"weight"`
	GroupID    string `json:"groupId"`
}

type limitsDTO struct {
	PerDay   int `json:"perDay"`
	PerWeek  int `json:"perWeek"`
	PerMonth int `json:"perMonth"`
	PerYear  int `json:"perYear"`
}

func (req slotQueryRequest) toQuery() (application.SlotQuery, error) {
	q := application.SlotQuery{
		EventTypeID:    req.EventTypeID,
		SchedulingType: req.SchedulingType,
		Constraints: slots.Constraints{
			Duration:      minutes(req.DurationMinutes),
			Interval:      minutes(req.IntervalMinutes),
			BufferBefore:  minutes(req.BufferBeforeMinutes),
			BufferAfter:   minutes(req.BufferAfterMinutes),
			MinimumNotice: minutes(req.MinimumNoticeMinutes),
			SeatsPerSlot:  req.SeatsPerSlot,
		},
		From:           req.From,
		To:             req.To,
		Timezone:       req.Timezone,
		ContactOwnerID: req.ContactOwnerID,
	}
	if req.BookingLimits != nil {
		q.Constraints.BookingLimits = limits.BookingLimits(*req.BookingLimits)
	}
	for _, h := range req.Hosts {
		q.Hosts = append(q.Hosts, application.QueryHost(h))
	}
	if len(req.Segment) > 0 {
		node, err := segment.Parse(req.Segment)
		if err != nil {
			return q, &application.ValidationError{FieldErrors: map[string]string{"segment": err.Error()}}
		}
		q.Segment = &node
	}
	return q, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

type slotDTO struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	HostIDs        []string  `json:"hostIds"`
	SeatsRemaining *int      `json:"seatsRemaining,omitempty"`
}

type slotsResponse struct {
	EventTypeID string               `json:"eventTypeId,omitempty"`
	Timezone    string               `json:"timezone"`
	Slots       map[string][]slotDTO `json:"slots"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// newSlotsResponse groups slots by local date in the result's timezone.
func newSlotsResponse(result application.SlotResult) slotsResponse {
	loc, err := time.LoadLocation(result.Timezone)
	if err != nil {
		loc = time.UTC
	}
	resp := slotsResponse{
		EventTypeID: result.EventTypeID,
		Timezone:    loc.String(),
		Slots:       make(map[string][]slotDTO),
		Warnings:    result.Warnings,
	}
	for _, s := range result.Slots {
		dto := slotDTO{Start: s.Start.In(loc), End: s.End.In(loc), HostIDs: s.HostIDs}
		if s.SeatsRemaining > 0 {
			seats := s.SeatsRemaining
			dto.SeatsRemaining = &seats
		}
		day := dto.Start.Format(time.DateOnly)
		resp.Slots[day] = append(resp.Slots[day], dto)
	}
	return resp
}
