package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scheduler"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
)

type fakeAvailability struct {
	got    application.SlotQuery
	result application.SlotResult
	err    error
}

func (f *fakeAvailability) GetAvailableSlots(_ context.Context, q application.SlotQuery) (application.SlotResult, error) {
	f.got = q
	return f.result, f.err
}

type fakeBookings struct {
	gotValidate application.ValidateParams
	gotCreate   application.CreateBookingParams
	decision    scheduler.Decision
	outcome     application.BookingOutcome
	err         error
}

func (f *fakeBookings) ValidateBookingSlot(_ context.Context, p application.ValidateParams) (scheduler.Decision, error) {
	f.gotValidate = p
	return f.decision, f.err
}

func (f *fakeBookings) CreateBooking(_ context.Context, p application.CreateBookingParams) (application.BookingOutcome, error) {
	f.gotCreate = p
	return f.outcome, f.err
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(a *fakeAvailability, b *fakeBookings, p Pinger) http.Handler {
	return NewRouter(RouterConfig{
		Slots:    NewSlotHandler(a, nil),
		Bookings: NewBookingHandler(b, nil),
		Health:   p,
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out))
	return out
}

var monday = time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)

func TestSlotHandler_ForEventType(t *testing.T) {
	t.Parallel()

	a := &fakeAvailability{result: application.SlotResult{
		EventTypeID: "et-1",
		Timezone:    "Europe/Berlin",
		Slots: []slots.Slot{
			{Start: monday.Add(21*time.Hour + 30*time.Minute), End: monday.Add(22 * time.Hour), HostIDs: []string{"alice"}},
			{Start: monday.Add(22 * time.Hour), End: monday.Add(22*time.Hour + 30*time.Minute), HostIDs: []string{"alice"}, SeatsRemaining: 2},
		},
	}}
	router := newTestRouter(a, &fakeBookings{}, nil)

	rec := do(t, router, http.MethodGet, "/event-types/et-1/slots?from=2024-06-03T00:00:00Z&to=2024-06-04T00:00:00Z&timezone=Europe/Berlin&contactOwnerId=bob", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "et-1", a.got.EventTypeID)
	assert.Equal(t, monday, a.got.From.UTC())
	assert.Equal(t, monday.Add(24*time.Hour), a.got.To.UTC())
	assert.Equal(t, "Europe/Berlin", a.got.Timezone)
	assert.Equal(t, "bob", a.got.ContactOwnerID)

	var body struct {
		Timezone string                       `json:"timezone"`
		Slots    map[string][]json.RawMessage `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Europe/Berlin", body.Timezone)
	// 21:30 UTC is 23:30 in Berlin, 22:00 UTC already the next local day.
	require.Len(t, body.Slots["2024-06-03"], 1)
	require.Len(t, body.Slots["2024-06-04"], 1)
	assert.NotContains(t, string(body.Slots["2024-06-03"][0]), "seatsRemaining")
	assert.Contains(t, string(body.Slots["2024-06-04"][0]), `"seatsRemaining":2`)
	assert.Contains(t, string(body.Slots["2024-06-04"][0]), `"start":"2024-06-04T00:00:00+02:00"`)
}

func TestSlotHandler_ForEventTypeRejectsBadRange(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeAvailability{}, &fakeBookings{}, nil)
	rec := do(t, router, http.MethodGet, "/event-types/et-1/slots?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotHandler_Query(t *testing.T) {
	t.Parallel()

	a := &fakeAvailability{}
	router := newTestRouter(a, &fakeBookings{}, nil)
	rec := do(t, router, http.MethodPost, "/slots/query", `{
		"hosts": [{"userId": "alice", "scheduleId": "s-1", "weight": 50}, {"userId": "bob", "isFixed": true}],
		"schedulingType": "ROUND_ROBIN",
		"durationMinutes": 45,
		"intervalMinutes": 15,
		"bufferAfterMinutes": 10,
		"bookingLimits": {"perDay": 3},
		"from": "2024-06-03T00:00:00Z",
		"to": "2024-06-05T00:00:00Z",
		"segment": {"kind": "rule", "attribute": "region", "operator": "equals", "values": ["emea"]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	q := a.got
	assert.Equal(t, []application.QueryHost{
		{UserID: "alice", ScheduleID: "s-1", Weight: 50},
		{UserID: "bob", IsFixed: true},
	}, q.Hosts)
	assert.Equal(t, "ROUND_ROBIN", string(q.SchedulingType))
	assert.Equal(t, 45*time.Minute, q.Constraints.Duration)
	assert.Equal(t, 15*time.Minute, q.Constraints.Interval)
	assert.Equal(t, 10*time.Minute, q.Constraints.BufferAfter)
	assert.Equal(t, 3, q.Constraints.BookingLimits.PerDay)
	require.NotNil(t, q.Segment)
	assert.Equal(t, segment.OpEquals, q.Segment.Operator)
}

func TestSlotHandler_QueryRejectsBadInput(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeAvailability{}, &fakeBookings{}, nil)

	rec := do(t, router, http.MethodPost, "/slots/query", `{"hosts": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/slots/query", `{"segment": {"kind": "rule", "attribute": "x", "operator": "matches"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Contains(t, body.Errors, "segment")
}

func TestResponder_MapsServiceErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: fmt.Errorf("load event type x: %w", application.ErrNotFound), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "validation", err: &application.ValidationError{FieldErrors: map[string]string{"to": "must be after from"}}, status: http.StatusUnprocessableEntity, code: "VALIDATION_FAILED"},
		{name: "unavailable", err: fmt.Errorf("x: %w: %w", application.ErrUnavailable, persistence.ErrLocked), status: http.StatusServiceUnavailable, code: "UNAVAILABLE"},
		{name: "invalid interval", err: interval.ErrInvalidInterval, status: http.StatusUnprocessableEntity, code: "INVALID_SCHEDULE"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeAvailability{err: tc.err}, &fakeBookings{}, nil)
			rec := do(t, router, http.MethodGet, "/event-types/et-1/slots?from=2024-06-03T00:00:00Z&to=2024-06-04T00:00:00Z", "")
			require.Equal(t, tc.status, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tc.code, body.ErrorCode)
			if tc.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestBookingHandler_Create(t *testing.T) {
	t.Parallel()

	start := monday.Add(9 * time.Hour)
	b := &fakeBookings{outcome: application.BookingOutcome{
		Decision: scheduler.Decision{State: scheduler.StateAccepted, History: []scheduler.State{scheduler.StateProposed, scheduler.StateValidating, scheduler.StateAccepted}},
		Booking: application.Booking{
			ID: "b-1", EventTypeID: "et-1", HostIDs: []string{"alice"},
			Start: start, End: start.Add(30 * time.Minute), Attendees: 1, Status: "accepted",
		},
	}}
	router := newTestRouter(&fakeAvailability{}, b, nil)

	rec := do(t, router, http.MethodPost, "/bookings", `{"eventTypeId": "et-1", "start": "2024-06-03T09:00:00Z", "attendees": 1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/bookings/b-1", rec.Header().Get("Location"))
	assert.Equal(t, "et-1", b.gotCreate.EventTypeID)
	assert.True(t, start.Equal(b.gotCreate.Start))
	assert.Empty(t, b.gotCreate.HostIDs)

	body := decode[bookingResponse](t, rec)
	assert.Equal(t, "b-1", body.Booking.ID)
	assert.Equal(t, scheduler.StateAccepted, body.Decision.State)
	assert.Len(t, body.Decision.History, 3)
}

func TestBookingHandler_Rejections(t *testing.T) {
	t.Parallel()

	start := monday.Add(9 * time.Hour)
	taken := &scheduler.SlotNoLongerAvailableError{
		Start:  start,
		End:    start.Add(30 * time.Minute),
		HostID: "alice",
		Conflicts: []scheduler.Conflict{{
			HostID: "alice",
			With:   interval.Interval{Start: start, End: start.Add(time.Hour), Source: interval.SourceBooking},
		}},
	}
	cases := []struct {
		name      string
		err       error
		code      string
		conflicts int
	}{
		{name: "taken", err: taken, code: "SLOT_NO_LONGER_AVAILABLE", conflicts: 1},
		{name: "full", err: &scheduler.CapacityExceededError{Start: start, Seats: 2, Taken: 2, Requested: 1}, code: "CAPACITY_EXCEEDED"},
		{name: "limit", err: &scheduler.BookingLimitExceededError{HostID: "alice"}, code: "BOOKING_LIMIT_EXCEEDED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBookings{err: tc.err, decision: scheduler.RejectedDecision(tc.err)}
			b.outcome.Decision = b.decision
			router := newTestRouter(&fakeAvailability{}, b, nil)

			for _, path := range []string{"/bookings", "/bookings/validate"} {
				rec := do(t, router, http.MethodPost, path, `{"eventTypeId": "et-1", "hostIds": ["alice"], "start": "2024-06-03T09:00:00Z"}`)
				require.Equal(t, http.StatusConflict, rec.Code, path)
				body := decode[errorResponse](t, rec)
				assert.Equal(t, tc.code, body.ErrorCode)
				require.NotNil(t, body.Decision)
				assert.Equal(t, scheduler.StateRejected, body.Decision.State)
				assert.Len(t, body.Decision.Conflicts, tc.conflicts)
			}
			assert.Equal(t, []string{"alice"}, b.gotValidate.HostIDs)
		})
	}
}

func TestBookingHandler_Validate(t *testing.T) {
	t.Parallel()

	b := &fakeBookings{decision: scheduler.Decision{State: scheduler.StateAccepted}}
	router := newTestRouter(&fakeAvailability{}, b, nil)

	rec := do(t, router, http.MethodPost, "/bookings/validate", `{"eventTypeId": "et-1", "start": "2024-06-03T09:00:00Z", "attendees": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, b.gotValidate.Attendees)
	assert.Equal(t, scheduler.StateAccepted, decode[decisionDTO](t, rec).State)

	rec = do(t, router, http.MethodPost, "/bookings/validate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_RoutingAndHealth(t *testing.T) {
	t.Parallel()

	healthy := newTestRouter(&fakeAvailability{}, &fakeBookings{}, pingerFunc(func(context.Context) error { return nil }))
	rec := do(t, healthy, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, healthy, http.MethodGet, "/bookings", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, healthy, http.MethodGet, "/calendars", "").Code)

	down := newTestRouter(&fakeAvailability{}, &fakeBookings{}, pingerFunc(func(context.Context) error { return errors.New("closed") }))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/healthz", "").Code)
}
