package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/events"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/limits"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scheduler"
	"github.com/example/availability-engine/internal/segment"
)

// CacheInvalidator drops cached slot results.
type CacheInvalidator interface {
	InvalidatePrefix(prefix string) int
}

// BookingOptions configures a BookingService.
type BookingOptions struct {
	Publisher   events.Publisher
	Cache       CacheInvalidator
	Retry       *persistence.RetryHelper
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// BookingService validates and writes bookings. Every check and write runs
// inside one store transaction so concurrent requests for a slot serialize.
type BookingService struct {
	tx          persistence.Transactor
	validator   *scheduler.Validator
	publisher   events.Publisher
	cache       CacheInvalidator
	retry       *persistence.RetryHelper
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewBookingService wires a service over tx.
func NewBookingService(tx persistence.Transactor, opts BookingOptions) *BookingService {
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Retry == nil {
		opts.Retry = persistence.NewRetryHelper(persistence.DefaultRetryConfig())
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BookingService{
		tx:          tx,
		validator:   scheduler.NewValidator(),
		publisher:   opts.Publisher,
		cache:       opts.Cache,
		retry:       opts.Retry,
		idGenerator: opts.IDGenerator,
		now:         opts.Now,
		logger:      defaultLogger(opts.Logger),
	}
}

// ValidateBookingSlot checks a proposed booking against the current state of
// its hosts without writing it. Rejections return the decision together with
// the typed reason.
func (s *BookingService) ValidateBookingSlot(ctx context.Context, params ValidateParams) (scheduler.Decision, error) {
	if s == nil {
		return scheduler.Decision{}, fmt.Errorf("BookingService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "booking", "validate_booking_slot", "event_type_id", params.EventTypeID)

	if err := validateBookingParams(params); err != nil {
		return scheduler.Decision{}, err
	}

	var decision scheduler.Decision
	err := s.retry.WithRetry(ctx, func() error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
			var err error
			decision, _, err = s.decide(ctx, store, params)
			return err
		})
	})
	if err != nil {
		logOutcome(ctx, logger, "booking slot validated", err)
		return decision, err
	}
	logger.InfoContext(ctx, "booking slot validated", "outcome", "accepted", "start", params.Start)
	return decision, nil
}

// CreateBooking validates and writes a booking in one transaction, retrying
// when the store is locked. A rejection returns the typed reason.
func (s *BookingService) CreateBooking(ctx context.Context, params CreateBookingParams) (BookingOutcome, error) {
	if s == nil {
		return BookingOutcome{}, fmt.Errorf("BookingService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "booking", "create_booking", "event_type_id", params.EventTypeID)

	proposal := ValidateParams(params)
	if err := validateBookingParams(proposal); err != nil {
		return BookingOutcome{}, err
	}

	var (
		outcome BookingOutcome
		stale   []string
	)
	err := s.retry.WithRetry(ctx, func() error {
		outcome, stale = BookingOutcome{}, nil
		return s.tx.WithinTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
			decision, prepared, err := s.decide(ctx, store, proposal)
			outcome.Decision = decision
			if err != nil {
				return err
			}

			now := s.now().UTC()
			booking := persistence.Booking{
				ID:          s.idGenerator(),
				EventTypeID: params.EventTypeID,
				HostIDs:     prepared.HostIDs,
				Start:       prepared.Start,
				End:         prepared.End,
				Attendees:   attendeesOrOne(params.Attendees),
				Seated:      prepared.SeatsPerSlot > 0,
				Status:      persistence.BookingAccepted,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := store.Bookings().CreateBooking(ctx, booking); err != nil {
				if errors.Is(err, persistence.ErrDuplicate) {
					rejection := &scheduler.SlotNoLongerAvailableError{Start: booking.Start, End: booking.End, HostID: booking.HostIDs[0]}
					outcome.Decision = scheduler.RejectedDecision(rejection)
					return rejection
				}
				return mapStoreError(err, "create booking")
			}
			outcome.Booking = toBooking(booking)
			if s.cache != nil {
				stale = servedEventTypes(ctx, logger, store, booking)
			}
			return nil
		})
	})

	event := events.BookingEvent{
		EventTypeID: params.EventTypeID,
		HostIDs:     params.HostIDs,
		Start:       params.Start,
		Attendees:   attendeesOrOne(params.Attendees),
	}
	if err != nil {
		logOutcome(ctx, logger, "booking not created", err)
		if scheduler.IsRejection(err) {
			event.Reason = err.Error()
			if pubErr := s.publisher.PublishBookingRejected(ctx, event); pubErr != nil {
				logger.WarnContext(ctx, "failed to publish booking rejection", "error", pubErr)
			}
		}
		return outcome, err
	}

	if s.cache != nil {
		dropped := 0
		if stale == nil {
			dropped = s.cache.InvalidatePrefix(slotCacheRoot)
		}
		for _, id := range stale {
			dropped += s.cache.InvalidatePrefix(SlotCachePrefix(id))
		}
		logger.DebugContext(ctx, "slot cache invalidated", "event_types", len(stale), "entries", dropped)
	}
	event.BookingID = outcome.Booking.ID
	event.HostIDs = outcome.Booking.HostIDs
	event.End = outcome.Booking.End
	if pubErr := s.publisher.PublishBookingCreated(ctx, event); pubErr != nil {
		logger.WarnContext(ctx, "failed to publish booking creation", "booking_id", event.BookingID, "error", pubErr)
	}
	logger.InfoContext(ctx, "booking created",
		"booking_id", outcome.Booking.ID,
		"host_ids", outcome.Booking.HostIDs,
		"start", outcome.Booking.Start,
	)
	return outcome, nil
}

// servedEventTypes lists the booked event type and every other event type
// hosted by one of the booking's hosts; their cached slots now overlap the
// booking. A nil result means the list is unknown and every cached result
// must go.
func servedEventTypes(ctx context.Context, logger *slog.Logger, store persistence.Store, booking persistence.Booking) []string {
	all, err := store.EventTypes().ListEventTypes(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to list event types for cache invalidation", "error", err)
		return nil
	}
	ids := []string{booking.EventTypeID}
	for _, et := range all {
		if et.ID == booking.EventTypeID {
			continue
		}
		if slices.ContainsFunc(et.Hosts, func(h persistence.EventTypeHost) bool {
			return slices.Contains(booking.HostIDs, h.UserID)
		}) {
			ids = append(ids, et.ID)
		}
	}
	return ids
}

func validateBookingParams(p ValidateParams) error {
	vErr := &ValidationError{}
	if p.EventTypeID == "" {
		vErr.add("eventTypeId", "is required")
	}
	if p.Start.IsZero() {
		vErr.add("start", "is required")
	}
	if p.Attendees < 0 {
		vErr.add("attendees", "must not be negative")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

// decide loads the event type, settles the hosts and runs the validator
// against store. The returned proposal carries the hosts and span checked.
func (s *BookingService) decide(ctx context.Context, store persistence.Store, params ValidateParams) (scheduler.Decision, scheduler.Proposal, error) {
	et, err := store.EventTypes().GetEventType(ctx, params.EventTypeID)
	if err != nil {
		return scheduler.Decision{}, scheduler.Proposal{}, mapStoreError(err, "load event type "+params.EventTypeID)
	}
	plan, err := planFromEventType(et)
	if err != nil {
		return scheduler.Decision{}, scheduler.Proposal{}, err
	}
	if err := s.checkWindow(plan, params.Start); err != nil {
		return scheduler.Decision{}, scheduler.Proposal{}, err
	}

	proposal := scheduler.Proposal{
		EventTypeID:    plan.eventTypeID,
		Start:          params.Start.UTC(),
		End:            params.Start.Add(plan.constraints.Duration).UTC(),
		Attendees:      attendeesOrOne(params.Attendees),
		BufferBefore:   plan.constraints.BufferBefore,
		BufferAfter:    plan.constraints.BufferAfter,
		SeatsPerSlot:   plan.constraints.SeatsPerSlot,
		BookingLimits:  plan.constraints.BookingLimits,
		DurationLimits: plan.constraints.DurationLimits,
		Calendar:       plan.calendar,
	}
	reader := &stateReader{store: store, plan: plan}

	if len(params.HostIDs) > 0 {
		if err := checkHosts(plan, params.HostIDs); err != nil {
			return scheduler.Decision{}, proposal, err
		}
		proposal.HostIDs = append([]string(nil), params.HostIDs...)
	} else {
		proposal.HostIDs, err = s.assign(ctx, store, reader, plan, proposal)
		if scheduler.IsRejection(err) {
			return scheduler.RejectedDecision(err), proposal, err
		}
		if err != nil {
			return scheduler.Decision{}, proposal, err
		}
	}

	decision, err := s.validator.Validate(ctx, reader, proposal)
	return decision, proposal, err
}

// checkWindow applies the event type's notice period and rolling window.
func (s *BookingService) checkWindow(plan eventPlan, start time.Time) error {
	now := s.now()
	c := plan.constraints
	switch {
	case start.Before(now.Add(c.MinimumNotice)):
		return &ValidationError{FieldErrors: map[string]string{"start": "is within the minimum notice period"}}
	case c.RollingWindow > 0 && !start.Before(now.Add(c.RollingWindow)):
		return &ValidationError{FieldErrors: map[string]string{"start": "is beyond the booking window"}}
	}
	return nil
}

func checkHosts(plan eventPlan, hostIDs []string) error {
	configured := plan.hostIDs()
	for _, id := range hostIDs {
		if !slices.Contains(configured, id) {
			return &ValidationError{FieldErrors: map[string]string{"hostIds": id + " is not a host of this event type"}}
		}
	}
	return nil
}

// assign picks hosts when the caller named none: every host for collective
// and managed event types, the resolver's choice among free hosts otherwise.
func (s *BookingService) assign(ctx context.Context, store persistence.Store, reader *stateReader, plan eventPlan, proposal scheduler.Proposal) ([]string, error) {
	if plan.kind != assignment.RoundRobin {
		return plan.hostIDs(), nil
	}

	var free []string
	for _, id := range plan.hostIDs() {
		single := proposal
		single.HostIDs = []string{id}
		if _, err := s.validator.Validate(ctx, reader, single); err != nil {
			if scheduler.IsRejection(err) {
				continue
			}
			return nil, err
		}
		free = append(free, id)
	}

	weekStart, weekEnd := plan.calendar.Bounds(limits.PeriodWeek, s.now())
	counts := make(map[string]int, len(plan.hosts))
	for _, id := range plan.rotatingHostIDs() {
		d, err := reader.load(ctx, id, earliest(weekStart, proposal.Start), latest(weekEnd, proposal.End))
		if err != nil {
			return nil, err
		}
		counts[id] = d.countBetween(plan.eventTypeID, weekStart, weekEnd)
	}

	cfg := assignment.Config{
		Type:           plan.kind,
		Hosts:          plan.hosts,
		WeightsEnabled: plan.weightsEnabled,
		Counts:         counts,
	}
	if plan.segment != nil || plan.segmentErr != nil {
		cfg.Eligible = map[string]bool{}
		if plan.segmentErr == nil {
			matched, err := segment.NewMatcher(attributeSource{repo: store.Attributes()}).Match(ctx, plan.segment, plan.rotatingHostIDs())
			if err == nil {
				for _, id := range matched {
					cfg.Eligible[id] = true
				}
			}
		}
	}
	resolver, err := assignment.NewResolver(cfg)
	if err != nil {
		return nil, fmt.Errorf("application: event type %s: %w", plan.eventTypeID, err)
	}
	hosts, ok := resolver.Assign(free)
	if !ok {
		return nil, &scheduler.SlotNoLongerAvailableError{Start: proposal.Start, End: proposal.End}
	}
	return hosts, nil
}

// stateReader reads host state through the transaction-bound store.
type stateReader struct {
	store persistence.Store
	plan  eventPlan
}

var _ scheduler.StateReader = (*stateReader)(nil)

func (r *stateReader) load(ctx context.Context, userID string, from, to time.Time) (hostData, error) {
	return loadHost(ctx, r.store, userID, r.plan.schedules[userID], from, to)
}

// HostStates implements scheduler.StateReader.
func (r *stateReader) HostStates(ctx context.Context, p scheduler.Proposal) ([]scheduler.HostState, error) {
	from, to := p.Start.Add(-p.BufferBefore), p.End.Add(p.BufferAfter)
	hasLimits := !p.BookingLimits.IsZero() || !p.DurationLimits.IsZero()
	if hasLimits {
		yearStart, yearEnd := p.Calendar.Bounds(limits.PeriodYear, p.Start)
		from, to = earliest(from, yearStart), latest(to, yearEnd)
	}
	seatedID := ""
	if p.SeatsPerSlot > 0 {
		seatedID = p.EventTypeID
	}
	normalizer := availability.NewNormalizer(r.plan.location)

	states := make([]scheduler.HostState, 0, len(p.HostIDs))
	for _, id := range p.HostIDs {
		d, err := r.load(ctx, id, from, to)
		if err != nil {
			return nil, err
		}
		state := scheduler.HostState{HostID: id, Free: []interval.Interval{}}
		if d.schedule != nil {
			free, err := normalizer.FreeIntervals(*d.schedule, p.Start, p.End)
			if err != nil {
				return nil, err
			}
			state.Free = append(state.Free, free...)
		}

		busy, seated := d.blocking(seatedID)
		for _, iv := range seated {
			if !iv.Start.Equal(p.Start) {
				busy = append(busy, iv)
			}
		}
		state.Busy = busy
		if seatedID != "" {
			state.SeatsTaken = d.seatsTaken(seatedID)[p.Start.Unix()]
		}
		if hasLimits {
			state.Usage = d.usage(p.EventTypeID)
		}
		states = append(states, state)
	}
	return states, nil
}

func attendeesOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func toBooking(b persistence.Booking) Booking {
	return Booking{
		ID:          b.ID,
		EventTypeID: b.EventTypeID,
		HostIDs:     append([]string(nil), b.HostIDs...),
		Start:       b.Start,
		End:         b.End,
		Attendees:   b.Attendees,
		Seated:      b.Seated,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
	}
}
