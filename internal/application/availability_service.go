package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/cache"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/limits"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
)

const (
	// DefaultFanoutLimit bounds concurrent per-host loads.
	DefaultFanoutLimit = 8
	// MaxQueryWindow is the widest [From, To) a slot query may span.
	MaxQueryWindow = 62 * 24 * time.Hour
)

// SlotCache holds computed slot results keyed by cache.Key.
type SlotCache = cache.Cache[string, SlotResult]

// slotCacheRoot prefixes every cached slot result.
var slotCacheRoot = cache.Prefix("slots")

// SlotCachePrefix returns the key prefix shared by every cached result of an
// event type.
func SlotCachePrefix(eventTypeID string) string {
	return cache.Prefix("slots", eventTypeID)
}

// CloneSlotResult deep-copies a result so cached values stay immutable.
func CloneSlotResult(r SlotResult) SlotResult {
	out := r
	out.Slots = make([]slots.Slot, len(r.Slots))
	for i, s := range r.Slots {
		s.HostIDs = append([]string(nil), s.HostIDs...)
		out.Slots[i] = s
	}
	out.Warnings = append([]string(nil), r.Warnings...)
	return out
}

// AvailabilityOptions configures an AvailabilityService.
type AvailabilityOptions struct {
	Cache       SlotCache
	FanoutLimit int
	Now         func() time.Time
	Logger      *slog.Logger
}

// AvailabilityService answers slot queries. It only reads from the store.
type AvailabilityService struct {
	store   persistence.Store
	cache   SlotCache
	matcher *segment.Matcher
	fanout  int
	now     func() time.Time
	logger  *slog.Logger
}

// NewAvailabilityService wires a service over store.
func NewAvailabilityService(store persistence.Store, opts AvailabilityOptions) *AvailabilityService {
	if opts.Cache == nil {
		opts.Cache = cache.Noop[string, SlotResult]{}
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = DefaultFanoutLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AvailabilityService{
		store:   store,
		cache:   opts.Cache,
		matcher: segment.NewMatcher(attributeSource{repo: store.Attributes()}),
		fanout:  opts.FanoutLimit,
		now:     opts.Now,
		logger:  defaultLogger(opts.Logger),
	}
}

// GetAvailableSlots computes the bookable slots of the query.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, q SlotQuery) (SlotResult, error) {
	if s == nil {
		return SlotResult{}, fmt.Errorf("AvailabilityService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "availability", "get_available_slots", "event_type_id", q.EventTypeID)

	if err := validateSlotQuery(q); err != nil {
		return SlotResult{}, err
	}

	plan, err := s.plan(ctx, q)
	if err != nil {
		logger.WarnContext(ctx, "slot query rejected", "error_kind", ErrorKind(err), "error", err)
		return SlotResult{}, err
	}
	tz := q.Timezone
	if tz == "" {
		tz = plan.location.String()
	}

	key := ""
	if plan.eventTypeID != "" {
		key = slotCacheKey(plan.eventTypeID, q, tz)
		if cached, ok := s.cache.Get(key); ok {
			cached.Slots = startingFrom(cached.Slots, s.now().Add(plan.constraints.MinimumNotice))
			logger.DebugContext(ctx, "slot cache hit", "slots", len(cached.Slots))
			return cached, nil
		}
	}

	started := time.Now()
	result, err := s.compute(ctx, logger, plan, q)
	if err != nil {
		logger.ErrorContext(ctx, "slot computation failed", "error_kind", ErrorKind(err), "error", err)
		return SlotResult{}, err
	}
	result.Timezone = tz

	if key != "" && len(result.Warnings) == 0 {
		s.cache.Set(key, result)
	}
	logger.InfoContext(ctx, "slots computed",
		"hosts", len(plan.hosts),
		"slots", len(result.Slots),
		"warnings", len(result.Warnings),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

// startingFrom returns the slots starting at or after earliest. Cached results
// were computed against an earlier clock.
func startingFrom(list []slots.Slot, earliest time.Time) []slots.Slot {
	out := make([]slots.Slot, 0, len(list))
	for _, sl := range list {
		if !sl.Start.Before(earliest) {
			out = append(out, sl)
		}
	}
	return out
}

func validateSlotQuery(q SlotQuery) error {
	vErr := &ValidationError{}
	switch {
	case q.From.IsZero():
		vErr.add("from", "is required")
	case q.To.IsZero():
		vErr.add("to", "is required")
	case !q.To.After(q.From):
		vErr.add("to", "must be after from")
	case q.To.Sub(q.From) > MaxQueryWindow:
		vErr.add("to", fmt.Sprintf("window must not exceed %d days", int(MaxQueryWindow/(24*time.Hour))))
	}
	if q.EventTypeID == "" {
		if len(q.Hosts) == 0 {
			vErr.add("hosts", "are required without an event type")
		}
		if q.Constraints.Duration <= 0 {
			vErr.add("duration", "must be positive")
		}
		if q.Constraints.SeatsPerSlot > 0 {
			vErr.add("seatsPerSlot", "requires an event type")
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func (s *AvailabilityService) plan(ctx context.Context, q SlotQuery) (eventPlan, error) {
	if q.EventTypeID == "" {
		return planFromQuery(q)
	}
	et, err := s.store.EventTypes().GetEventType(ctx, q.EventTypeID)
	if err != nil {
		return eventPlan{}, mapStoreError(err, "load event type "+q.EventTypeID)
	}
	plan, err := planFromEventType(et)
	if err != nil {
		return eventPlan{}, err
	}
	if q.Segment != nil {
		plan.segment, plan.segmentErr = q.Segment, nil
	}
	return plan, nil
}

func slotCacheKey(eventTypeID string, q SlotQuery, tz string) string {
	segmentKey := ""
	if q.Segment != nil {
		if raw, err := json.Marshal(q.Segment); err == nil {
			segmentKey = string(raw)
		}
	}
	return cache.Key(SlotCachePrefix(eventTypeID),
		q.From.UTC().Format(time.RFC3339),
		q.To.UTC().Format(time.RFC3339),
		tz,
		q.ContactOwnerID,
		segmentKey,
	)
}

func (s *AvailabilityService) compute(ctx context.Context, logger *slog.Logger, plan eventPlan, q SlotQuery) (SlotResult, error) {
	result := SlotResult{EventTypeID: plan.eventTypeID}
	if len(plan.hosts) == 0 {
		return result, nil
	}

	c := plan.constraints
	now := s.now()
	weekStart, weekEnd := plan.calendar.Bounds(limits.PeriodWeek, now)

	// One read per host must cover buffered busy time, limit periods and the
	// round-robin fairness week.
	busyFrom := q.From.Add(-c.BufferBefore - c.Duration)
	busyTo := q.To.Add(c.Duration + c.BufferAfter)
	loadFrom, loadTo := earliest(busyFrom, weekStart), latest(busyTo, weekEnd)
	if plan.hasLimits() {
		yearStart, _ := plan.calendar.Bounds(limits.PeriodYear, q.From)
		_, yearEnd := plan.calendar.Bounds(limits.PeriodYear, q.To)
		loadFrom, loadTo = earliest(loadFrom, yearStart), latest(loadTo, yearEnd)
	}

	data := make([]hostData, len(plan.hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, h := range plan.hosts {
		g.Go(func() error {
			d, err := loadHost(gctx, s.store, h.UserID, plan.schedules[h.UserID], loadFrom, loadTo)
			if err != nil {
				return err
			}
			data[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SlotResult{}, err
	}

	seatedID := ""
	if c.Seated() {
		seatedID = plan.eventTypeID
	}
	normalizer := availability.NewNormalizer(plan.location)
	hosts := make([]slots.HostAvailability, 0, len(data))
	counts := make(map[string]int, len(data))
	for _, d := range data {
		host := slots.HostAvailability{HostID: d.userID}
		if d.schedule == nil {
			logger.WarnContext(ctx, "host has no schedule", "host_id", d.userID)
		} else {
			free, err := normalizer.FreeIntervals(*d.schedule, q.From, q.To.Add(c.Duration))
			if err != nil {
				return SlotResult{}, err
			}
			host.Free = interval.NewIndex(free)
		}

		busy, seated := d.blocking(seatedID)
		var err error
		if host.Busy, err = interval.BuildIndex(busy); err != nil {
			return SlotResult{}, fmt.Errorf("application: busy time of %s: %w", d.userID, err)
		}
		if host.SeatedSpans, err = interval.BuildIndex(seated); err != nil {
			return SlotResult{}, fmt.Errorf("application: seated bookings of %s: %w", d.userID, err)
		}
		if c.Seated() {
			host.SeatsTaken = d.seatsTaken(plan.eventTypeID)
		}
		if plan.hasLimits() {
			host.Usage = limits.NewCounter(plan.calendar, d.usage(plan.eventTypeID))
		}
		counts[d.userID] = d.countBetween(plan.eventTypeID, weekStart, weekEnd)
		hosts = append(hosts, host)
	}

	from := slots.AlignStart(q.From, c.Step(), plan.location)
	candidates, err := slots.Generate(slots.Request{From: from, To: q.To, Now: now, Constraints: c}, hosts)
	if err != nil {
		return SlotResult{}, &ValidationError{FieldErrors: map[string]string{"constraints": err.Error()}}
	}

	cfg := assignment.Config{
		Type:           plan.kind,
		Hosts:          plan.hosts,
		WeightsEnabled: plan.weightsEnabled,
		Counts:         counts,
		ContactOwnerID: q.ContactOwnerID,
	}
	if plan.kind == assignment.RoundRobin {
		eligible, warning := s.eligible(ctx, logger, plan)
		cfg.Eligible = eligible
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	resolver, err := assignment.NewResolver(cfg)
	if err != nil {
		return SlotResult{}, fmt.Errorf("application: event type %s: %w", plan.eventTypeID, err)
	}
	result.Slots = resolver.Resolve(candidates)
	return result, nil
}

// eligible resolves the round-robin pool through the segment. Resolution
// failures leave an empty pool and a warning rather than an error.
func (s *AvailabilityService) eligible(ctx context.Context, logger *slog.Logger, plan eventPlan) (map[string]bool, string) {
	if plan.segment == nil && plan.segmentErr == nil {
		return nil, ""
	}
	var (
		matched []string
		err     error
	)
	if plan.segmentErr != nil {
		err = &segment.SegmentResolutionError{Err: plan.segmentErr}
	} else {
		matched, err = s.matcher.Match(ctx, plan.segment, plan.rotatingHostIDs())
	}
	if err != nil {
		logger.WarnContext(ctx, "segment resolution failed", "error", err)
		return map[string]bool{}, err.Error()
	}

	eligible := make(map[string]bool, len(matched))
	for _, id := range matched {
		eligible[id] = true
	}
	return eligible, ""
}

// attributeSource adapts the attribute repository to segment matching.
type attributeSource struct {
	repo persistence.AttributeRepository
}

func (a attributeSource) AttributesFor(ctx context.Context, userIDs []string) (map[string]segment.Attributes, error) {
	raw, err := a.repo.ListAttributes(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]segment.Attributes, len(raw))
	for id, attrs := range raw {
		out[id] = segment.Attributes(attrs)
	}
	return out, nil
}
