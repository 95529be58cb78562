// Package memory is an in-process persistence backend for tests and the
// demo CLI. Transactions are serialized and roll back by restoring a
// snapshot taken when they begin.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

// Storage keeps every record in maps guarded by one lock.
type Storage struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	users       map[string]persistence.User
	schedules   map[string]persistence.Schedule
	eventTypes  map[string]persistence.EventType
	bookings    map[string]persistence.Booking
	outOfOffice map[string]persistence.OutOfOffice
	busyTimes   map[string]persistence.BusyTime
	attributes  map[string]map[string][]string
}

var (
	_ persistence.Store      = (*Storage)(nil)
	_ persistence.Transactor = (*Storage)(nil)
)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		users:       make(map[string]persistence.User),
		schedules:   make(map[string]persistence.Schedule),
		eventTypes:  make(map[string]persistence.EventType),
		bookings:    make(map[string]persistence.Booking),
		outOfOffice: make(map[string]persistence.OutOfOffice),
		busyTimes:   make(map[string]persistence.BusyTime),
		attributes:  make(map[string]map[string][]string),
	}
}

func (s *Storage) Users() persistence.UserRepository { return s }
func (s *Storage) Schedules() persistence.ScheduleRepository { return s }
func (s *Storage) EventTypes() persistence.EventTypeRepository { return s }
func (s *Storage) Bookings() persistence.BookingRepository { return s }
func (s *Storage) OutOfOffice() persistence.OutOfOfficeRepository { return s }
func (s *Storage) BusyTimes() persistence.BusyTimeRepository { return s }
func (s *Storage) Attributes() persistence.AttributeRepository { return s }

// WithinTransaction runs fn while holding the transaction lock.
func (s *Storage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store persistence.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(ctx, s); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

func (s *Storage) snapshot() *Storage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := New()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = cloneSchedule(v)
	}
	for k, v := range s.eventTypes {
		c.eventTypes[k] = cloneEventType(v)
	}
	for k, v := range s.bookings {
		c.bookings[k] = cloneBooking(v)
	}
	for k, v := range s.outOfOffice {
		c.outOfOffice[k] = v
	}
	for k, v := range s.busyTimes {
		c.busyTimes[k] = v
	}
	for k, v := range s.attributes {
		c.attributes[k] = cloneAttributes(v)
	}
	return c
}

func (s *Storage) restore(from *Storage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = from.users
	s.schedules = from.schedules
	s.eventTypes = from.eventTypes
	s.bookings = from.bookings
	s.outOfOffice = from.outOfOffice
	s.busyTimes = from.busyTimes
	s.attributes = from.attributes
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Storage) CreateUser(ctx context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("memory: user %s: %w", user.ID, persistence.ErrDuplicate)
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	s.users[user.ID] = user
	return nil
}

// UpdateUser updates an existing user.
func (s *Storage) UpdateUser(ctx context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	user.CreatedAt = existing.CreatedAt
	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by ID.
func (s *Storage) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// ListUsers returns all users ordered by CreatedAt ascending.
func (s *Storage) ListUsers(ctx context.Context) ([]persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *Storage) ensureUniqueEmailLocked(id, email string) error {
	for existingID, user := range s.users {
		if existingID != id && strings.EqualFold(user.Email, email) {
			return fmt.Errorf("memory: email %s: %w", email, persistence.ErrDuplicate)
		}
	}
	return nil
}

// --- ScheduleRepository implementation ---

// CreateSchedule stores a new schedule.
func (s *Storage) CreateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return fmt.Errorf("memory: schedule %s: %w", schedule.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.users[schedule.OwnerID]; !ok {
		return fmt.Errorf("memory: schedule owner %s: %w", schedule.OwnerID, persistence.ErrConstraintViolation)
	}

	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

// UpdateSchedule replaces a schedule's rules and overrides. The owner is immutable.
func (s *Storage) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedules[schedule.ID]
	if !ok {
		return persistence.ErrNotFound
	}

	schedule.OwnerID = existing.OwnerID
	schedule.CreatedAt = existing.CreatedAt
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Storage) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

// ListSchedulesByOwner returns an owner's schedules ordered by ID.
func (s *Storage) ListSchedulesByOwner(ctx context.Context, ownerID string) ([]persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var schedules []persistence.Schedule
	for _, schedule := range s.schedules {
		if schedule.OwnerID == ownerID {
			schedules = append(schedules, cloneSchedule(schedule))
		}
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
	return schedules, nil
}

// DeleteSchedule removes a schedule.
func (s *Storage) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// --- EventTypeRepository implementation ---

// CreateEventType stores a new event type with its hosts.
func (s *Storage) CreateEventType(ctx context.Context, eventType persistence.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eventTypes[eventType.ID]; ok {
		return fmt.Errorf("memory: event type %s: %w", eventType.ID, persistence.ErrDuplicate)
	}
	if err := s.checkEventTypeLocked(eventType); err != nil {
		return err
	}

	s.eventTypes[eventType.ID] = cloneEventType(eventType)
	return nil
}

// UpdateEventType replaces an event type and its hosts.
func (s *Storage) UpdateEventType(ctx context.Context, eventType persistence.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.eventTypes[eventType.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := s.checkEventTypeLocked(eventType); err != nil {
		return err
	}

	eventType.CreatedAt = existing.CreatedAt
	s.eventTypes[eventType.ID] = cloneEventType(eventType)
	return nil
}

// GetEventType retrieves an event type by ID.
func (s *Storage) GetEventType(ctx context.Context, id string) (persistence.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventType, ok := s.eventTypes[id]
	if !ok {
		return persistence.EventType{}, persistence.ErrNotFound
	}
	return cloneEventType(eventType), nil
}

// GetEventTypeBySlug retrieves an event type by slug.
func (s *Storage) GetEventTypeBySlug(ctx context.Context, slug string) (persistence.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, eventType := range s.eventTypes {
		if eventType.Slug == slug {
			return cloneEventType(eventType), nil
		}
	}
	return persistence.EventType{}, persistence.ErrNotFound
}

// ListEventTypes returns all event types ordered by slug.
func (s *Storage) ListEventTypes(ctx context.Context) ([]persistence.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.EventType, 0, len(s.eventTypes))
	for _, eventType := range s.eventTypes {
		out = append(out, cloneEventType(eventType))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Storage) checkEventTypeLocked(eventType persistence.EventType) error {
	for id, other := range s.eventTypes {
		if id != eventType.ID && other.Slug == eventType.Slug {
			return fmt.Errorf("memory: event type slug %s: %w", eventType.Slug, persistence.ErrDuplicate)
		}
	}
	for _, host := range eventType.Hosts {
		if _, ok := s.users[host.UserID]; !ok {
			return fmt.Errorf("memory: host %s: %w", host.UserID, persistence.ErrConstraintViolation)
		}
	}
	return nil
}

// --- BookingRepository implementation ---

// CreateBooking stores a booking. An accepted, unseated booking conflicts
// with any other such booking of a shared host at the same start.
func (s *Storage) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("memory: booking %s: %w", booking.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.eventTypes[booking.EventTypeID]; !ok {
		return fmt.Errorf("memory: booking event type %s: %w", booking.EventTypeID, persistence.ErrConstraintViolation)
	}
	if booking.Status.Blocks() && !booking.Seated {
		for _, other := range s.bookings {
			if !other.Status.Blocks() || other.Seated || !other.Start.Equal(booking.Start) {
				continue
			}
			if intersects(other.HostIDs, booking.HostIDs) {
				return fmt.Errorf("memory: host already booked at %s: %w", booking.Start.UTC().Format(time.RFC3339), persistence.ErrDuplicate)
			}
		}
	}

	s.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return cloneBooking(booking), nil
}

// UpdateBookingStatus changes a booking's status.
func (s *Storage) UpdateBookingStatus(ctx context.Context, id string, status persistence.BookingStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[id]
	if !ok {
		return persistence.ErrNotFound
	}
	booking.Status = status
	booking.UpdatedAt = updatedAt
	s.bookings[id] = booking
	return nil
}

// ListBookings returns matching bookings ordered by start.
func (s *Storage) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Booking
	for _, booking := range s.bookings {
		if matchesBookingFilter(booking, filter) {
			out = append(out, cloneBooking(booking))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// --- OutOfOfficeRepository implementation ---

// CreateOutOfOffice stores an out-of-office entry.
func (s *Storage) CreateOutOfOffice(ctx context.Context, entry persistence.OutOfOffice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outOfOffice[entry.ID]; ok {
		return fmt.Errorf("memory: out of office %s: %w", entry.ID, persistence.ErrDuplicate)
	}
	s.outOfOffice[entry.ID] = entry
	return nil
}

// ListOutOfOffice returns entries of the users intersecting [from, to).
func (s *Storage) ListOutOfOffice(ctx context.Context, userIDs []string, from, to time.Time) ([]persistence.OutOfOffice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := toSet(userIDs)
	var out []persistence.OutOfOffice
	for _, entry := range s.outOfOffice {
		if _, ok := users[entry.UserID]; ok && entry.Start.Before(to) && entry.End.After(from) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// DeleteOutOfOffice removes an entry.
func (s *Storage) DeleteOutOfOffice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outOfOffice[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.outOfOffice, id)
	return nil
}

// --- BusyTimeRepository implementation ---

// UpsertBusyTime stores or replaces an external busy entry.
func (s *Storage) UpsertBusyTime(ctx context.Context, busy persistence.BusyTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busyTimes[busy.ID] = busy
	return nil
}

// ListBusyTimes returns busy entries of the users intersecting [from, to).
func (s *Storage) ListBusyTimes(ctx context.Context, userIDs []string, from, to time.Time) ([]persistence.BusyTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := toSet(userIDs)
	var out []persistence.BusyTime
	for _, busy := range s.busyTimes {
		if _, ok := users[busy.UserID]; ok && busy.Start.Before(to) && busy.End.After(from) {
			out = append(out, busy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// --- AttributeRepository implementation ---

// ReplaceAttributes overwrites a user's attributes.
func (s *Storage) ReplaceAttributes(ctx context.Context, userID string, attributes map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return persistence.ErrNotFound
	}
	s.attributes[userID] = cloneAttributes(attributes)
	return nil
}

// ListAttributes returns the attributes of the requested users. Users
// without attributes are omitted.
func (s *Storage) ListAttributes(ctx context.Context, userIDs []string) (map[string]map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string][]string, len(userIDs))
	for _, id := range userIDs {
		if attrs, ok := s.attributes[id]; ok {
			out[id] = cloneAttributes(attrs)
		}
	}
	return out, nil
}

// --- Helpers ---

func cloneSchedule(schedule persistence.Schedule) persistence.Schedule {
	rules := make([]persistence.ScheduleRule, len(schedule.Rules))
	for i, rule := range schedule.Rules {
		rule.Weekdays = append([]time.Weekday(nil), rule.Weekdays...)
		rules[i] = rule
	}
	overrides := make([]persistence.ScheduleOverride, len(schedule.Overrides))
	for i, override := range schedule.Overrides {
		override.Ranges = append([]persistence.MinuteRange(nil), override.Ranges...)
		overrides[i] = override
	}
	schedule.Rules = rules
	schedule.Overrides = overrides
	return schedule
}

func cloneEventType(eventType persistence.EventType) persistence.EventType {
	eventType.Hosts = append([]persistence.EventTypeHost(nil), eventType.Hosts...)
	eventType.Segment = append([]byte(nil), eventType.Segment...)
	return eventType
}

func cloneBooking(booking persistence.Booking) persistence.Booking {
	booking.HostIDs = append([]string(nil), booking.HostIDs...)
	return booking
}

func cloneAttributes(attrs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func matchesBookingFilter(booking persistence.Booking, filter persistence.BookingFilter) bool {
	if filter.EventTypeID != "" && booking.EventTypeID != filter.EventTypeID {
		return false
	}
	if filter.EndsAfter != nil && !booking.End.After(*filter.EndsAfter) {
		return false
	}
	if filter.StartsBefore != nil && !booking.Start.Before(*filter.StartsBefore) {
		return false
	}
	if len(filter.HostIDs) > 0 && !intersects(booking.HostIDs, filter.HostIDs) {
		return false
	}
	if len(filter.Statuses) > 0 {
		matched := false
		for _, status := range filter.Statuses {
			if booking.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func intersects(values []string, targets []string) bool {
	set := toSet(values)
	for _, target := range targets {
		if _, ok := set[target]; ok {
			return true
		}
	}
	return false
}
