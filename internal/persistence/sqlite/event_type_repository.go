package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

// EventTypeRepository implements persistence.EventTypeRepository.
type EventTypeRepository struct {
	store *Store
}

const eventTypeColumns = `id, slug, title, scheduling_type, duration_minutes, slot_interval_minutes,
	buffer_before_minutes, buffer_after_minutes, minimum_notice_minutes, seats_per_slot,
	rolling_window_days, week_start, timezone, weights_enabled, segment,
	limit_per_day, limit_per_week, limit_per_month, limit_per_year,
	duration_limit_day_minutes, duration_limit_week_minutes, duration_limit_month_minutes, duration_limit_year_minutes,
	created_at, updated_at`

// CreateEventType inserts an event type and its hosts.
func (r *EventTypeRepository) CreateEventType(ctx context.Context, et persistence.EventType) error {
	if et.ID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.store.write(ctx, func(q querier) error {
		args := append([]any{et.ID}, eventTypeValues(et)...)
		args = append(args, formatTime(et.CreatedAt), formatTime(et.UpdatedAt))
		if _, err := q.ExecContext(ctx, `INSERT INTO event_types (`+eventTypeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return mapError(err)
		}
		return insertHosts(ctx, q, et)
	})
}

// UpdateEventType replaces an event type's settings and hosts.
func (r *EventTypeRepository) UpdateEventType(ctx context.Context, et persistence.EventType) error {
	return r.store.write(ctx, func(q querier) error {
		args := append(eventTypeValues(et), formatTime(et.UpdatedAt), et.ID)
		result, err := q.ExecContext(ctx, `
			UPDATE event_types SET slug = ?, title = ?, scheduling_type = ?, duration_minutes = ?,
				slot_interval_minutes = ?, buffer_before_minutes = ?, buffer_after_minutes = ?,
				minimum_notice_minutes = ?, seats_per_slot = ?, rolling_window_days = ?, week_start = ?,
				timezone = ?, weights_enabled = ?, segment = ?,
				limit_per_day = ?, limit_per_week = ?, limit_per_month = ?, limit_per_year = ?,
				duration_limit_day_minutes = ?, duration_limit_week_minutes = ?,
				duration_limit_month_minutes = ?, duration_limit_year_minutes = ?,
				updated_at = ?
			WHERE id = ?`, args...)
		if err != nil {
			return mapError(err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM event_type_hosts WHERE event_type_id = ?`, et.ID); err != nil {
			return mapError(err)
		}
		return insertHosts(ctx, q, et)
	})
}

// GetEventType loads an event type by ID.
func (r *EventTypeRepository) GetEventType(ctx context.Context, id string) (persistence.EventType, error) {
	return r.getBy(ctx, "id", id)
}

// GetEventTypeBySlug loads an event type by slug.
func (r *EventTypeRepository) GetEventTypeBySlug(ctx context.Context, slug string) (persistence.EventType, error) {
	return r.getBy(ctx, "slug", slug)
}

// ListEventTypes returns all event types ordered by slug.
func (r *EventTypeRepository) ListEventTypes(ctx context.Context) ([]persistence.EventType, error) {
	rows, err := r.store.q.QueryContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types ORDER BY slug`)
	if err != nil {
		return nil, mapError(err)
	}
	var out []persistence.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, et)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range out {
		if out[i].Hosts, err = r.loadHosts(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *EventTypeRepository) getBy(ctx context.Context, column, value string) (persistence.EventType, error) {
	row := r.store.q.QueryRowContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE `+column+` = ?`, value)
	et, err := scanEventType(row)
	if err != nil {
		return persistence.EventType{}, err
	}
	if et.Hosts, err = r.loadHosts(ctx, et.ID); err != nil {
		return persistence.EventType{}, err
	}
	return et, nil
}

func (r *EventTypeRepository) loadHosts(ctx context.Context, eventTypeID string) ([]persistence.EventTypeHost, error) {
	rows, err := r.store.q.QueryContext(ctx, `
		SELECT user_id, is_fixed, priority, weight, group_id, schedule_id
		FROM event_type_hosts WHERE event_type_id = ? ORDER BY position`, eventTypeID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var hosts []persistence.EventTypeHost
	for rows.Next() {
		var (
			h     persistence.EventTypeHost
			fixed int
		)
		if err := rows.Scan(&h.UserID, &fixed, &h.Priority, &h.Weight, &h.GroupID, &h.ScheduleID); err != nil {
			return nil, mapError(err)
		}
		h.IsFixed = fixed == 1
		hosts = append(hosts, h)
	}
	return hosts, mapError(rows.Err())
}

func insertHosts(ctx context.Context, q querier, et persistence.EventType) error {
	for i, h := range et.Hosts {
		weight := h.Weight
		if weight <= 0 {
			weight = 100
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO event_type_hosts (event_type_id, user_id, position, is_fixed, priority, weight, group_id, schedule_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			et.ID, h.UserID, i, boolToInt(h.IsFixed), h.Priority, weight, h.GroupID, h.ScheduleID,
		); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// eventTypeValues lists every column between id and created_at.
func eventTypeValues(et persistence.EventType) []any {
	var segment sql.NullString
	if len(et.Segment) > 0 {
		segment = sql.NullString{String: string(et.Segment), Valid: true}
	}
	return []any{
		et.Slug, et.Title, et.SchedulingType,
		minutes(et.Duration), minutes(et.SlotInterval),
		minutes(et.BufferBefore), minutes(et.BufferAfter), minutes(et.MinimumNotice),
		et.SeatsPerSlot, et.RollingWindowDays, int(et.WeekStart), defaultTimezone(et.Timezone),
		boolToInt(et.WeightsEnabled), segment,
		et.LimitPerDay, et.LimitPerWeek, et.LimitPerMonth, et.LimitPerYear,
		minutes(et.DurationLimitDay), minutes(et.DurationLimitWeek),
		minutes(et.DurationLimitMonth), minutes(et.DurationLimitYear),
	}
}

func scanEventType(row rowScanner) (persistence.EventType, error) {
	var (
		et                                persistence.EventType
		duration, interval, before, after int64
		notice, dayLimit, weekLimit       int64
		monthLimit, yearLimit             int64
		weekStart, weights                int
		segment                           sql.NullString
		createdAt, updatedAt              string
	)
	if err := row.Scan(
		&et.ID, &et.Slug, &et.Title, &et.SchedulingType, &duration, &interval,
		&before, &after, &notice, &et.SeatsPerSlot,
		&et.RollingWindowDays, &weekStart, &et.Timezone, &weights, &segment,
		&et.LimitPerDay, &et.LimitPerWeek, &et.LimitPerMonth, &et.LimitPerYear,
		&dayLimit, &weekLimit, &monthLimit, &yearLimit,
		&createdAt, &updatedAt,
	); err != nil {
		return persistence.EventType{}, mapError(err)
	}

	et.Duration = time.Duration(duration) * time.Minute
	et.SlotInterval = time.Duration(interval) * time.Minute
	et.BufferBefore = time.Duration(before) * time.Minute
	et.BufferAfter = time.Duration(after) * time.Minute
	et.MinimumNotice = time.Duration(notice) * time.Minute
	et.DurationLimitDay = time.Duration(dayLimit) * time.Minute
	et.DurationLimitWeek = time.Duration(weekLimit) * time.Minute
	et.DurationLimitMonth = time.Duration(monthLimit) * time.Minute
	et.DurationLimitYear = time.Duration(yearLimit) * time.Minute
	et.WeekStart = time.Weekday(weekStart)
	et.WeightsEnabled = weights == 1
	if segment.Valid {
		et.Segment = []byte(segment.String)
	}

	var err error
	if et.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.EventType{}, err
	}
	if et.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.EventType{}, err
	}
	return et, nil
}

func minutes(d time.Duration) int64 {
	return int64(d / time.Minute)
}
