package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

const dateLayout = "2006-01-02"

// ScheduleRepository implements persistence.ScheduleRepository.
type ScheduleRepository struct {
	store *Store
}

// CreateSchedule inserts a schedule with its rules and overrides.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.store.write(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO schedules (id, owner_id, name, timezone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			schedule.ID, schedule.OwnerID, schedule.Name, defaultTimezone(schedule.Timezone),
			formatTime(schedule.CreatedAt), formatTime(schedule.UpdatedAt),
		); err != nil {
			return mapError(err)
		}
		return insertScheduleParts(ctx, q, schedule)
	})
}

// UpdateSchedule replaces name, timezone, rules and overrides. The owner is immutable.
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	return r.store.write(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE schedules SET name = ?, timezone = ?, updated_at = ? WHERE id = ?`,
			schedule.Name, defaultTimezone(schedule.Timezone), formatTime(schedule.UpdatedAt), schedule.ID,
		)
		if err != nil {
			return mapError(err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM schedule_rules WHERE schedule_id = ?`, schedule.ID); err != nil {
			return mapError(err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM schedule_overrides WHERE schedule_id = ?`, schedule.ID); err != nil {
			return mapError(err)
		}
		return insertScheduleParts(ctx, q, schedule)
	})
}

// GetSchedule loads a schedule with rules and overrides.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	if id == "" {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	var (
		schedule             persistence.Schedule
		createdAt, updatedAt string
	)
	err := r.store.q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, timezone, created_at, updated_at FROM schedules WHERE id = ?`, id,
	).Scan(&schedule.ID, &schedule.OwnerID, &schedule.Name, &schedule.Timezone, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Schedule{}, mapError(err)
	}
	if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Schedule{}, err
	}

	if schedule.Rules, err = r.loadRules(ctx, id); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.Overrides, err = r.loadOverrides(ctx, id); err != nil {
		return persistence.Schedule{}, err
	}
	return schedule, nil
}

// ListSchedulesByOwner returns an owner's schedules ordered by ID.
func (r *ScheduleRepository) ListSchedulesByOwner(ctx context.Context, ownerID string) ([]persistence.Schedule, error) {
	rows, err := r.store.q.QueryContext(ctx, `SELECT id FROM schedules WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	schedules := make([]persistence.Schedule, 0, len(ids))
	for _, id := range ids {
		schedule, err := r.GetSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// DeleteSchedule removes a schedule; rules and overrides cascade.
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.store.q.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

func insertScheduleParts(ctx context.Context, q querier, schedule persistence.Schedule) error {
	for _, rule := range schedule.Rules {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO schedule_rules (schedule_id, weekdays, start_minute, end_minute) VALUES (?, ?, ?, ?)`,
			schedule.ID, encodeWeekdays(rule.Weekdays), rule.StartMinute, rule.EndMinute,
		); err != nil {
			return mapError(err)
		}
	}
	for _, override := range schedule.Overrides {
		date := override.Date.Format(dateLayout)
		if len(override.Ranges) == 0 {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO schedule_overrides (schedule_id, override_date) VALUES (?, ?)`,
				schedule.ID, date,
			); err != nil {
				return mapError(err)
			}
			continue
		}
		for _, rng := range override.Ranges {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO schedule_overrides (schedule_id, override_date, start_minute, end_minute) VALUES (?, ?, ?, ?)`,
				schedule.ID, date, rng.StartMinute, rng.EndMinute,
			); err != nil {
				return mapError(err)
			}
		}
	}
	return nil
}

func (r *ScheduleRepository) loadRules(ctx context.Context, scheduleID string) ([]persistence.ScheduleRule, error) {
	rows, err := r.store.q.QueryContext(ctx, `
		SELECT weekdays, start_minute, end_minute FROM schedule_rules WHERE schedule_id = ? ORDER BY id`, scheduleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rules []persistence.ScheduleRule
	for rows.Next() {
		var (
			rule     persistence.ScheduleRule
			weekdays string
		)
		if err := rows.Scan(&weekdays, &rule.StartMinute, &rule.EndMinute); err != nil {
			return nil, mapError(err)
		}
		if rule.Weekdays, err = decodeWeekdays(weekdays); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, mapError(rows.Err())
}

func (r *ScheduleRepository) loadOverrides(ctx context.Context, scheduleID string) ([]persistence.ScheduleOverride, error) {
	rows, err := r.store.q.QueryContext(ctx, `
		SELECT override_date, start_minute, end_minute FROM schedule_overrides
		WHERE schedule_id = ? ORDER BY override_date, id`, scheduleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var overrides []persistence.ScheduleOverride
	for rows.Next() {
		var (
			date       string
			start, end sql.NullInt64
		)
		if err := rows.Scan(&date, &start, &end); err != nil {
			return nil, mapError(err)
		}
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse override date %q: %w", date, err)
		}
		if n := len(overrides); n == 0 || !overrides[n-1].Date.Equal(day) {
			overrides = append(overrides, persistence.ScheduleOverride{Date: day})
		}
		if start.Valid && end.Valid {
			last := &overrides[len(overrides)-1]
			last.Ranges = append(last.Ranges, persistence.MinuteRange{StartMinute: int(start.Int64), EndMinute: int(end.Int64)})
		}
	}
	return overrides, mapError(rows.Err())
}

func encodeWeekdays(days []time.Weekday) string {
	sorted := append([]time.Weekday(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, d := range sorted {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(value string) ([]time.Weekday, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("sqlite: invalid weekday %q", part)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}
