package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

// CalendarRepository implements persistence.OutOfOfficeRepository and
// persistence.BusyTimeRepository.
type CalendarRepository struct {
	store *Store
}

// CreateOutOfOffice inserts an out-of-office entry.
func (r *CalendarRepository) CreateOutOfOffice(ctx context.Context, entry persistence.OutOfOffice) error {
	_, err := r.store.q.ExecContext(ctx, `
		INSERT INTO out_of_office (id, user_id, start_time, end_time, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, formatTime(entry.Start), formatTime(entry.End), entry.Reason, formatTime(entry.CreatedAt),
	)
	return mapError(err)
}

// ListOutOfOffice returns entries of the users intersecting [from, to).
func (r *CalendarRepository) ListOutOfOffice(ctx context.Context, userIDs []string, from, to time.Time) ([]persistence.OutOfOffice, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := append(stringArgs(userIDs), formatTime(to), formatTime(from))
	rows, err := r.store.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, start_time, end_time, reason, created_at FROM out_of_office
		WHERE user_id IN (%s) AND start_time < ? AND end_time > ?
		ORDER BY start_time, id`, placeholders(len(userIDs))), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []persistence.OutOfOffice
	for rows.Next() {
		var (
			e                     persistence.OutOfOffice
			start, end, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &start, &end, &e.Reason, &createdAt); err != nil {
			return nil, mapError(err)
		}
		if e.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.End, err = parseTime(end); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}

// DeleteOutOfOffice removes an entry.
func (r *CalendarRepository) DeleteOutOfOffice(ctx context.Context, id string) error {
	result, err := r.store.q.ExecContext(ctx, `DELETE FROM out_of_office WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

// UpsertBusyTime stores or replaces an external busy entry.
func (r *CalendarRepository) UpsertBusyTime(ctx context.Context, busy persistence.BusyTime) error {
	source := busy.Source
	if source == "" {
		source = "external-calendar"
	}
	_, err := r.store.q.ExecContext(ctx, `
		INSERT INTO busy_times (id, user_id, start_time, end_time, source, external_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			source = excluded.source,
			external_id = excluded.external_id`,
		busy.ID, busy.UserID, formatTime(busy.Start), formatTime(busy.End), source, busy.ExternalID,
	)
	return mapError(err)
}

// ListBusyTimes returns busy entries of the users intersecting [from, to).
func (r *CalendarRepository) ListBusyTimes(ctx context.Context, userIDs []string, from, to time.Time) ([]persistence.BusyTime, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := append(stringArgs(userIDs), formatTime(to), formatTime(from))
	rows, err := r.store.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, start_time, end_time, source, external_id FROM busy_times
		WHERE user_id IN (%s) AND start_time < ? AND end_time > ?
		ORDER BY start_time, id`, placeholders(len(userIDs))), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []persistence.BusyTime
	for rows.Next() {
		var (
			b          persistence.BusyTime
			start, end string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &start, &end, &b.Source, &b.ExternalID); err != nil {
			return nil, mapError(err)
		}
		if b.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if b.End, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err())
}
