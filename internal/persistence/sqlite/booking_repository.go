package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

// BookingRepository implements persistence.BookingRepository.
type BookingRepository struct {
	store *Store
}

// CreateBooking inserts a booking and one booking_hosts row per host. The
// partial unique index on booking_hosts rejects a second accepted, unseated
// booking for a host at the same start.
func (r *BookingRepository) CreateBooking(ctx context.Context, b persistence.Booking) error {
	if b.ID == "" || len(b.HostIDs) == 0 {
		return persistence.ErrConstraintViolation
	}
	attendees := b.Attendees
	if attendees <= 0 {
		attendees = 1
	}
	return r.store.write(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO bookings (id, event_type_id, start_time, end_time, attendees, seated, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.EventTypeID, formatTime(b.Start), formatTime(b.End), attendees, boolToInt(b.Seated),
			string(b.Status), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		); err != nil {
			return mapError(err)
		}
		for i, hostID := range b.HostIDs {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO booking_hosts (booking_id, user_id, position, start_time, end_time, status, seated)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				b.ID, hostID, i, formatTime(b.Start), formatTime(b.End), string(b.Status), boolToInt(b.Seated),
			); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// GetBooking loads a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	bookings, err := r.list(ctx, "b.id = ?", []any{id}, "")
	if err != nil {
		return persistence.Booking{}, err
	}
	if len(bookings) == 0 {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return bookings[0], nil
}

// UpdateBookingStatus changes the status on the booking and its host rows.
func (r *BookingRepository) UpdateBookingStatus(ctx context.Context, id string, status persistence.BookingStatus, updatedAt time.Time) error {
	return r.store.write(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), formatTime(updatedAt), id)
		if err != nil {
			return mapError(err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `UPDATE booking_hosts SET status = ? WHERE booking_id = ?`, string(status), id)
		return mapError(err)
	})
}

// ListBookings returns bookings matching the filter ordered by start.
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		conditions []string
		args       []any
		join       string
	)
	if len(filter.HostIDs) > 0 {
		join = fmt.Sprintf(`JOIN booking_hosts h ON h.booking_id = b.id AND h.user_id IN (%s)`, placeholders(len(filter.HostIDs)))
		args = append(args, stringArgs(filter.HostIDs)...)
	}
	if filter.EventTypeID != "" {
		conditions = append(conditions, "b.event_type_id = ?")
		args = append(args, filter.EventTypeID)
	}
	if filter.EndsAfter != nil {
		conditions = append(conditions, "b.end_time > ?")
		args = append(args, formatTime(*filter.EndsAfter))
	}
	if filter.StartsBefore != nil {
		conditions = append(conditions, "b.start_time < ?")
		args = append(args, formatTime(*filter.StartsBefore))
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("b.status IN (%s)", placeholders(len(filter.Statuses))))
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}

	where := "1 = 1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	return r.list(ctx, where, args, join)
}

func (r *BookingRepository) list(ctx context.Context, where string, args []any, join string) ([]persistence.Booking, error) {
	rows, err := r.store.q.QueryContext(ctx, `
		SELECT DISTINCT b.id, b.event_type_id, b.start_time, b.end_time, b.attendees, b.seated, b.status, b.created_at, b.updated_at
		FROM bookings b `+join+`
		WHERE `+where+`
		ORDER BY b.start_time, b.id`, args...)
	if err != nil {
		return nil, mapError(err)
	}

	var (
		bookings []persistence.Booking
		index    = make(map[string]int)
	)
	for rows.Next() {
		var (
			b                                persistence.Booking
			start, end, createdAt, updatedAt string
			seated                           int
			status                           string
		)
		if err := rows.Scan(&b.ID, &b.EventTypeID, &start, &end, &b.Attendees, &seated, &status, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, mapError(err)
		}
		b.Seated = seated == 1
		b.Status = persistence.BookingStatus(status)
		for _, field := range []struct {
			dst *time.Time
			raw string
		}{{&b.Start, start}, {&b.End, end}, {&b.CreatedAt, createdAt}, {&b.UpdatedAt, updatedAt}} {
			if *field.dst, err = parseTime(field.raw); err != nil {
				rows.Close()
				return nil, err
			}
		}
		index[b.ID] = len(bookings)
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(bookings) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	hostRows, err := r.store.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT booking_id, user_id FROM booking_hosts
		WHERE booking_id IN (%s) ORDER BY booking_id, position`, placeholders(len(ids))), stringArgs(ids)...)
	if err != nil {
		return nil, mapError(err)
	}
	defer hostRows.Close()
	for hostRows.Next() {
		var bookingID, userID string
		if err := hostRows.Scan(&bookingID, &userID); err != nil {
			return nil, mapError(err)
		}
		i := index[bookingID]
		bookings[i].HostIDs = append(bookings[i].HostIDs, userID)
	}
	return bookings, mapError(hostRows.Err())
}
