package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/example/availability-engine/internal/persistence"
)

// UserRepository implements persistence.UserRepository and
// persistence.AttributeRepository.
type UserRepository struct {
	store *Store
}

// CreateUser inserts a user.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	_, err := r.store.q.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, timezone, default_schedule_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.DisplayName, defaultTimezone(user.Timezone),
		nullString(user.DefaultScheduleID), formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	return mapError(err)
}

// UpdateUser updates a user's mutable fields.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	result, err := r.store.q.ExecContext(ctx, `
		UPDATE users
		SET email = ?, display_name = ?, timezone = ?, default_schedule_id = ?, updated_at = ?
		WHERE id = ?`,
		user.Email, user.DisplayName, defaultTimezone(user.Timezone),
		nullString(user.DefaultScheduleID), formatTime(user.UpdatedAt), user.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	row := r.store.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, timezone, default_schedule_id, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUsers returns all users ordered by creation time.
func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	rows, err := r.store.q.QueryContext(ctx, `
		SELECT id, email, display_name, timezone, default_schedule_id, created_at, updated_at
		FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []persistence.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, mapError(rows.Err())
}

// ReplaceAttributes overwrites a user's attribute values.
func (r *UserRepository) ReplaceAttributes(ctx context.Context, userID string, attributes map[string][]string) error {
	return r.store.write(ctx, func(q querier) error {
		var exists int
		if err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
			return mapError(err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM user_attributes WHERE user_id = ?`, userID); err != nil {
			return mapError(err)
		}

		keys := make([]string, 0, len(attributes))
		for key := range attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for i, value := range attributes[key] {
				if _, err := q.ExecContext(ctx,
					`INSERT OR IGNORE INTO user_attributes (user_id, attr_key, attr_value, position) VALUES (?, ?, ?, ?)`,
					userID, key, value, i,
				); err != nil {
					return mapError(err)
				}
			}
		}
		return nil
	})
}

// ListAttributes loads attributes for the given users.
func (r *UserRepository) ListAttributes(ctx context.Context, userIDs []string) (map[string]map[string][]string, error) {
	out := make(map[string]map[string][]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.store.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id, attr_key, attr_value FROM user_attributes
		WHERE user_id IN (%s)
		ORDER BY user_id, attr_key, position`, placeholders(len(userIDs))),
		stringArgs(userIDs)...,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, key, value string
		if err := rows.Scan(&userID, &key, &value); err != nil {
			return nil, mapError(err)
		}
		if out[userID] == nil {
			out[userID] = make(map[string][]string)
		}
		out[userID][key] = append(out[userID][key], value)
	}
	return out, mapError(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                 persistence.User
		defaultSchedule      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Timezone, &defaultSchedule, &createdAt, &updatedAt); err != nil {
		return persistence.User{}, mapError(err)
	}
	user.DefaultScheduleID = defaultSchedule.String

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func defaultTimezone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
