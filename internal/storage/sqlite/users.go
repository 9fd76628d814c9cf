package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tracktrip/internal/models"
)

// ErrUserNotFound is returned when no user exists for an id.
var ErrUserNotFound = errors.New("user not found")

// ListUsers retrieves all users ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role, push_token FROM users ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.PushToken); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, role, push_token FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Role, &u.PushToken)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpsertUser creates or replaces a user record.
func (s *Store) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return models.User{}, fmt.Errorf("user id must not be empty")
	}
	if strings.TrimSpace(u.Name) == "" {
		return models.User{}, fmt.Errorf("user name must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, name, role, push_token) VALUES(?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role,
            push_token = excluded.push_token, updated_at = CURRENT_TIMESTAMP`,
		u.ID, strings.TrimSpace(u.Name), string(u.Role), u.PushToken)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, u.ID)
}
