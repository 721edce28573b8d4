package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/disaster-response/internal/models"
)

const userColumns = `id, name, email, role, active, created_at`

// AddUser is used by seeding and tests; user management itself lives outside
// this service.
func (s *Store) AddUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Email, u.Role, u.Active, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) FirstActiveAdmin(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.get(ctx, &u, `SELECT `+userColumns+` FROM users
		WHERE role = ? AND active = ?
		ORDER BY created_at, id
		LIMIT 1`, models.UserRoleAdmin, true)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) AssignResponder(ctx context.Context, disasterID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO disaster_assignments (disaster_id, user_id, created_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
		disasterID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("error assigning user %s to disaster %s: %w", userID, disasterID, err)
	}
	return nil
}

func (s *Store) ListAssignedResponders(ctx context.Context, disasterID, excludeUserID string) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, s.db.Rebind(`
		SELECT u.id, u.name, u.email, u.role, u.active, u.created_at
		FROM users u
		JOIN disaster_assignments a ON a.user_id = u.id
		WHERE a.disaster_id = ? AND u.id <> ? AND u.active = ?
		ORDER BY u.name, u.id`),
		disasterID, excludeUserID, true,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing responders for disaster %s: %w", disasterID, err)
	}
	return users, nil
}
