package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mr1hm/disaster-response/internal/models"
)

func (s *Store) AddNotifications(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	stmt := tx.Rebind(`INSERT INTO notifications
		(id, user_id, disaster_id, category, title, message, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	for i := range ns {
		n := &ns[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, stmt,
			n.ID, n.UserID, n.DisasterID, n.Category, n.Title, n.Message, n.ReadAt, n.CreatedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert notification user=%s: %w", n.UserID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ns := []models.Notification{}
	err := s.db.SelectContext(ctx, &ns, s.db.Rebind(`
		SELECT id, user_id, disaster_id, category, title, message, read_at, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications for user %s: %w", userID, err)
	}
	return ns, nil
}

// RegisterDevice upserts a push token; a token moves to the latest user that registers it.
func (s *Store) RegisterDevice(ctx context.Context, d *models.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO devices (token, user_id, platform, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform`),
		d.Token, d.UserID, d.Platform, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error registering device for user %s: %w", d.UserID, err)
	}
	return nil
}

func (s *Store) ListDeviceTokens(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	tokens := []string{}
	if err := s.selectIn(ctx, &tokens,
		`SELECT token FROM devices WHERE user_id IN (?) ORDER BY token`, userIDs); err != nil {
		return nil, fmt.Errorf("error listing device tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) DeleteDeviceTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM devices WHERE token IN (?)`, tokens)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting device tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) AddReport(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO reports (id, disaster_id, user_id, title, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.ID, r.DisasterID, r.UserID, r.Title, r.Description, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting report for disaster %s: %w", r.DisasterID, err)
	}
	return nil
}
