package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/disaster-response/internal/models"
)

const disasterColumns = `id, title, description, source, category, status, event_date, event_time,
	location, coordinate, latitude, longitude, magnitude, depth, shakemap_url, reported_by,
	created_at, updated_at`

func (s *Store) Add(ctx context.Context, d *models.Disaster) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}

	query := `INSERT INTO disasters (` + disasterColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		d.ID, d.Title, d.Description, d.Source, d.Category, d.Status, d.Date, d.Time,
		d.Location, d.Coordinate, d.Latitude, d.Longitude, d.Magnitude, d.Depth,
		d.ShakemapURL, d.ReportedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("error inserting disaster %s: %w", d.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading insert result: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Disaster, error) {
	var d models.Disaster
	err := s.get(ctx, &d, `SELECT `+disasterColumns+` FROM disasters WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) FindByDedupKey(ctx context.Context, key models.DedupKey) (*models.Disaster, error) {
	var d models.Disaster
	err := s.get(ctx, &d, `SELECT `+disasterColumns+` FROM disasters
		WHERE source = ? AND category = ? AND latitude = ? AND longitude = ?
			AND magnitude = ? AND event_date = ? AND event_time = ?
		LIMIT 1`,
		key.Source, key.Category, key.Latitude, key.Longitude, key.Magnitude, key.Date, key.Time,
	)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up disaster by key: %w", err)
	}
	return &d, nil
}

func (s *Store) ListDisasters(ctx context.Context, opts Filter) ([]models.Disaster, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "event_date >= ?")
		args = append(args, opts.Since.Format("2006-01-02"))
	}
	if opts.Source != nil {
		where = append(where, "source = ?")
		args = append(args, *opts.Source)
	}
	if opts.Category != nil {
		where = append(where, "category = ?")
		args = append(args, *opts.Category)
	}
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *opts.Status)
	}
	if opts.MinMagnitude != nil {
		where = append(where, "magnitude >= ?")
		args = append(args, *opts.MinMagnitude)
	}

	query := `SELECT ` + disasterColumns + ` FROM disasters`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY event_date DESC, event_time DESC, created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	disasters := []models.Disaster{}
	if err := s.db.SelectContext(ctx, &disasters, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("error listing disasters: %w", err)
	}
	return disasters, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status models.DisasterStatus) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE disasters SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("error updating disaster %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM disasters`); err != nil {
		return 0, err
	}
	return n, nil
}
