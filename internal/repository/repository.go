package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/disaster-response/internal/models"
)

var ErrNotFound = errors.New("not found")

type Filter struct {
	Limit        int
	Offset       int
	Since        *time.Time
	Source       *models.DisasterSource
	Category     *models.DisasterCategory
	Status       *models.DisasterStatus
	MinMagnitude *float64
}

type DisasterRepository interface {
	// Add inserts d. It reports created=false without error when d collides
	// with an existing feed disaster on the dedup key.
	Add(ctx context.Context, d *models.Disaster) (created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Disaster, error)
	// FindByDedupKey returns nil, nil when no row matches.
	FindByDedupKey(ctx context.Context, key models.DedupKey) (*models.Disaster, error)
	ListDisasters(ctx context.Context, opts Filter) ([]models.Disaster, error)
	UpdateStatus(ctx context.Context, id string, status models.DisasterStatus) error
	Count(ctx context.Context) (int, error)
}

type ResponderRepository interface {
	// FirstActiveAdmin returns ErrNotFound when there is none.
	FirstActiveAdmin(ctx context.Context) (*models.User, error)
	AssignResponder(ctx context.Context, disasterID, userID string) error
	// ListAssignedResponders returns the users assigned to a disaster, minus excludeUserID.
	ListAssignedResponders(ctx context.Context, disasterID, excludeUserID string) ([]models.User, error)
}

type NotificationRepository interface {
	AddNotifications(ctx context.Context, ns []models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

type DeviceRepository interface {
	RegisterDevice(ctx context.Context, d *models.Device) error
	ListDeviceTokens(ctx context.Context, userIDs []string) ([]string, error)
	DeleteDeviceTokens(ctx context.Context, tokens []string) (int64, error)
}

type ReportRepository interface {
	AddReport(ctx context.Context, r *models.Report) error
}
