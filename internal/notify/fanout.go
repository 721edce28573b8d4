package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/observability"
	"github.com/mr1hm/disaster-response/internal/repository"
)

// FanOut notifies a disaster's assigned responders about an event: one stored
// notification each, then best-effort push to their devices.
type FanOut struct {
	responders    repository.ResponderRepository
	notifications repository.NotificationRepository
	devices       repository.DeviceRepository
	pusher        Pusher
	metrics       *observability.Metrics
	clock         clockwork.Clock
}

type Store interface {
	repository.ResponderRepository
	repository.NotificationRepository
	repository.DeviceRepository
}

// NewFanOut builds a FanOut. A nil pusher stores notifications only.
func NewFanOut(store Store, pusher Pusher, metrics *observability.Metrics, clock clockwork.Clock) *FanOut {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FanOut{
		responders:    store,
		notifications: store,
		devices:       store,
		pusher:        pusher,
		metrics:       metrics,
		clock:         clock,
	}
}

// Notify returns an error only when the notification rows could not be
// written. Push failures are logged.
func (f *FanOut) Notify(ctx context.Context, e models.Event) error {
	users, err := f.responders.ListAssignedResponders(ctx, e.DisasterID, e.ActorID)
	if err != nil {
		return fmt.Errorf("error listing responders for %s: %w", e.DisasterID, err)
	}
	if len(users) == 0 {
		slog.Debug("no responders to notify", "disaster_id", e.DisasterID, "type", e.Type)
		return nil
	}

	now := f.clock.Now().UTC()
	userIDs := make([]string, 0, len(users))
	ns := make([]models.Notification, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
		ns = append(ns, models.Notification{
			ID:         uuid.NewString(),
			UserID:     u.ID,
			DisasterID: e.DisasterID,
			Category:   string(e.Type),
			Title:      e.Title,
			Message:    e.Message,
			CreatedAt:  now,
		})
	}
	if err := f.notifications.AddNotifications(ctx, ns); err != nil {
		return fmt.Errorf("error storing notifications for %s: %w", e.DisasterID, err)
	}
	if f.metrics != nil {
		f.metrics.NotificationsCreated.Add(float64(len(ns)))
	}
	slog.Info("notifications created", "disaster_id", e.DisasterID, "type", e.Type, "count", len(ns))

	if f.pusher == nil {
		return nil
	}
	f.push(ctx, e, userIDs)
	return nil
}

func (f *FanOut) push(ctx context.Context, e models.Event, userIDs []string) {
	tokens, err := f.devices.ListDeviceTokens(ctx, userIDs)
	if err != nil {
		slog.Error("error listing device tokens", "disaster_id", e.DisasterID, "error", err)
		return
	}
	if len(tokens) == 0 {
		slog.Warn("no devices registered for notified users", "disaster_id", e.DisasterID, "users", len(userIDs))
		return
	}

	msg := Message{
		Title: e.Title,
		Body:  e.Message,
		Data: map[string]string{
			"type":        string(e.Type),
			"disaster_id": e.DisasterID,
		},
	}

	var sent, failed int
	var invalid []string
	for start := 0; start < len(tokens); start += MaxTokensPerBatch {
		end := min(start+MaxTokensPerBatch, len(tokens))
		batch := tokens[start:end]

		res, err := f.pusher.SendMulticast(ctx, msg, batch)
		if err != nil {
			slog.Error("push batch failed", "disaster_id", e.DisasterID, "tokens", len(batch), "error", err)
			failed += len(batch)
			continue
		}
		sent += res.SuccessCount
		failed += res.FailureCount
		invalid = append(invalid, res.InvalidTokens...)
	}

	if f.metrics != nil {
		f.metrics.PushSent.WithLabelValues("success").Add(float64(sent))
		f.metrics.PushSent.WithLabelValues("failure").Add(float64(failed))
	}
	if failed > 0 {
		slog.Warn("push partially failed", "disaster_id", e.DisasterID, "success", sent, "failure", failed)
	} else {
		slog.Info("push sent", "disaster_id", e.DisasterID, "success", sent)
	}

	if len(invalid) == 0 {
		return
	}
	n, err := f.devices.DeleteDeviceTokens(ctx, invalid)
	if err != nil {
		slog.Error("error pruning device tokens", "count", len(invalid), "error", err)
		return
	}
	if f.metrics != nil {
		f.metrics.TokensPruned.Add(float64(n))
	}
	slog.Info("pruned invalid device tokens", "count", n)
}
