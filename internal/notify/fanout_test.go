package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/observability"
	"github.com/mr1hm/disaster-response/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu            sync.Mutex
	assigned      map[string][]models.User
	tokens        map[string][]string // user id -> tokens
	notifications []models.Notification
	deleted       []string
	addErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assigned: make(map[string][]models.User),
		tokens:   make(map[string][]string),
	}
}

func (f *fakeStore) FirstActiveAdmin(ctx context.Context) (*models.User, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeStore) AssignResponder(ctx context.Context, disasterID, userID string) error {
	return nil
}

func (f *fakeStore) ListAssignedResponders(ctx context.Context, disasterID, excludeUserID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.assigned[disasterID] {
		if u.ID != excludeUserID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) AddNotifications(ctx context.Context, ns []models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.notifications = append(f.notifications, ns...)
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeStore) RegisterDevice(ctx context.Context, d *models.Device) error {
	return nil
}

func (f *fakeStore) ListDeviceTokens(ctx context.Context, userIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range userIDs {
		out = append(out, f.tokens[id]...)
	}
	return out, nil
}

func (f *fakeStore) DeleteDeviceTokens(ctx context.Context, tokens []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, tokens...)
	return int64(len(tokens)), nil
}

func (f *fakeStore) stored() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.notifications...)
}

// fakePusher rejects tokens prefixed "bad-" as invalid.
type fakePusher struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (p *fakePusher) SendMulticast(ctx context.Context, msg Message, tokens []string) (*BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]string(nil), tokens...))
	if p.err != nil {
		return nil, p.err
	}
	res := &BatchResult{}
	for _, tok := range tokens {
		if len(tok) > 4 && tok[:4] == "bad-" {
			res.FailureCount++
			res.InvalidTokens = append(res.InvalidTokens, tok)
		} else {
			res.SuccessCount++
		}
	}
	return res, nil
}

func completedEvent() models.Event {
	return models.Event{
		Type:       models.EventDisasterCompleted,
		DisasterID: "d-1",
		ActorID:    "u-actor",
		Title:      "Disaster completed",
		Message:    "Earthquake M5.4 – Wilayah X was marked completed",
		OccurredAt: time.Now(),
	}
}

func seededStore() *fakeStore {
	s := newFakeStore()
	s.assigned["d-1"] = []models.User{{ID: "u-actor"}, {ID: "u-2"}, {ID: "u-3"}}
	s.tokens["u-actor"] = []string{"tok-actor"}
	s.tokens["u-2"] = []string{"tok-2a", "bad-2b"}
	s.tokens["u-3"] = []string{"tok-3"}
	return s
}

func TestFanOut_NotifiesEveryoneButActor(t *testing.T) {
	store := seededStore()
	pusher := &fakePusher{}
	metrics := observability.NewMetricsForTesting()
	f := NewFanOut(store, pusher, metrics, clockwork.NewFakeClock())

	require.NoError(t, f.Notify(context.Background(), completedEvent()))

	ns := store.stored()
	require.Len(t, ns, 2)
	for _, n := range ns {
		assert.NotEqual(t, "u-actor", n.UserID)
		assert.Equal(t, "disaster.completed", n.Category)
		assert.Equal(t, "d-1", n.DisasterID)
		assert.Nil(t, n.ReadAt)
	}

	require.Len(t, pusher.batches, 1)
	assert.ElementsMatch(t, []string{"tok-2a", "bad-2b", "tok-3"}, pusher.batches[0])
	assert.Equal(t, []string{"bad-2b"}, store.deleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.NotificationsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PushSent.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PushSent.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokensPruned))
}

func TestFanOut_BatchesAtProviderLimit(t *testing.T) {
	store := newFakeStore()
	store.assigned["d-1"] = []models.User{{ID: "u-2"}}
	for i := 0; i < 1201; i++ {
		store.tokens["u-2"] = append(store.tokens["u-2"], fmt.Sprintf("tok-%d", i))
	}
	pusher := &fakePusher{}

	require.NoError(t, NewFanOut(store, pusher, nil, nil).Notify(context.Background(), completedEvent()))

	require.Len(t, pusher.batches, 3)
	assert.Len(t, pusher.batches[0], 500)
	assert.Len(t, pusher.batches[1], 500)
	assert.Len(t, pusher.batches[2], 201)
}

func TestFanOut_WithoutPusherStoresOnly(t *testing.T) {
	store := seededStore()

	require.NoError(t, NewFanOut(store, nil, nil, nil).Notify(context.Background(), completedEvent()))

	assert.Len(t, store.stored(), 2)
	assert.Empty(t, store.deleted)
}

func TestFanOut_PushErrorIsNotFatal(t *testing.T) {
	store := seededStore()
	pusher := &fakePusher{err: errors.New("provider unavailable")}

	require.NoError(t, NewFanOut(store, pusher, nil, nil).Notify(context.Background(), completedEvent()))

	assert.Len(t, store.stored(), 2)
	assert.Empty(t, store.deleted, "tokens must not be pruned when the batch itself failed")
}

func TestFanOut_StoreErrorIsReturned(t *testing.T) {
	store := seededStore()
	store.addErr = errors.New("disk full")

	err := NewFanOut(store, &fakePusher{}, nil, nil).Notify(context.Background(), completedEvent())
	assert.Error(t, err)
}

func TestFanOut_NoRespondersIsNoop(t *testing.T) {
	store := newFakeStore()
	pusher := &fakePusher{}

	require.NoError(t, NewFanOut(store, pusher, nil, nil).Notify(context.Background(), completedEvent()))
	assert.Empty(t, store.stored())
	assert.Empty(t, pusher.batches)
}

func TestFanOut_NoDevicesIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := newFakeStore()
	store.assigned["d-1"] = []models.User{{ID: "u-2"}, {ID: "u-3"}}
	pusher := &fakePusher{}

	require.NoError(t, NewFanOut(store, pusher, nil, nil).Notify(context.Background(), completedEvent()))

	assert.Len(t, store.stored(), 2)
	assert.Empty(t, pusher.batches)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "no devices registered")
	assert.Contains(t, buf.String(), "disaster_id=d-1")
	assert.Contains(t, buf.String(), "users=2")
}

type stubMulticast struct {
	got  *messaging.MulticastMessage
	resp *messaging.BatchResponse
}

func (s *stubMulticast) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	s.got = m
	return s.resp, nil
}

func TestFCMPusher_SendMulticast(t *testing.T) {
	stub := &stubMulticast{resp: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m-1"},
			{Success: false, Error: errors.New("transient")},
		},
	}}
	p := &FCMPusher{client: stub}

	res, err := p.SendMulticast(context.Background(), Message{Title: "t", Body: "b"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Empty(t, res.InvalidTokens, "transient errors are not permanent")
	assert.Equal(t, []string{"a", "b"}, stub.got.Tokens)
	assert.Equal(t, "t", stub.got.Notification.Title)
}

func TestFCMPusher_RejectsOversizedBatch(t *testing.T) {
	p := &FCMPusher{client: &stubMulticast{}}
	_, err := p.SendMulticast(context.Background(), Message{}, make([]string, MaxTokensPerBatch+1))
	assert.Error(t, err)
}

func TestNewFCMPusher_DisabledWithoutCredentials(t *testing.T) {
	_, err := NewFCMPusher(context.Background(), "")
	assert.ErrorIs(t, err, ErrPushDisabled)

	_, err = NewFCMPusher(context.Background(), "/nonexistent/firebase.json")
	assert.ErrorIs(t, err, ErrPushDisabled)
}
