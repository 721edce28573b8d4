package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mr1hm/disaster-response/internal/bmkg"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/repository"
)

// mockDisasterRepo implements repository.DisasterRepository and enforces the
// feed dedup key the way the store's unique index does.
type mockDisasterRepo struct {
	mu        sync.Mutex
	disasters map[string]*models.Disaster
	// hideNext makes the next FindByDedupKey miss, simulating a concurrent insert.
	hideNext bool
}

func newMockRepo() *mockDisasterRepo {
	return &mockDisasterRepo{
		disasters: make(map[string]*models.Disaster),
	}
}

func (m *mockDisasterRepo) Add(ctx context.Context, d *models.Disaster) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Source == models.DisasterSourceBMKG {
		for _, existing := range m.disasters {
			if existing.DedupKey() == d.DedupKey() {
				return false, nil
			}
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	stored := *d
	m.disasters[d.ID] = &stored
	return true, nil
}

func (m *mockDisasterRepo) GetByID(ctx context.Context, id string) (*models.Disaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disasters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (m *mockDisasterRepo) FindByDedupKey(ctx context.Context, key models.DedupKey) (*models.Disaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideNext {
		m.hideNext = false
		return nil, nil
	}
	for _, d := range m.disasters {
		if d.DedupKey() == key {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDisasterRepo) ListDisasters(ctx context.Context, opts repository.Filter) ([]models.Disaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []models.Disaster
	for _, d := range m.disasters {
		results = append(results, *d)
	}
	return results, nil
}

func (m *mockDisasterRepo) UpdateStatus(ctx context.Context, id string, status models.DisasterStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disasters[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *mockDisasterRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disasters), nil
}

type mockResponderRepo struct {
	mu          sync.Mutex
	admin       *models.User
	assignments map[string][]string
}

func newMockResponders(admin *models.User) *mockResponderRepo {
	return &mockResponderRepo{admin: admin, assignments: make(map[string][]string)}
}

func (m *mockResponderRepo) FirstActiveAdmin(ctx context.Context) (*models.User, error) {
	if m.admin == nil {
		return nil, repository.ErrNotFound
	}
	return m.admin, nil
}

func (m *mockResponderRepo) AssignResponder(ctx context.Context, disasterID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[disasterID] = append(m.assignments[disasterID], userID)
	return nil
}

func (m *mockResponderRepo) ListAssignedResponders(ctx context.Context, disasterID, excludeUserID string) ([]models.User, error) {
	return nil, nil
}

func (m *mockResponderRepo) assigned(disasterID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[disasterID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) published() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

// stubFetcher serves canned documents per feed.
type stubFetcher struct {
	docs map[bmkg.Kind]string
	errs map[bmkg.Kind]error
}

func (f *stubFetcher) Fetch(ctx context.Context, kind bmkg.Kind) ([]byte, error) {
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[kind]
	if !ok {
		return nil, &bmkg.StatusError{Kind: kind, Code: 404}
	}
	return []byte(doc), nil
}

func quake(clock string, mag float64, region string) string {
	return fmt.Sprintf(`{"Tanggal":"21 Okt 2025, %s WIB","Magnitude":"%.1f","Kedalaman":"10 km","Wilayah":%q,"point":{"coordinates":["120.5","-3.2"]}}`,
		clock, mag, region)
}

func feedList(objs ...string) string {
	return `{"Infogempa":{"gempa":[` + strings.Join(objs, ",") + `]}}`
}

func feedSingle(obj string) string {
	return `{"Infogempa":{"gempa":` + obj + `}}`
}
