package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/disaster-response/internal/ingestion"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/repository"
)

// stubSyncer returns a canned result per mode.
type stubSyncer struct {
	results map[ingestion.Mode]*ingestion.Result
	calls   []ingestion.Mode
}

func (s *stubSyncer) Sync(ctx context.Context, mode ingestion.Mode) *ingestion.Result {
	s.calls = append(s.calls, mode)
	if r, ok := s.results[mode]; ok {
		return r
	}
	return &ingestion.Result{Success: true, Message: "ok", Stats: &ingestion.Stats{}}
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

type testEnv struct {
	store     *repository.Store
	syncer    *stubSyncer
	publisher *recordingPublisher
	router    *gin.Engine
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	store, err := repository.NewStore("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:     store,
		syncer:    &stubSyncer{results: map[ingestion.Mode]*ingestion.Result{}},
		publisher: &recordingPublisher{},
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(store, env.syncer, env.publisher)
	handler.RegisterRoutes(router)
	env.router = router
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) addDisaster(t *testing.T, d models.Disaster) *models.Disaster {
	t.Helper()
	if d.Source == "" {
		d.Source = models.DisasterSourceBMKG
	}
	if d.Category == "" {
		d.Category = models.DisasterCategoryEarthquake
	}
	if d.Status == "" {
		d.Status = models.DisasterStatusOngoing
	}
	if d.Date == "" {
		d.Date = "2025-10-21"
	}
	if d.Time == "" {
		d.Time = "15:57:01"
	}
	if _, err := e.store.Add(context.Background(), &d); err != nil {
		t.Fatalf("failed to add disaster: %v", err)
	}
	return &d
}

func (e *testEnv) addUser(t *testing.T, id string) {
	t.Helper()
	u := &models.User{ID: id, Name: id, Role: models.UserRoleVolunteer, Active: true}
	if err := e.store.AddUser(context.Background(), u); err != nil {
		t.Fatalf("failed to add user: %v", err)
	}
}

func TestSync_Success(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/bmkg/sync/recent", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if len(env.syncer.calls) != 1 || env.syncer.calls[0] != ingestion.ModeRecent {
		t.Errorf("expected one recent sync, got %v", env.syncer.calls)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Errorf("expected success:true, got %v", resp["success"])
	}
}

func TestSync_FailureIs500(t *testing.T) {
	env := setupTestRouter(t)
	env.syncer.results[ingestion.ModeLatest] = &ingestion.Result{
		Success: false,
		Message: "Failed to sync latest earthquake: connection refused",
	}

	w := env.do("POST", "/api/bmkg/sync/latest", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}

	var resp ingestion.Result
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Message == "" {
		t.Errorf("expected failure with message, got %+v", resp)
	}
}

func TestSync_UnknownType(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/bmkg/sync/weekly", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if len(env.syncer.calls) != 0 {
		t.Error("no sync should run for an unknown type")
	}
}

func TestGetDisasters_ReturnsGeoJSON(t *testing.T) {
	env := setupTestRouter(t)
	env.addDisaster(t, models.Disaster{
		Title:     "Earthquake M5.4 – Wilayah X",
		Magnitude: 5.4,
		Latitude:  -3.2,
		Longitude: 120.5,
	})

	w := env.do("GET", "/api/disasters", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", contentType)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != 120.5 || coords[1] != -3.2 {
		t.Errorf("expected [lon, lat], got %v", coords)
	}
}

func TestGetDisasters_StatusFilter(t *testing.T) {
	env := setupTestRouter(t)
	env.addDisaster(t, models.Disaster{Title: "a", Latitude: 1})
	env.addDisaster(t, models.Disaster{Title: "b", Latitude: 2, Status: models.DisasterStatusCompleted})
	env.addDisaster(t, models.Disaster{Title: "c", Latitude: 3})

	w := env.do("GET", "/api/disasters?status=ongoing", nil)

	var fc FeatureCollection
	json.Unmarshal(w.Body.Bytes(), &fc)
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 ongoing disasters, got %d", len(fc.Features))
	}

	w = env.do("GET", "/api/disasters?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad status, got %d", w.Code)
	}
}

func TestGetDisasters_MagnitudeFilter(t *testing.T) {
	env := setupTestRouter(t)
	env.addDisaster(t, models.Disaster{Latitude: 1, Magnitude: 6.0})
	env.addDisaster(t, models.Disaster{Latitude: 2, Magnitude: 4.0})
	env.addDisaster(t, models.Disaster{Latitude: 3, Magnitude: 7.5})

	w := env.do("GET", "/api/disasters?min_magnitude=5.0", nil)

	var fc FeatureCollection
	json.Unmarshal(w.Body.Bytes(), &fc)
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 disasters with mag >= 5.0, got %d", len(fc.Features))
	}
}

func TestGetDisasters_LimitFilter(t *testing.T) {
	env := setupTestRouter(t)
	for i := 0; i < 5; i++ {
		env.addDisaster(t, models.Disaster{Latitude: float64(i)})
	}

	w := env.do("GET", "/api/disasters?limit=3", nil)

	var fc FeatureCollection
	json.Unmarshal(w.Body.Bytes(), &fc)
	if len(fc.Features) != 3 {
		t.Errorf("expected 3 disasters, got %d", len(fc.Features))
	}
}

func TestGetDisaster_NotFound(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/disasters/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestUpdateStatus_CompletedEmitsEvent(t *testing.T) {
	env := setupTestRouter(t)
	d := env.addDisaster(t, models.Disaster{Title: "Earthquake M5.4 – Wilayah X", Latitude: 1})

	w := env.do("PATCH", "/api/disasters/"+d.ID+"/status", map[string]string{
		"status":  "completed",
		"user_id": "officer-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	stored, _ := env.store.GetByID(context.Background(), d.ID)
	if stored.Status != models.DisasterStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if len(env.publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(env.publisher.events))
	}
	e := env.publisher.events[0]
	if e.Type != models.EventDisasterCompleted || e.ActorID != "officer-1" || e.DisasterID != d.ID {
		t.Errorf("unexpected event: %+v", e)
	}

	// Completing again does not notify twice.
	env.do("PATCH", "/api/disasters/"+d.ID+"/status", map[string]string{
		"status":  "completed",
		"user_id": "officer-1",
	})
	if len(env.publisher.events) != 1 {
		t.Errorf("expected no second event, got %d", len(env.publisher.events))
	}
}

func TestUpdateStatus_Validation(t *testing.T) {
	env := setupTestRouter(t)
	d := env.addDisaster(t, models.Disaster{Latitude: 1})

	w := env.do("PATCH", "/api/disasters/"+d.ID+"/status", map[string]string{"status": "done", "user_id": "u"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for invalid status, got %d", w.Code)
	}
	w = env.do("PATCH", "/api/disasters/"+d.ID+"/status", map[string]string{"status": "cancelled"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without user_id, got %d", w.Code)
	}
	if len(env.publisher.events) != 0 {
		t.Error("rejected requests must not emit events")
	}
}

func TestCreateReport_EmitsEventAndAssignsReporter(t *testing.T) {
	env := setupTestRouter(t)
	env.addUser(t, "vol-1")
	env.addUser(t, "vol-2")
	d := env.addDisaster(t, models.Disaster{Title: "Earthquake M5.4 – Wilayah X", Latitude: 1})

	w := env.do("POST", "/api/disasters/"+d.ID+"/reports", map[string]string{
		"user_id":     "vol-1",
		"title":       "Collapsed bridge",
		"description": "North access road blocked",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	if len(env.publisher.events) != 1 || env.publisher.events[0].Type != models.EventReportCreated {
		t.Fatalf("expected report.created, got %+v", env.publisher.events)
	}

	if err := env.store.AssignResponder(context.Background(), d.ID, "vol-2"); err != nil {
		t.Fatal(err)
	}
	others, err := env.store.ListAssignedResponders(context.Background(), d.ID, "vol-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 1 || others[0].ID != "vol-1" {
		t.Errorf("expected reporter to be assigned, got %+v", others)
	}
}

func TestCreateReport_UnknownDisaster(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/disasters/missing/reports", map[string]string{"user_id": "u", "title": "t"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	env := setupTestRouter(t)
	env.addUser(t, "vol-1")

	w := env.do("POST", "/api/devices", map[string]string{"user_id": "vol-1", "token": "tok-1", "platform": "android"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	tokens, _ := env.store.ListDeviceTokens(context.Background(), []string{"vol-1"})
	if len(tokens) != 1 || tokens[0] != "tok-1" {
		t.Errorf("expected registered token, got %v", tokens)
	}
}

func TestGetNotifications(t *testing.T) {
	env := setupTestRouter(t)
	env.addUser(t, "vol-1")
	err := env.store.AddNotifications(context.Background(), []models.Notification{
		{ID: "n-1", UserID: "vol-1", DisasterID: "d-1", Category: "report.created", Title: "t", Message: "m"},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do("GET", "/api/users/vol-1/notifications", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Notifications) != 1 {
		t.Errorf("expected 1 notification, got %d", len(resp.Notifications))
	}
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		return w
	}

	if w := get("/ping"); w.Code != http.StatusOK {
		t.Errorf("expected first request to pass, got %d", w.Code)
	}
	w := get("/ping")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}
	if w := get("/health"); w.Code != http.StatusOK {
		t.Errorf("health must not be throttled, got %d", w.Code)
	}
}
