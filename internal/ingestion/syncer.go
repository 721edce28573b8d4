package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr1hm/disaster-response/internal/bmkg"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/observability"
)

// Mode names one sync operation.
type Mode string

const (
	ModeLatest Mode = "latest"
	ModeRecent Mode = "recent"
	ModeFelt   Mode = "felt"
	ModeAll    Mode = "all"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLatest, ModeRecent, ModeFelt, ModeAll:
		return m, nil
	}
	return "", fmt.Errorf("unknown sync type %q (want latest, recent, felt or all)", s)
}

// Fetcher returns the raw document of one BMKG feed.
type Fetcher interface {
	Fetch(ctx context.Context, kind bmkg.Kind) ([]byte, error)
}

type Stats struct {
	Created        int `json:"created"`
	Skipped        int `json:"skipped"`
	TotalProcessed int `json:"total_processed"`
}

type Summary struct {
	TotalCreated int    `json:"total_created"`
	TotalSkipped int    `json:"total_skipped"`
	SyncTypes    []Mode `json:"sync_types"`
}

// CombinedData nests the per-feed results of a sync-all run.
type CombinedData struct {
	Latest *Result `json:"latest"`
	Recent *Result `json:"recent"`
	Felt   *Result `json:"felt"`
}

// Result is returned by every sync operation. It is never persisted.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    any      `json:"data"`
	Stats   *Stats   `json:"stats,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// Counts returns the created and skipped totals of r, whichever mode produced it.
func (r *Result) Counts() (created, skipped int) {
	switch {
	case r.Summary != nil:
		return r.Summary.TotalCreated, r.Summary.TotalSkipped
	case r.Stats != nil:
		return r.Stats.Created, r.Stats.Skipped
	}
	return 0, 0
}

// Syncer pulls BMKG feeds into the disaster store. Sync operations never
// return an error; failures are reported through Result.
type Syncer struct {
	fetcher      Fetcher
	resolver     *Resolver
	materializer *Materializer
	metrics      *observability.Metrics
}

func NewSyncer(fetcher Fetcher, resolver *Resolver, materializer *Materializer, metrics *observability.Metrics) *Syncer {
	return &Syncer{
		fetcher:      fetcher,
		resolver:     resolver,
		materializer: materializer,
		metrics:      metrics,
	}
}

func (s *Syncer) Sync(ctx context.Context, mode Mode) *Result {
	switch mode {
	case ModeLatest:
		return s.SyncLatest(ctx)
	case ModeRecent:
		return s.SyncRecent(ctx)
	case ModeFelt:
		return s.SyncFelt(ctx)
	case ModeAll:
		return s.SyncAll(ctx)
	}
	return &Result{Success: false, Message: fmt.Sprintf("unknown sync type %q", mode)}
}

// SyncLatest stores the single most recent earthquake.
func (s *Syncer) SyncLatest(ctx context.Context) *Result {
	kind := bmkg.KindLatest

	records, err := s.load(ctx, kind)
	if err != nil {
		return s.finish(kind, &Result{Success: false, Message: fmt.Sprintf("Failed to sync latest earthquake: %v", err)})
	}
	if len(records) == 0 {
		return s.finish(kind, &Result{
			Success: true,
			Message: "No latest earthquake data available",
			Stats:   &Stats{},
		})
	}

	d, created, err := s.process(ctx, kind, records[0])
	if err != nil {
		slog.Warn("rejected latest earthquake record", "record", records[0], "error", err)
		return s.finish(kind, &Result{Success: false, Message: fmt.Sprintf("Failed to sync latest earthquake: %v", err)})
	}

	stats := &Stats{TotalProcessed: 1}
	msg := "Latest earthquake already exists"
	if created {
		stats.Created = 1
		msg = "Latest earthquake synced successfully"
	} else {
		stats.Skipped = 1
	}
	return s.finish(kind, &Result{Success: true, Message: msg, Data: d, Stats: stats})
}

// SyncRecent stores the recent (M5.0+) earthquake list.
func (s *Syncer) SyncRecent(ctx context.Context) *Result {
	return s.syncBatch(ctx, bmkg.KindRecent, "recent earthquakes")
}

// SyncFelt stores the felt earthquake list.
func (s *Syncer) SyncFelt(ctx context.Context) *Result {
	return s.syncBatch(ctx, bmkg.KindFelt, "felt earthquakes")
}

func (s *Syncer) syncBatch(ctx context.Context, kind bmkg.Kind, label string) *Result {
	records, err := s.load(ctx, kind)
	if err != nil {
		return s.finish(kind, &Result{Success: false, Message: fmt.Sprintf("Failed to sync %s: %v", label, err)})
	}

	stats := &Stats{TotalProcessed: len(records)}
	created := make([]*models.Disaster, 0)
	for i, rec := range records {
		d, isNew, err := s.process(ctx, kind, rec)
		if err != nil {
			slog.Warn("skipping earthquake record", "kind", kind, "index", i, "record", rec, "error", err)
			continue
		}
		if isNew {
			stats.Created++
			created = append(created, d)
		} else {
			stats.Skipped++
		}
	}

	return s.finish(kind, &Result{
		Success: true,
		Message: fmt.Sprintf("Synced %s: %d created, %d skipped", label, stats.Created, stats.Skipped),
		Data:    created,
		Stats:   stats,
	})
}

// SyncAll runs the three feeds in turn. It succeeds only when all of them do;
// a failing feed does not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) *Result {
	data := &CombinedData{
		Latest: s.SyncLatest(ctx),
		Recent: s.SyncRecent(ctx),
		Felt:   s.SyncFelt(ctx),
	}

	summary := &Summary{SyncTypes: []Mode{ModeLatest, ModeRecent, ModeFelt}}
	success := true
	for _, r := range []*Result{data.Latest, data.Recent, data.Felt} {
		c, sk := r.Counts()
		summary.TotalCreated += c
		summary.TotalSkipped += sk
		success = success && r.Success
	}

	msg := "All earthquake data synced successfully"
	if !success {
		msg = "Some earthquake feeds failed to sync"
	}
	return &Result{Success: success, Message: msg, Data: data, Summary: summary}
}

func (s *Syncer) load(ctx context.Context, kind bmkg.Kind) ([]models.EarthquakeRecord, error) {
	raw, err := s.fetcher.Fetch(ctx, kind)
	if err != nil {
		slog.Error("error fetching feed", "kind", kind, "error", err)
		return nil, err
	}
	records, err := bmkg.Normalize(raw)
	if err != nil {
		slog.Error("error normalizing feed", "kind", kind, "error", err)
		return nil, err
	}
	return records, nil
}

// process resolves or materializes one record. It returns the stored disaster
// and whether this call created it.
func (s *Syncer) process(ctx context.Context, kind bmkg.Kind, rec models.EarthquakeRecord) (*models.Disaster, bool, error) {
	d, err := s.materializer.Build(rec)
	if err != nil {
		s.countFailure(kind)
		return nil, false, err
	}

	existing, err := s.resolver.FindExisting(ctx, d)
	if err != nil {
		s.countFailure(kind)
		return nil, false, err
	}
	if existing != nil {
		s.count(kind, false)
		return existing, false, nil
	}

	created, err := s.materializer.Materialize(ctx, d)
	if err != nil {
		s.countFailure(kind)
		return nil, false, err
	}
	if !created {
		// Lost the insert race; report the row that won.
		if winner, err := s.resolver.FindExisting(ctx, d); err == nil && winner != nil {
			d = winner
		}
	}
	s.count(kind, created)
	return d, created, nil
}

func (s *Syncer) finish(kind bmkg.Kind, r *Result) *Result {
	if s.metrics != nil {
		outcome := "success"
		if !r.Success {
			outcome = "failure"
		}
		s.metrics.SyncRuns.WithLabelValues(string(kind), outcome).Inc()
	}
	return r
}

func (s *Syncer) count(kind bmkg.Kind, created bool) {
	if s.metrics == nil {
		return
	}
	if created {
		s.metrics.RecordsCreated.WithLabelValues(string(kind)).Inc()
	} else {
		s.metrics.RecordsSkipped.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Syncer) countFailure(kind bmkg.Kind) {
	if s.metrics != nil {
		s.metrics.RecordFailures.WithLabelValues(string(kind)).Inc()
	}
}
