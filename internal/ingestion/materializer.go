package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/disaster-response/internal/bmkg"
	"github.com/mr1hm/disaster-response/internal/events"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/repository"
)

const unknownLocation = "unknown location"

// Materializer turns canonical earthquake records into stored disasters.
type Materializer struct {
	disasters  repository.DisasterRepository
	responders repository.ResponderRepository
	publisher  events.Publisher
	parser     *bmkg.DateTimeParser
	clock      clockwork.Clock
}

func NewMaterializer(
	disasters repository.DisasterRepository,
	responders repository.ResponderRepository,
	publisher events.Publisher,
	parser *bmkg.DateTimeParser,
	clock clockwork.Clock,
) *Materializer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if parser == nil {
		parser = bmkg.NewDateTimeParser(clock, nil)
	}
	return &Materializer{
		disasters:  disasters,
		responders: responders,
		publisher:  publisher,
		parser:     parser,
		clock:      clock,
	}
}

// Build validates rec and returns the unsaved disaster it describes.
func (m *Materializer) Build(rec models.EarthquakeRecord) (*models.Disaster, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	date, clockTime := m.parser.Parse(rec.DateTimeLocal)
	region := rec.RegionOr(unknownLocation)

	return &models.Disaster{
		Title:       Title(rec.Magnitude, region),
		Description: describe(rec, region),
		Source:      models.DisasterSourceBMKG,
		Category:    models.DisasterCategoryEarthquake,
		Status:      models.DisasterStatusOngoing,
		Date:        date,
		Time:        clockTime,
		Location:    region,
		Coordinate:  models.Coordinates{Latitude: rec.Latitude, Longitude: rec.Longitude}.String(),
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Magnitude:   rec.Magnitude,
		Depth:       rec.DepthKm,
		ShakemapURL: rec.ShakemapURL,
	}, nil
}

// Materialize stores d and reports whether a row was created. created=false
// with a nil error means another writer stored the same earthquake first.
// Responder assignment and event emission are best effort.
func (m *Materializer) Materialize(ctx context.Context, d *models.Disaster) (bool, error) {
	created, err := m.disasters.Add(ctx, d)
	if err != nil {
		return false, fmt.Errorf("error storing disaster: %w", err)
	}
	if !created {
		return false, nil
	}

	m.assignDefaultResponder(ctx, d)

	if m.publisher != nil {
		e := models.Event{
			Type:       models.EventDisasterCreated,
			DisasterID: d.ID,
			Title:      d.Title,
			Message:    d.Description,
			OccurredAt: m.clock.Now().UTC(),
		}
		if err := m.publisher.Publish(ctx, e); err != nil {
			slog.Warn("error publishing event", "type", e.Type, "disaster_id", d.ID, "error", err)
		}
	}

	slog.Info("added disaster", "id", d.ID, "title", d.Title, "date", d.Date, "time", d.Time)
	return true, nil
}

func (m *Materializer) assignDefaultResponder(ctx context.Context, d *models.Disaster) {
	if m.responders == nil {
		return
	}
	admin, err := m.responders.FirstActiveAdmin(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("no active admin to assign", "disaster_id", d.ID)
		return
	}
	if err != nil {
		slog.Error("error finding admin", "disaster_id", d.ID, "error", err)
		return
	}
	if err := m.responders.AssignResponder(ctx, d.ID, admin.ID); err != nil {
		slog.Error("error assigning admin", "disaster_id", d.ID, "user_id", admin.ID, "error", err)
	}
}

// Title renders the disaster title shown to responders.
func Title(magnitude float64, region string) string {
	return fmt.Sprintf("Earthquake M%.1f – %s", magnitude, region)
}

func describe(rec models.EarthquakeRecord, region string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A magnitude %.1f earthquake occurred in %s at a depth of %s km.",
		rec.Magnitude, region, strconv.FormatFloat(rec.DepthKm, 'f', -1, 64))
	if rec.FeltReport != nil && *rec.FeltReport != "" {
		fmt.Fprintf(&b, " Felt: %s.", strings.TrimSuffix(*rec.FeltReport, "."))
	}
	if rec.TsunamiPotential != nil && *rec.TsunamiPotential != "" {
		fmt.Fprintf(&b, " Tsunami potential: %s.", strings.TrimSuffix(*rec.TsunamiPotential, "."))
	}
	return b.String()
}
