package models

import (
	"strconv"
	"time"
)

type DisasterSource string

const (
	DisasterSourceBMKG   DisasterSource = "bmkg"
	DisasterSourceManual DisasterSource = "manual"
)

type DisasterCategory string

const (
	DisasterCategoryEarthquake DisasterCategory = "earthquake"
	DisasterCategoryFlood      DisasterCategory = "flood"
	DisasterCategoryLandslide  DisasterCategory = "landslide"
	DisasterCategoryTsunami    DisasterCategory = "tsunami"
	DisasterCategoryVolcano    DisasterCategory = "volcano"
	DisasterCategoryOther      DisasterCategory = "other"
)

type DisasterStatus string

const (
	DisasterStatusOngoing   DisasterStatus = "ongoing"
	DisasterStatusCompleted DisasterStatus = "completed"
	DisasterStatusCancelled DisasterStatus = "cancelled"
)

func (s DisasterStatus) Valid() bool {
	switch s {
	case DisasterStatusOngoing, DisasterStatusCompleted, DisasterStatusCancelled:
		return true
	}
	return false
}

type Disaster struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	Source      DisasterSource   `db:"source" json:"source"`
	Category    DisasterCategory `db:"category" json:"category"`
	Status      DisasterStatus   `db:"status" json:"status"`
	Date        string           `db:"event_date" json:"date"` // YYYY-MM-DD, civil time of the feed
	Time        string           `db:"event_time" json:"time"` // HH:MM:SS
	Location    string           `db:"location" json:"location"`
	Coordinate  string           `db:"coordinate" json:"coordinate"` // "lat,long"
	Latitude    float64          `db:"latitude" json:"lat"`
	Longitude   float64          `db:"longitude" json:"long"`
	Magnitude   float64          `db:"magnitude" json:"magnitude"`
	Depth       float64          `db:"depth" json:"depth"`
	ShakemapURL *string          `db:"shakemap_url" json:"shakemap_url,omitempty"`
	ReportedBy  *string          `db:"reported_by" json:"reported_by"` // nil for feed-originated rows
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

func (d *Disaster) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
	}
}

// String renders the "lat,lon" form stored in Disaster.Coordinate.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// GeoJSON returns the position in GeoJSON order: [longitude, latitude].
func (c Coordinates) GeoJSON() []float64 {
	return []float64{c.Longitude, c.Latitude}
}

// DedupKey is the exact-match identity of a feed earthquake. Floats are compared
// without tolerance.
type DedupKey struct {
	Source    DisasterSource
	Category  DisasterCategory
	Latitude  float64
	Longitude float64
	Magnitude float64
	Date      string
	Time      string
}

func (d *Disaster) DedupKey() DedupKey {
	return DedupKey{
		Source:    d.Source,
		Category:  d.Category,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		Magnitude: d.Magnitude,
		Date:      d.Date,
		Time:      d.Time,
	}
}
