package models

import (
	"errors"
	"fmt"
)

// EarthquakeRecord is the canonical shape of one BMKG earthquake, independent of
// which feed produced it. It is never persisted directly.
type EarthquakeRecord struct {
	DateTimeLocal    string  `json:"datetime_local"`
	DateTimeUTC      *string `json:"datetime_utc,omitempty"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Magnitude        float64 `json:"magnitude"`
	DepthKm          float64 `json:"depth_km"`
	Region           *string `json:"region,omitempty"`
	TsunamiPotential *string `json:"tsunami_potential,omitempty"`
	FeltReport       *string `json:"felt_report,omitempty"`
	ShakemapURL      *string `json:"shakemap_url,omitempty"`
	HasCoordinates   bool    `json:"-"`
}

var ErrInvalidRecord = errors.New("invalid earthquake record")

// Validate reports whether the record carries the fields required to
// materialize a disaster.
func (r *EarthquakeRecord) Validate() error {
	if r.DateTimeLocal == "" {
		return fmt.Errorf("%w: missing datetime", ErrInvalidRecord)
	}
	if !r.HasCoordinates {
		return fmt.Errorf("%w: missing coordinates", ErrInvalidRecord)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidRecord, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidRecord, r.Longitude)
	}
	if r.Magnitude < 0 || r.DepthKm < 0 {
		return fmt.Errorf("%w: negative magnitude or depth", ErrInvalidRecord)
	}
	return nil
}

// RegionOr returns the region name, or fallback when the feed omitted it.
func (r *EarthquakeRecord) RegionOr(fallback string) string {
	if r.Region == nil || *r.Region == "" {
		return fallback
	}
	return *r.Region
}
