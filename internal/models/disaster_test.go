package models

import (
	"reflect"
	"testing"
)

func TestDisasterCoordinates(t *testing.T) {
	d := &Disaster{Latitude: -3.2, Longitude: 120.5}
	c := d.Coordinates()

	if got := c.String(); got != "-3.2,120.5" {
		t.Errorf("expected -3.2,120.5, got %q", got)
	}
	if got := c.GeoJSON(); !reflect.DeepEqual(got, []float64{120.5, -3.2}) {
		t.Errorf("expected [lon lat], got %v", got)
	}
}
