package api

import (
	"github.com/mr1hm/disaster-response/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(disasters []models.Disaster) FeatureCollection {
	features := make([]Feature, 0, len(disasters))

	for _, d := range disasters {
		props := map[string]any{
			"id":          d.ID,
			"title":       d.Title,
			"description": d.Description,
			"source":      d.Source,
			"category":    d.Category,
			"status":      d.Status,
			"date":        d.Date,
			"time":        d.Time,
			"location":    d.Location,
			"magnitude":   d.Magnitude,
			"depth":       d.Depth,
		}
		if d.ShakemapURL != nil {
			props["shakemap_url"] = *d.ShakemapURL
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: d.Coordinates().GeoJSON(),
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
