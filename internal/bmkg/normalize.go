package bmkg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mr1hm/disaster-response/internal/models"
)

const ShakemapBaseURL = "https://data.bmkg.go.id/DataMKG/TEWS/"

// envelope is the fixed wrapper shared by all three feeds: Infogempa.gempa.
type envelope struct {
	Infogempa *struct {
		Gempa OneOrMany[gempa] `json:"gempa"`
	} `json:"Infogempa"`
}

type gempa struct {
	Tanggal     string    `json:"Tanggal"`
	Jam         string    `json:"Jam"`
	DateTime    string    `json:"DateTime"`
	Coordinates string    `json:"Coordinates"` // "lat,lon"
	Point       *point    `json:"point"`
	Magnitude   flexFloat `json:"Magnitude"`
	Kedalaman   flexFloat `json:"Kedalaman"` // "10 km"
	Wilayah     string    `json:"Wilayah"`
	Potensi     string    `json:"Potensi"`
	Dirasakan   string    `json:"Dirasakan"`
	Shakemap    string    `json:"Shakemap"`
}

// shapeKey marks the field whose presence identifies a single earthquake object.
func (gempa) shapeKey() string { return "Tanggal" }

type shapeKeyer interface {
	shapeKey() string
}

// OneOrMany decodes a value the feed emits either as a single object or as an
// array of objects. An array is Many, as is an object whose every value is an
// object carrying T's shape key (an index-keyed collection). Any other object
// is One.
type OneOrMany[T any] struct {
	Items  []T
	Single bool
}

func (o *OneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	o.Items, o.Single = nil, false

	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '[':
		return json.Unmarshal(b, &o.Items)
	case b[0] != '{':
		return fmt.Errorf("expected object or array, got %q", firstByte(b))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	var zero T
	key := ""
	if k, ok := any(zero).(shapeKeyer); ok {
		key = k.shapeKey()
	}
	if key == "" || !indexKeyed(fields, key) {
		var item T
		if err := json.Unmarshal(b, &item); err != nil {
			return err
		}
		o.Items, o.Single = []T{item}, true
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return indexLess(keys[i], keys[j]) })
	for _, k := range keys {
		var item T
		if err := json.Unmarshal(fields[k], &item); err != nil {
			return fmt.Errorf("item %q: %w", k, err)
		}
		o.Items = append(o.Items, item)
	}
	return nil
}

// indexKeyed reports whether every value in fields is an object carrying key.
func indexKeyed(fields map[string]json.RawMessage, key string) bool {
	if _, ok := fields[key]; ok {
		return false
	}
	for _, v := range fields {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(v, &inner); err != nil {
			return false
		}
		if _, ok := inner[key]; !ok {
			return false
		}
	}
	return true
}

func firstByte(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return string(b[:1])
}

// indexLess orders numeric keys numerically and falls back to string order.
func indexLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// point.coordinates is [lon, lat] as strings or numbers, or a "lon,lat" string.
type point struct {
	Coordinates json.RawMessage `json:"coordinates"`
}

func (p *point) lonLat() (lon, lat float64, ok bool) {
	if p == nil || len(p.Coordinates) == 0 {
		return 0, 0, false
	}

	var parts []flexFloat
	if err := json.Unmarshal(p.Coordinates, &parts); err == nil {
		if len(parts) < 2 || !parts[0].set || !parts[1].set {
			return 0, 0, false
		}
		return parts[0].v, parts[1].v, true
	}

	var s string
	if err := json.Unmarshal(p.Coordinates, &s); err != nil {
		return 0, 0, false
	}
	return splitPair(s)
}

func splitPair(s string) (first, second float64, ok bool) {
	a, b, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}

// flexFloat accepts a JSON number, a numeric string, or a string with a unit
// suffix ("10 km"). Anything unparseable decodes as unset.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
		f.v, f.set = v, true
	}
	return nil
}

// Normalize turns a raw feed document into canonical records. A document
// without the Infogempa.gempa path yields no records and no error.
func Normalize(raw []byte) ([]models.EarthquakeRecord, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("error decoding feed payload: %w", err)
	}
	if env.Infogempa == nil {
		return nil, nil
	}

	items := env.Infogempa.Gempa.Items
	records := make([]models.EarthquakeRecord, 0, len(items))
	for _, g := range items {
		records = append(records, g.canonical())
	}
	return records, nil
}

func (g gempa) canonical() models.EarthquakeRecord {
	r := models.EarthquakeRecord{
		DateTimeLocal:    localDateTime(g.Tanggal, g.Jam),
		DateTimeUTC:      optional(g.DateTime),
		Magnitude:        g.Magnitude.v,
		DepthKm:          g.Kedalaman.v,
		Region:           optional(g.Wilayah),
		TsunamiPotential: optional(g.Potensi),
		FeltReport:       optional(g.Dirasakan),
	}

	if lon, lat, ok := g.Point.lonLat(); ok {
		r.Latitude, r.Longitude, r.HasCoordinates = lat, lon, true
	} else if lat, lon, ok := splitPair(g.Coordinates); ok {
		r.Latitude, r.Longitude, r.HasCoordinates = lat, lon, true
	}

	if name := strings.TrimSpace(g.Shakemap); name != "" {
		url := ShakemapBaseURL + name
		r.ShakemapURL = &url
	}
	return r
}

// localDateTime joins the split Tanggal/Jam fields some feeds use into the
// "21 Okt 2025, 15:57:01 WIB" form.
func localDateTime(tanggal, jam string) string {
	tanggal, jam = strings.TrimSpace(tanggal), strings.TrimSpace(jam)
	if jam == "" || strings.Contains(tanggal, ",") {
		return tanggal
	}
	if tanggal == "" {
		return ""
	}
	return tanggal + ", " + jam
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
