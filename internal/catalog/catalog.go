// Package catalog reads FDSN event feeds in the EMSC GeoJSON flavour and
// ranks events by distance.
package catalog

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
)

const (
	DefaultMinMagnitude = 4.0
	maxMagnitude        = 12.0
	knownEarthquake     = "ke"
	magnitudeEps        = 1e-10
)

var ErrInvalidJSON = errors.New("catalog: invalid JSON")

// Event is one catalog entry with its magnitude converted to Mw.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Region    string    `json:"region"`
	Time      time.Time `json:"time"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	DepthKm   float64   `json:"depth_km"`
	Magnitude float64   `json:"magnitude"`
	MagType   string    `json:"mag_type"`
}

// Origin converts the event into a locate-job hint.
func (e Event) Origin() domain.Origin {
	return domain.Origin{Time: e.Time, Lat: e.Lat, Lon: e.Lon, Magnitude: e.Magnitude, Region: e.Region}
}

// Bounds is an inclusive latitude/longitude box. Longitudes are compared
// after wrapping to [-180, 180).
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies in the box.
func (b Bounds) Contains(lat, lon float64) bool {
	lon = WrapLongitude(lon)
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Filter selects which catalog records are kept.
type Filter struct {
	MinMagnitude float64 // Mw, clamped to [0, 12]; negative means the default
	Bounds       *Bounds
}

func (f Filter) threshold() float64 {
	switch {
	case f.MinMagnitude < 0:
		return DefaultMinMagnitude
	case f.MinMagnitude > maxMagnitude:
		return maxMagnitude
	}
	return f.MinMagnitude
}

// Parse extracts known earthquakes at or above the magnitude threshold.
// Records with an unreadable time are skipped.
func Parse(data []byte, f Filter) ([]Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	features := gjson.GetBytes(data, "features")
	if !features.IsArray() {
		return nil, fmt.Errorf("%w: missing features array", ErrInvalidJSON)
	}

	threshold := f.threshold()
	var events []Event
	features.ForEach(func(_, feature gjson.Result) bool {
		props := feature.Get("properties")
		if props.Get("evtype").String() != knownEarthquake {
			return true
		}
		ts, err := parseTime(props.Get("time").String())
		if err != nil {
			return true
		}

		magType := strings.ToLower(props.Get("magtype").String())
		mw := MomentMagnitude(magType, props.Get("mag").Float())
		if math.Round(mw*10)/10+magnitudeEps < threshold {
			return true
		}

		ev := Event{
			ID:        props.Get("unid").String(),
			Region:    props.Get("flynn_region").String(),
			Time:      ts,
			Lat:       props.Get("lat").Float(),
			Lon:       props.Get("lon").Float(),
			DepthKm:   props.Get("depth").Float(),
			Magnitude: math.Round(mw*10) / 10,
			MagType:   magType,
		}
		if f.Bounds != nil && !f.Bounds.Contains(ev.Lat, ev.Lon) {
			return true
		}
		events = append(events, ev)
		return true
	})
	return events, nil
}

// MomentMagnitude maps body-wave and local magnitudes to Mw with empirical
// linear fits. Other scales pass through.
func MomentMagnitude(magType string, mag float64) float64 {
	switch magType {
	case "mb":
		return 0.67*mag + 2.07
	case "ml":
		return 0.85*mag + 0.15
	}
	return mag
}

// Ranked is an event with its distance from a point of interest.
type Ranked struct {
	Event
	DistanceKm float64 `json:"distance_km"`
}

// NearestTo returns up to n events closest to the point, nearest first.
func NearestTo(events []Event, lat, lon float64, n int) []Ranked {
	ranked := make([]Ranked, len(events))
	for i, e := range events {
		ranked[i] = Ranked{Event: e, DistanceKm: tdoa.Haversine(lat, lon, e.Lat, e.Lon)}
	}
	slices.SortStableFunc(ranked, func(a, b Ranked) int { return cmp.Compare(a.DistanceKm, b.DistanceKm) })
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// WrapLongitude maps lon into [-180, 180).
func WrapLongitude(lon float64) float64 {
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.UTC)
}
