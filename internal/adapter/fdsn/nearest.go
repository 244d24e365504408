package fdsn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
)

// Search and download window defaults.
const (
	DefaultRadius = 20.0 // degrees
	RadiusStep    = 10.0
	MaxAttempts   = 3

	WindowBefore = 2 * time.Minute
	WindowAfter  = 10 * time.Minute
	searchSlack  = time.Hour
)

// Source is the subset of FDSN calls the rest of the service depends on.
// Client and CachedClient both implement it.
type Source interface {
	Stations(ctx context.Context, q StationQuery) ([]StationInfo, error)
	Waveform(ctx context.Context, st domain.Station, ch domain.Channel, start, end time.Time) ([]byte, error)
}

// Download is a waveform fetched for the nearest usable station.
type Download struct {
	Station  StationInfo
	Start    time.Time
	End      time.Time
	Attempts int
	Data     []byte
}

// fallbacks are long-running regional stations used when a search finds
// nothing.
var fallbacks = map[string]domain.Station{
	"II.OBN":  {Network: "II", Code: "OBN", Lat: 55.11, Lon: 36.57},
	"IU.YAK":  {Network: "IU", Code: "YAK", Lat: 62.03, Lon: 129.68},
	"GE.FUR":  {Network: "GE", Code: "FUR", Lat: 48.16, Lon: 11.28},
	"IU.ANTO": {Network: "IU", Code: "ANTO", Lat: 39.87, Lon: 32.79},
	"IC.BJT":  {Network: "IC", Code: "BJT", Lat: 40.02, Lon: 116.17},
	"IU.TLY":  {Network: "IU", Code: "TLY", Lat: 51.68, Lon: 103.64},
}

// FallbackStation picks the regional default station for a point.
func FallbackStation(lat, lon float64) domain.Station {
	switch {
	case lat >= 55 && lon < 60:
		return fallbacks["II.OBN"]
	case lat >= 55:
		return fallbacks["IU.YAK"]
	case lat >= 40 && lon < 40:
		return fallbacks["GE.FUR"]
	case lat < 40 && lon < 60:
		return fallbacks["IU.ANTO"]
	case lon > 100:
		return fallbacks["IC.BJT"]
	default:
		return fallbacks["IU.TLY"]
	}
}

// Nearest returns the closest station within radius degrees of the origin
// that is not in exclude. A failed or empty search falls back to the
// regional default.
func Nearest(ctx context.Context, src Source, origin domain.Origin, ch domain.Channel, radius float64, exclude map[string]bool, logger *slog.Logger) (StationInfo, error) {
	stations, err := src.Stations(ctx, StationQuery{
		Lat:       origin.Lat,
		Lon:       origin.Lon,
		MaxRadius: radius,
		Channel:   ch,
		Start:     origin.Time.Add(-searchSlack),
		End:       origin.Time.Add(searchSlack),
	})
	if err != nil {
		if ctx.Err() != nil {
			return StationInfo{}, ctx.Err()
		}
		logger.Warn("station search failed, using fallback", "radius_deg", radius, "error", err)
	}
	for _, st := range stations {
		if !exclude[st.Key()] {
			return st, nil
		}
	}

	fb := FallbackStation(origin.Lat, origin.Lon)
	if exclude[fb.Key()] {
		return StationInfo{}, fmt.Errorf("%w: fallback %s already tried", ErrNoStation, fb.Key())
	}
	logger.Info("using fallback station", "station", fb.Key())
	return StationInfo{
		Station:    fb,
		Channel:    ch,
		DistanceKm: tdoa.Haversine(origin.Lat, origin.Lon, fb.Lat, fb.Lon),
	}, nil
}

// Fetch downloads the origin window from the nearest station. When a
// station has no data the radius grows by RadiusStep and the next untried
// station is used, up to MaxAttempts retries.
func Fetch(ctx context.Context, src Source, origin domain.Origin, ch domain.Channel, logger *slog.Logger) (Download, error) {
	start := origin.Time.Add(-WindowBefore)
	end := origin.Time.Add(WindowAfter)
	exclude := make(map[string]bool)
	radius := DefaultRadius

	for attempt := 0; ; attempt++ {
		st, err := Nearest(ctx, src, origin, ch, radius, exclude, logger)
		if err != nil {
			return Download{}, err
		}
		logger.Info("downloading waveform", "station", st.Key(), "distance_km", st.DistanceKm, "attempt", attempt)

		data, err := src.Waveform(ctx, st.Station, ch, start, end)
		if err == nil {
			return Download{Station: st, Start: start, End: end, Attempts: attempt + 1, Data: data}, nil
		}
		if !errors.Is(err, ErrNoData) {
			return Download{}, fmt.Errorf("download %s: %w", st.Key(), err)
		}
		if attempt >= MaxAttempts {
			return Download{}, fmt.Errorf("download after %d attempts: %w", attempt+1, err)
		}

		exclude[st.Key()] = true
		radius += RadiusStep
		logger.Warn("no data, widening search", "station", st.Key(), "radius_deg", radius)
	}
}
