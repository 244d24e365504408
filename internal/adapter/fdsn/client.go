// Package fdsn talks to FDSN web services for station metadata and miniSEED
// waveforms.
package fdsn

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/observability"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
)

const (
	DefaultBaseURL = "https://service.iris.edu/fdsnws"
	// EMSCBaseURL hosts the European-Mediterranean event service.
	EMSCBaseURL = "https://www.seismicportal.eu/fdsnws"
	userAgent      = "seismic-locator/fdsn"
	timeLayout     = "2006-01-02T15:04:05"

	kindStation    = "station"
	kindDataselect = "dataselect"
	kindEvent      = "event"

	// MaxResponseBytes bounds one response body. Twelve minutes of a 100 Hz
	// channel is well under a megabyte of Steim2.
	MaxResponseBytes int64 = 32 << 20
)

var (
	// ErrNoData is returned when the service answers 204 or an empty body.
	ErrNoData = errors.New("fdsn: no data for request")

	// ErrNoStation is returned when neither a search nor the regional
	// fallback yields an untried station.
	ErrNoStation = errors.New("fdsn: no station available")

	// ErrResponseTooLarge is returned when a body exceeds the client's limit.
	ErrResponseTooLarge = errors.New("fdsn: response too large")
)

// StationQuery selects channels within a great-circle radius of a point.
type StationQuery struct {
	Lat, Lon  float64
	MaxRadius float64 // degrees
	Channel   domain.Channel
	Start     time.Time
	End       time.Time
}

// StationInfo is one station returned by a search, with its distance from
// the query point.
type StationInfo struct {
	domain.Station
	Location   string         `json:"location,omitempty"`
	Channel    domain.Channel `json:"channel"`
	Elevation  float64        `json:"elevation_m"`
	SampleRate float64        `json:"sample_rate,omitempty"`
	DistanceKm float64        `json:"distance_km"`
}

// Client queries the station and dataselect services.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxBody    int64 // zero means MaxResponseBytes
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an FDSN client. An empty baseURL selects IRIS.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// Stations returns one entry per NET.STA that records the channel, nearest
// first.
func (c *Client) Stations(ctx context.Context, q StationQuery) ([]StationInfo, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(q.Lat, 'f', 4, 64)},
		"longitude": {strconv.FormatFloat(q.Lon, 'f', 4, 64)},
		"maxradius": {strconv.FormatFloat(q.MaxRadius, 'f', -1, 64)},
		"level":     {"channel"},
		"format":    {"text"},
		"channel":   {string(q.Channel)},
		"starttime": {q.Start.UTC().Format(timeLayout)},
		"endtime":   {q.End.UTC().Format(timeLayout)},
	}

	body, err := c.doRequest(ctx, c.baseURL+"/station/1/query?"+params.Encode(), kindStation)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, nil
		}
		return nil, err
	}

	stations, err := parseStationText(body, q.Lat, q.Lon)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fdsn station search", "lat", q.Lat, "lon", q.Lon, "radius_deg", q.MaxRadius, "found", len(stations))
	return stations, nil
}

// Waveform downloads miniSEED for one station channel and time window.
func (c *Client) Waveform(ctx context.Context, st domain.Station, ch domain.Channel, start, end time.Time) ([]byte, error) {
	params := url.Values{
		"network":   {st.Network},
		"station":   {st.Code},
		"channel":   {string(ch)},
		"starttime": {start.UTC().Format(timeLayout)},
		"endtime":   {end.UTC().Format(timeLayout)},
		"format":    {"miniseed"},
	}
	return c.doRequest(ctx, c.baseURL+"/dataselect/1/query?"+params.Encode(), kindDataselect)
}

// Events downloads the GeoJSON event feed for origins in [start, end).
// An empty feed is reported as ErrNoData.
func (c *Client) Events(ctx context.Context, start, end time.Time) ([]byte, error) {
	params := url.Values{
		"format":    {"json"},
		"starttime": {start.UTC().Format(timeLayout)},
		"endtime":   {end.UTC().Format(timeLayout)},
	}
	return c.doRequest(ctx, c.baseURL+"/event/1/query?"+params.Encode(), kindEvent)
}

func (c *Client) doRequest(ctx context.Context, fullURL, kind string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FDSNRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FDSNRequests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", kind, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		// Some FDSN deployments answer nodata=404.
		c.metrics.FDSNRequests.WithLabelValues(kind, "empty").Inc()
		return nil, ErrNoData
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.FDSNRequests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("fdsn %s error: status %d: %s", kind, resp.StatusCode, bytes.TrimSpace(body))
	}

	limit := cmp.Or(c.maxBody, MaxResponseBytes)
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		c.metrics.FDSNRequests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("read %s response: %w", kind, err)
	}
	if int64(len(body)) > limit {
		c.metrics.FDSNRequests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("%s response: %w: more than %d bytes", kind, ErrResponseTooLarge, limit)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.metrics.FDSNRequests.WithLabelValues(kind, "empty").Inc()
		return nil, ErrNoData
	}
	c.metrics.FDSNRequests.WithLabelValues(kind, "success").Inc()
	return body, nil
}

// parseStationText reads the pipe-separated level=channel text format:
// NET|STA|LOC|CHA|LAT|LON|ELEV|DEPTH|AZ|DIP|DESC|SCALE|FREQ|UNITS|RATE|START|END.
// Comment lines start with '#'.
func parseStationText(body []byte, lat, lon float64) ([]StationInfo, error) {
	seen := make(map[string]bool)
	var out []StationInfo

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 6 {
			continue
		}
		stLat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		stLon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[5]), 64)
		if errLat != nil || errLon != nil {
			continue
		}

		info := StationInfo{
			Station: domain.Station{
				Network: strings.TrimSpace(parts[0]),
				Code:    strings.TrimSpace(parts[1]),
				Lat:     stLat,
				Lon:     stLon,
			},
			Location: strings.TrimSpace(parts[2]),
			Channel:  domain.Channel(strings.TrimSpace(parts[3])),
		}
		if seen[info.Key()] {
			continue
		}
		seen[info.Key()] = true

		if len(parts) > 6 {
			info.Elevation, _ = strconv.ParseFloat(strings.TrimSpace(parts[6]), 64)
		}
		if len(parts) > 14 {
			info.SampleRate, _ = strconv.ParseFloat(strings.TrimSpace(parts[14]), 64)
		}
		info.DistanceKm = tdoa.Haversine(lat, lon, stLat, stLon)
		out = append(out, info)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan station text: %w", err)
	}

	slices.SortStableFunc(out, func(a, b StationInfo) int { return cmp.Compare(a.DistanceKm, b.DistanceKm) })
	return out, nil
}
