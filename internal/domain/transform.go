package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	// StationsPerEvent is the number of stations a TDOA solve needs.
	StationsPerEvent = 3

	// MaxFDSNWindow bounds the dataselect window a job may request.
	MaxFDSNWindow = 15 * time.Minute
)

var (
	// ErrStationCount is returned when a job does not list exactly three stations.
	ErrStationCount = errors.New("locate job must list exactly three stations")

	// ErrWaveformSource is returned when a station has zero or several waveform sources.
	ErrWaveformSource = errors.New("station must have exactly one waveform source")

	// ErrFDSNWindow is returned for an empty, reversed or oversized download window.
	ErrFDSNWindow = errors.New("invalid fdsn window")
)

// ParseLocateJob deserializes and validates a RawEvent's value.
func ParseLocateJob(raw RawEvent) (LocateJob, error) {
	var job LocateJob
	if err := json.Unmarshal(raw.Value, &job); err != nil {
		return LocateJob{}, fmt.Errorf("parse locate job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return LocateJob{}, err
	}
	if job.EventID == "" {
		job.EventID = generateEventID(job)
	}
	return job, nil
}

// Validate checks the station count and that every station names one source.
func (j LocateJob) Validate() error {
	if len(j.Stations) != StationsPerEvent {
		return fmt.Errorf("%w: got %d", ErrStationCount, len(j.Stations))
	}
	for _, st := range j.Stations {
		if st.Network == "" || st.Code == "" {
			return fmt.Errorf("station %q: network and station code are required", st.Key())
		}
		if st.Lat < -90 || st.Lat > 90 || st.Lon < -180 || st.Lon > 180 {
			return fmt.Errorf("station %s: coordinates out of range", st.Key())
		}
		if sourceCount(st) != 1 {
			return fmt.Errorf("station %s: %w", st.Key(), ErrWaveformSource)
		}
		if w := st.FDSN; w != nil {
			if w.Start.IsZero() || !w.End.After(w.Start) || w.End.Sub(w.Start) > MaxFDSNWindow {
				return fmt.Errorf("station %s: %w: %s to %s, at most %s",
					st.Key(), ErrFDSNWindow, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), MaxFDSNWindow)
			}
		}
	}
	return nil
}

func sourceCount(st JobStation) int {
	n := 0
	if len(st.Waveform) > 0 {
		n++
	}
	if st.Path != "" {
		n++
	}
	if st.FDSN != nil {
		n++
	}
	return n
}

// NewLocatedResult builds the success payload for a job.
func NewLocatedResult(job LocateJob, epi Epicenter, obs []StationObservation, misfitKm *float64) LocateResult {
	return LocateResult{
		EventID:      job.EventID,
		Status:       StatusLocated,
		Epicenter:    &epi,
		Observations: obs,
		Origin:       job.Origin,
		MisfitKm:     misfitKm,
		ProcessedAt:  now(),
	}
}

// NewFailedResult builds the failure payload for a job, pulling stage and
// station from a LocalizationError when err carries one.
func NewFailedResult(job LocateJob, err error) LocateResult {
	res := LocateResult{
		EventID:     job.EventID,
		Status:      StatusFailed,
		Stage:       StageOf(err),
		Error:       err.Error(),
		Origin:      job.Origin,
		ProcessedAt: now(),
	}
	var le *LocalizationError
	if errors.As(err, &le) {
		res.Station = le.Station
		res.Error = le.Err.Error()
	}
	return res
}

// generateEventID derives a stable ID from the station keys and origin time.
func generateEventID(job LocateJob) string {
	keys := make([]string, len(job.Stations))
	for i, st := range job.Stations {
		keys[i] = st.Key()
	}
	origin := ""
	if job.Origin != nil {
		origin = job.Origin.Time.UTC().Format(time.RFC3339Nano)
	}
	hash := sha256.Sum256([]byte(strings.Join(keys, ",") + "|" + origin))
	return "quake-" + hex.EncodeToString(hash[:8])
}

// SerializeResult marshals a LocateResult into an OutputEvent keyed by event
// ID, with the status and processing time as headers.
func SerializeResult(res LocateResult) (OutputEvent, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize locate result: %w", err)
	}
	headers := map[string]string{
		"status":       string(res.Status),
		"processed_at": res.ProcessedAt.UTC().Format(time.RFC3339),
	}
	if res.Stage != "" {
		headers["stage"] = string(res.Stage)
	}
	return OutputEvent{Key: []byte(res.EventID), Value: data, Headers: headers}, nil
}

// SortedHeaderKeys returns the header names in lexical order.
func SortedHeaderKeys(headers map[string]string) []string {
	return slices.Sorted(maps.Keys(headers))
}
