package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Origin is an optional catalog hint for the event being located.
type Origin struct {
	Time      time.Time `json:"time"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Magnitude float64   `json:"magnitude,omitempty"`
	Region    string    `json:"region,omitempty"`
}

// FDSNWindow asks for the waveform to be fetched from a dataselect service.
type FDSNWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// JobStation is one station of a locate job with exactly one waveform source.
type JobStation struct {
	Station
	Waveform []byte      `json:"waveform,omitempty"` // inline miniSEED, base64 in JSON
	Path     string      `json:"path,omitempty"`
	FDSN     *FDSNWindow `json:"fdsn,omitempty"`
}

// LocateJob is the payload consumed from the source topic. The first station
// is the anchor.
type LocateJob struct {
	EventID  string       `json:"event_id"`
	Channel  Channel      `json:"channel,omitempty"`
	Origin   *Origin      `json:"origin,omitempty"`
	Stations []JobStation `json:"stations"`
}

// ResultStatus is the outcome of a locate job.
type ResultStatus string

const (
	StatusLocated ResultStatus = "located"
	StatusFailed  ResultStatus = "failed"
)

// LocateResult is the payload produced to the sink topic.
type LocateResult struct {
	EventID      string               `json:"event_id"`
	Status       ResultStatus         `json:"status"`
	Epicenter    *Epicenter           `json:"epicenter,omitempty"`
	Observations []StationObservation `json:"observations,omitempty"`
	Stage        Stage                `json:"stage,omitempty"`
	Station      string               `json:"station,omitempty"`
	Error        string               `json:"error,omitempty"`
	Origin       *Origin              `json:"origin,omitempty"`
	MisfitKm     *float64             `json:"origin_misfit_km,omitempty"`
	ProcessedAt  time.Time            `json:"processed_at"`
}
