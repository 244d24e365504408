package domain

import (
	"fmt"
	"strings"
	"time"
)

// Station identifies a recording site and its WGS-84 position.
type Station struct {
	Network string  `json:"network"`
	Code    string  `json:"station"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Key returns the "NET.STA" form used in logs and cache keys.
func (s Station) Key() string {
	return s.Network + "." + s.Code
}

// ParseStationKey splits a "NET.STA" key.
func ParseStationKey(key string) (network, code string, err error) {
	network, code, ok := strings.Cut(key, ".")
	if !ok || network == "" || code == "" {
		return "", "", fmt.Errorf("malformed station key %q", key)
	}
	return network, code, nil
}

// Channel is a three-character SEED channel code.
type Channel string

const (
	ChannelBHZ Channel = "BHZ"
	ChannelBHN Channel = "BHN"
	ChannelBHE Channel = "BHE"
	ChannelHHZ Channel = "HHZ"
	ChannelHHN Channel = "HHN"
	ChannelHHE Channel = "HHE"
	ChannelEHZ Channel = "EHZ"
	ChannelSHZ Channel = "SHZ"
	ChannelLHZ Channel = "LHZ"
)

var knownChannels = map[Channel]bool{
	ChannelBHZ: true, ChannelBHN: true, ChannelBHE: true,
	ChannelHHZ: true, ChannelHHN: true, ChannelHHE: true,
	ChannelEHZ: true, ChannelSHZ: true, ChannelLHZ: true,
}

// Known reports whether c is one of the channels the locator is tuned for.
func (c Channel) Known() bool {
	return knownChannels[c]
}

// IsVertical reports whether c is a Z component.
func (c Channel) IsVertical() bool {
	return len(c) == 3 && c[2] == 'Z'
}

// RawBlock is one decoded record attributed to a station.
type RawBlock struct {
	Samples    []float64
	SampleRate float64
	Start      time.Time
	Channel    Channel
	Station    Station
}

// End returns the instant just after the last sample.
func (b RawBlock) End() time.Time {
	return b.Start.Add(SamplesDuration(len(b.Samples), b.SampleRate))
}

// ChannelSignal is the concatenation of every block of one channel at one
// station. SampleRate and Start come from the earliest block.
type ChannelSignal struct {
	Station    Station
	Channel    Channel
	SampleRate float64
	Start      time.Time
	Samples    []float64
}

// Duration returns the nominal length of the signal.
func (s ChannelSignal) Duration() time.Duration {
	return SamplesDuration(len(s.Samples), s.SampleRate)
}

// ConditionedSignal holds samples at the conditioner's target rate. Start is
// the absolute time of sample zero.
type ConditionedSignal struct {
	SampleRate float64
	Start      time.Time
	Samples    []float64
}

// StationObservation is one station's position in the event frame and its
// P-wave arrival in seconds after the event epoch.
type StationObservation struct {
	Station Station `json:"station"`
	X       float64 `json:"x_km"`
	Y       float64 `json:"y_km"`
	Arrival float64 `json:"arrival_s"`
}

// Epicenter is a solved source position.
type Epicenter struct {
	X          float64 `json:"x_km"`
	Y          float64 `json:"y_km"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
}

// SamplesDuration converts a sample count at rate Hz into a duration.
func SamplesDuration(n int, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / rate * float64(time.Second))
}
