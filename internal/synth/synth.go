// Package synth generates synthetic three-station events with known
// epicenters for tests and demo data.
package synth

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/mseed"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
)

const (
	riseSeconds  = 0.3
	decaySeconds = 2.5
	tailSeconds  = 20.0
)

// Site is a recording station.
type Site struct {
	Station     domain.Station
	SampleRate  float64
	StartOffset time.Duration // added to the common recording start
}

// Event describes the source and the recordings to produce.
type Event struct {
	Lat, Lon   float64
	Origin     time.Time
	Speed      float64       // km/s
	Lead       time.Duration // recordings start this long before Origin
	Length     time.Duration
	NoiseSigma float64 // relative to the unit-amplitude wavelet
	Gain       float64 // counts per unit amplitude
	Seed       uint64
	Channel    domain.Channel
}

// DefaultEvent is a shallow event in central New Mexico.
func DefaultEvent() Event {
	return Event{
		Lat:        35.10,
		Lon:        -106.10,
		Origin:     time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC),
		Speed:      6.0,
		Lead:       30 * time.Second,
		Length:     2 * time.Minute,
		NoiseSigma: 0.01,
		Gain:       1e4,
		Seed:       1,
		Channel:    domain.ChannelBHZ,
	}
}

// DefaultSites returns three stations around DefaultEvent with mixed rates
// and staggered recording starts.
func DefaultSites() []Site {
	return []Site{
		{Station: domain.Station{Network: "IU", Code: "ANMO", Lat: 34.95, Lon: -106.46}, SampleRate: 40},
		{Station: domain.Station{Network: "US", Code: "ISCO", Lat: 35.40, Lon: -105.90}, SampleRate: 40, StartOffset: 2 * time.Second},
		{Station: domain.Station{Network: "N4", Code: "Z13A", Lat: 34.60, Lon: -105.80}, SampleRate: 100, StartOffset: -3 * time.Second},
	}
}

// Trace is one generated recording.
type Trace struct {
	Signal  domain.ChannelSignal
	Arrival time.Time
}

// Wavelet is the source pulse t seconds after onset: a Hann rise into an
// exponentially decaying chirp.
func Wavelet(t float64) float64 {
	if t < 0 || t > tailSeconds {
		return 0
	}
	env := math.Exp(-(t - riseSeconds) / decaySeconds)
	if t < riseSeconds {
		s := math.Sin(math.Pi * t / (2 * riseSeconds))
		env = s * s
	}
	return env * math.Sin(2*math.Pi*(1.0*t+0.25*t*t))
}

// Generate places the wavelet at each site's planar travel time from the
// source and adds Gaussian noise.
func Generate(ev Event, sites []Site) ([]Trace, error) {
	if ev.Speed <= 0 {
		return nil, errors.New("synth: speed must be positive")
	}
	if len(sites) == 0 {
		return nil, errors.New("synth: no sites")
	}

	stations := make([]domain.Station, len(sites))
	for i, s := range sites {
		stations[i] = s.Station
	}
	frame := tdoa.NewFrame(stations)
	qx, qy := frame.ToLocal(ev.Lat, ev.Lon)
	recordStart := ev.Origin.Add(-ev.Lead)

	traces := make([]Trace, len(sites))
	for i, site := range sites {
		if site.SampleRate <= 0 {
			return nil, fmt.Errorf("synth: site %s has no sample rate", site.Station.Key())
		}
		sx, sy := frame.ToLocal(site.Station.Lat, site.Station.Lon)
		travel := math.Hypot(qx-sx, qy-sy) / ev.Speed
		arrival := ev.Origin.Add(time.Duration(travel * float64(time.Second)))
		start := recordStart.Add(site.StartOffset)
		onset := arrival.Sub(start).Seconds()

		rng := rand.New(rand.NewPCG(ev.Seed, uint64(i)+1))
		n := int(ev.Length.Seconds() * site.SampleRate)
		samples := make([]float64, n)
		for k := range samples {
			t := float64(k)/site.SampleRate - onset
			samples[k] = ev.Gain * (Wavelet(t) + ev.NoiseSigma*rng.NormFloat64())
		}

		traces[i] = Trace{
			Signal: domain.ChannelSignal{
				Station:    site.Station,
				Channel:    ev.Channel,
				SampleRate: site.SampleRate,
				Start:      start,
				Samples:    samples,
			},
			Arrival: arrival,
		}
	}
	return traces, nil
}

// MiniSEED encodes the trace as 512-byte records.
func (tr Trace) MiniSEED(enc mseed.Encoding) ([]byte, error) {
	var buf bytes.Buffer
	_, err := mseed.NewEncoder().Encode(&buf, mseed.EncodeParams{
		Network:    tr.Signal.Station.Network,
		Station:    tr.Signal.Station.Code,
		Location:   "00",
		Channel:    string(tr.Signal.Channel),
		Start:      tr.Signal.Start,
		SampleRate: tr.Signal.SampleRate,
		Samples:    tr.Signal.Samples,
		Encoding:   enc,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tr.Signal.Station.Key(), err)
	}
	return buf.Bytes(), nil
}

// Job builds a locate job carrying the traces inline, with the event as the
// catalog origin.
func Job(eventID string, ev Event, traces []Trace, enc mseed.Encoding) (domain.LocateJob, error) {
	job := domain.LocateJob{
		EventID: eventID,
		Channel: ev.Channel,
		Origin:  &domain.Origin{Time: ev.Origin, Lat: ev.Lat, Lon: ev.Lon},
	}
	for _, tr := range traces {
		data, err := tr.MiniSEED(enc)
		if err != nil {
			return domain.LocateJob{}, err
		}
		job.Stations = append(job.Stations, domain.JobStation{Station: tr.Signal.Station, Waveform: data})
	}
	return job, nil
}
