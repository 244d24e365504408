// Package locator combines the onset picker, the delay estimator and the
// TDOA solver into one epicenter estimate per event.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/dsp"
	"github.com/couchcryptid/seismic-locator/internal/picker"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
	"github.com/couchcryptid/seismic-locator/internal/xcorr"
)

// Window geometry around the anchor pick, and the plausible arrival range
// measured from the anchor recording start.
const (
	AnchorBefore = 2 * time.Second
	AnchorAfter  = 4 * time.Second
	SearchLead   = 10 * time.Second
	SearchLength = 40 * time.Second
	MaxArrival   = 600.0 // seconds
)

var (
	ErrNoOnset       = errors.New("no onset detected on anchor station")
	ErrWindowOutside = errors.New("search window falls outside the recording")
	ErrImplausible   = errors.New("arrival outside plausible range")
)

// Locator runs one event at a time and keeps no state between calls.
type Locator struct {
	Params      picker.Params
	WaveSpeed   float64 // km/s
	Resample    bool    // condition every station even when rates agree
	Conditioner dsp.Conditioner
	Logger      *slog.Logger
}

// New returns a Locator with the default 100 Hz conditioner.
func New(params picker.Params, speed float64, resample bool, logger *slog.Logger) *Locator {
	return &Locator{
		Params:      params,
		WaveSpeed:   speed,
		Resample:    resample,
		Conditioner: dsp.DefaultConditioner(),
		Logger:      logger,
	}
}

// Diagnostics carries intermediate curves for plotting.
type Diagnostics struct {
	Rate         float64
	Onset        picker.Onset
	Ratio        []float64                 // anchor characteristic function
	AnchorWindow int                       // reference window length in samples
	Estimates    map[string]xcorr.Estimate // keyed by station
}

// Result is a located event.
type Result struct {
	Epicenter    domain.Epicenter
	Observations []domain.StationObservation
	Frame        tdoa.Frame
	Diagnostics  Diagnostics
}

type prepared struct {
	station domain.Station
	rate    float64
	offset  float64 // recording start relative to the anchor's, seconds
	samples []float64
}

// Locate solves an event from exactly three station signals. The first is
// the anchor and its recording start is the event epoch.
func (l *Locator) Locate(ctx context.Context, eventID string, signals []domain.ChannelSignal) (Result, error) {
	fail := func(stage domain.Stage, station string, err error) (Result, error) {
		return Result{}, domain.NewLocalizationError(stage, eventID, station, err)
	}

	if len(signals) != tdoa.Stations {
		return fail(domain.StageInput, "", fmt.Errorf("%w: got %d stations", tdoa.ErrInsufficientObservations, len(signals)))
	}
	if err := l.Params.Validate(); err != nil {
		return fail(domain.StageInput, "", err)
	}

	stations, err := l.prepare(signals)
	if err != nil {
		var le *domain.LocalizationError
		if errors.As(err, &le) {
			le.EventID = eventID
		}
		return Result{}, err
	}

	anchor := stations[0]
	rate := anchor.rate
	onset, ok := picker.Pick(anchor.samples, rate, l.Params)
	if !ok {
		return fail(domain.StagePick, anchor.station.Key(), ErrNoOnset)
	}
	pickAt := onset.Seconds(rate)
	l.logger().Debug("anchor picked", "event_id", eventID, "station", anchor.station.Key(), "pick_s", pickAt)

	aw0 := max(0, onset.Index-int(AnchorBefore.Seconds()*rate))
	aw1 := min(len(anchor.samples), onset.Index+int(AnchorAfter.Seconds()*rate))
	anchorWin := anchor.samples[aw0:aw1]
	anchorWinStart := float64(aw0) / rate

	diag := Diagnostics{
		Rate:         rate,
		Onset:        onset,
		Ratio:        picker.Ratio(anchor.samples, rate, l.Params),
		AnchorWindow: len(anchorWin),
		Estimates:    make(map[string]xcorr.Estimate, len(stations)-1),
	}

	arrivals := []float64{pickAt}
	valid := []domain.Station{anchor.station}
	rejected := ""
	for _, st := range stations[1:] {
		if err := ctx.Err(); err != nil {
			return fail(domain.StageDelay, st.station.Key(), err)
		}

		s0 := int(math.Round((pickAt - SearchLead.Seconds() - st.offset) * st.rate))
		s0 = min(max(s0, 0), len(st.samples))
		s1 := min(len(st.samples), s0+int(SearchLength.Seconds()*st.rate))
		if s1 <= s0 {
			return fail(domain.StageDelay, st.station.Key(), ErrWindowOutside)
		}
		searchStart := st.offset + float64(s0)/st.rate

		est, err := xcorr.Delay(st.samples[s0:s1], anchorWin, st.rate)
		if err != nil {
			return fail(domain.StageDelay, st.station.Key(), err)
		}
		diag.Estimates[st.station.Key()] = est

		// The lag places the anchor window start, not the pick, inside the
		// search window.
		arrival := pickAt + est.Seconds + (searchStart - anchorWinStart)
		if arrival < 0 || arrival > MaxArrival || math.IsNaN(arrival) {
			rejected = st.station.Key()
			l.logger().Warn("rejecting implausible arrival",
				"event_id", eventID, "station", rejected, "arrival_s", arrival)
			continue
		}
		arrivals = append(arrivals, arrival)
		valid = append(valid, st.station)
	}
	if len(valid) < tdoa.Stations {
		return fail(domain.StageDelay, rejected,
			fmt.Errorf("%w: %d of %d stations usable: %w", tdoa.ErrInsufficientObservations, len(valid), tdoa.Stations, ErrImplausible))
	}

	frame := tdoa.NewFrame(valid)
	obs := make([]domain.StationObservation, len(valid))
	for i, s := range valid {
		obs[i] = frame.Observation(s, arrivals[i])
	}

	epi, err := tdoa.Solve(obs, l.WaveSpeed)
	if err != nil {
		return fail(domain.StageSolve, "", err)
	}
	epi = frame.Geolocate(epi)
	l.logger().Info("event located",
		"event_id", eventID, "lat", epi.Lat, "lon", epi.Lon, "iterations", epi.Iterations, "converged", epi.Converged)

	return Result{Epicenter: epi, Observations: obs, Frame: frame, Diagnostics: diag}, nil
}

// prepare brings every station onto one rate. Mixed rates, or Resample,
// run the full conditioner; otherwise each trace is demeaned and tapered.
func (l *Locator) prepare(signals []domain.ChannelSignal) ([]prepared, error) {
	condition := l.Resample
	for _, s := range signals[1:] {
		if s.SampleRate != signals[0].SampleRate {
			condition = true
		}
	}

	conditioner := l.Conditioner
	if conditioner.TargetRate <= 0 || conditioner.Taps == 0 {
		conditioner = dsp.DefaultConditioner()
	}

	epoch := time.Time{}
	out := make([]prepared, len(signals))
	for i, s := range signals {
		if len(s.Samples) == 0 || s.SampleRate <= 0 {
			return nil, domain.NewLocalizationError(domain.StageInput, "", s.Station.Key(), dsp.ErrEmptySignal)
		}

		p := prepared{station: s.Station, rate: s.SampleRate}
		start := s.Start
		if condition {
			c, err := conditioner.Condition(s)
			if err != nil {
				return nil, domain.NewLocalizationError(domain.StageInput, "", s.Station.Key(), err)
			}
			p.rate, p.samples, start = c.SampleRate, c.Samples, c.Start
		} else {
			p.samples = slices.Clone(s.Samples)
			dsp.Demean(p.samples)
			dsp.ApplyHamming(p.samples)
		}

		if i == 0 {
			epoch = start
		}
		p.offset = start.Sub(epoch).Seconds()
		out[i] = p
	}
	return out, nil
}

func (l *Locator) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
