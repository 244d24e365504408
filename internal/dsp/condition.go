package dsp

import (
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
)

const (
	DefaultTargetRate = 100.0
	DefaultTaps       = 101
)

// Conditioner brings signals to a common rate, then removes the baseline,
// tapers and normalizes them.
type Conditioner struct {
	TargetRate float64
	Taps       int
}

// DefaultConditioner returns a Conditioner at 100 Hz with a 101-tap
// anti-alias filter.
func DefaultConditioner() Conditioner {
	return Conditioner{TargetRate: DefaultTargetRate, Taps: DefaultTaps}
}

// Condition sorts the signals by start time and joins them into one
// ConditionedSignal at the target rate. Signals sharing one rate are
// concatenated before filtering. Mixed-rate inputs are filtered and resampled
// one by one and the pieces joined afterwards. The result peaks at exactly 1
// unless every sample is zero.
func (c Conditioner) Condition(signals ...domain.ChannelSignal) (domain.ConditionedSignal, error) {
	parts := make([]domain.ChannelSignal, 0, len(signals))
	for _, s := range signals {
		if len(s.Samples) > 0 && s.SampleRate > 0 {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return domain.ConditionedSignal{}, ErrEmptySignal
	}
	slices.SortStableFunc(parts, func(a, b domain.ChannelSignal) int {
		return a.Start.Compare(b.Start)
	})

	var (
		samples []float64
		start   = parts[0].Start
	)
	if sameRate(parts) {
		joined := make([]float64, 0, totalLen(parts))
		for _, p := range parts {
			joined = append(joined, p.Samples...)
		}
		out, delay, err := c.toTarget(joined, parts[0].SampleRate, false)
		if err != nil {
			return domain.ConditionedSignal{}, err
		}
		samples = out
		start = start.Add(-delay)
	} else {
		for _, p := range parts {
			out, _, err := c.toTarget(p.Samples, p.SampleRate, true)
			if err != nil {
				return domain.ConditionedSignal{}, fmt.Errorf("condition %s: %w", p.Station.Key(), err)
			}
			samples = append(samples, out...)
		}
	}
	if len(samples) == 0 {
		return domain.ConditionedSignal{}, ErrEmptySignal
	}

	Demean(samples)
	ApplyHamming(samples)
	Normalize(samples)

	return domain.ConditionedSignal{SampleRate: c.TargetRate, Start: start, Samples: samples}, nil
}

// toTarget low-passes x when decimating and resamples it to the target
// rate. It reports the group delay the filter put in front of the data. With
// trim set, that delay is cut from both ends so the output stays aligned
// with the input.
func (c Conditioner) toTarget(x []float64, src float64, trim bool) ([]float64, time.Duration, error) {
	var delay time.Duration
	if c.TargetRate < src {
		h, err := LowPass(c.Taps, (c.TargetRate/2)/(src/2))
		if err != nil {
			return nil, 0, err
		}
		x = Convolve(x, h)
		half := (len(h) - 1) / 2
		if trim {
			x = x[half : len(x)-half]
		} else {
			delay = domain.SamplesDuration(half, src)
		}
	}
	if c.TargetRate == src {
		out := make([]float64, len(x))
		copy(out, x)
		return out, delay, nil
	}
	return Resample(x, src, c.TargetRate), delay, nil
}

func sameRate(parts []domain.ChannelSignal) bool {
	for _, p := range parts[1:] {
		if p.SampleRate != parts[0].SampleRate {
			return false
		}
	}
	return true
}

func totalLen(parts []domain.ChannelSignal) int {
	n := 0
	for _, p := range parts {
		n += len(p.Samples)
	}
	return n
}
