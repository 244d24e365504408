// Package picker detects P-wave onsets with a short-term/long-term average
// energy ratio.
package picker

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidParams = errors.New("invalid picker parameters")

// Params configures the detector.
type Params struct {
	STA time.Duration // short window
	LTA time.Duration // long window, at least twice STA
	On  float64       // trigger ratio
	Off float64       // release ratio
}

// DefaultParams returns the standard 0.5 s / 5 s detector with 3.5 / 1.4
// thresholds.
func DefaultParams() Params {
	return Params{STA: 500 * time.Millisecond, LTA: 5 * time.Second, On: 3.5, Off: 1.4}
}

// Validate checks window ordering and threshold ordering.
func (p Params) Validate() error {
	switch {
	case p.STA <= 0:
		return fmt.Errorf("%w: STA must be positive", ErrInvalidParams)
	case p.LTA < 2*p.STA:
		return fmt.Errorf("%w: LTA %s must be at least twice STA %s", ErrInvalidParams, p.LTA, p.STA)
	case p.Off <= 0:
		return fmt.Errorf("%w: release ratio must be positive", ErrInvalidParams)
	case p.On <= p.Off:
		return fmt.Errorf("%w: trigger ratio %.2f must exceed release ratio %.2f", ErrInvalidParams, p.On, p.Off)
	}
	return nil
}

func (p Params) windows(rate float64) (sta, lta int) {
	sta = max(1, int(math.Round(p.STA.Seconds()*rate)))
	lta = max(1, int(math.Round(p.LTA.Seconds()*rate)))
	return sta, lta
}

// Onset is a detected arrival, in sample indices.
type Onset struct {
	Index   int // onset, back-dated by one short window
	Trigger int // sample where the ratio crossed On
	Release int // first sample after Trigger with ratio <= Off, or -1
}

// Seconds returns the onset time relative to the first sample.
func (o Onset) Seconds(rate float64) float64 {
	return float64(o.Index) / rate
}

// Pick scans x for the first onset. It reports false when the ratio never
// reaches p.On. Scanning stops at the release; later onsets are not
// searched for.
func Pick(x []float64, rate float64, p Params) (Onset, bool) {
	staN, ltaN := p.windows(rate)
	if len(x) < ltaN+2 {
		return Onset{}, false
	}
	prefix := energyPrefix(x)

	pick := Onset{Release: -1}
	triggered := false
	for i := ltaN; i <= len(x)-2; i++ {
		r := ratioAt(prefix, i, staN, ltaN)
		if !triggered {
			if r >= p.On {
				triggered = true
				pick.Index = max(0, i-staN)
				pick.Trigger = i
			}
			continue
		}
		if r <= p.Off {
			pick.Release = i
			break
		}
	}
	return pick, triggered
}

// Ratio returns the characteristic function for every sample. Indices
// outside the scanned range are zero.
func Ratio(x []float64, rate float64, p Params) []float64 {
	out := make([]float64, len(x))
	staN, ltaN := p.windows(rate)
	if len(x) < ltaN+2 {
		return out
	}
	prefix := energyPrefix(x)
	for i := ltaN; i <= len(x)-2; i++ {
		out[i] = ratioAt(prefix, i, staN, ltaN)
	}
	return out
}

// energyPrefix holds P[k] = sum of x[j]^2 for j < k.
func energyPrefix(x []float64) []float64 {
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v*v
	}
	return prefix
}

func ratioAt(prefix []float64, i, staN, ltaN int) float64 {
	lta := (prefix[i] - prefix[i-ltaN]) / float64(ltaN)
	sta := (prefix[i+1] - prefix[max(0, i+1-staN)]) / float64(staN)
	if lta <= 0 {
		return math.Inf(1)
	}
	return sta / lta
}
