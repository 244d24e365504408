// Package xcorr estimates sub-sample delays between two windows by FFT
// cross-correlation.
package xcorr

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/seismic-locator/internal/spectral"
)

var ErrEmptyWindow = errors.New("correlation window is empty")

// minDenominator guards the parabolic fit against flat peaks.
const minDenominator = 1e-12

// Estimate is the outcome of Delay.
type Estimate struct {
	Lag     float64   // samples, positive when a lags b
	Seconds float64   // Lag divided by the sample rate
	Peak    int       // argmax index into Curve
	Curve   []float64 // linear correlation, zero lag at len(b)-1
}

// ZeroLag returns the index of zero lag in Curve for a reference window of
// length lb.
func ZeroLag(lb int) int { return lb - 1 }

// Correlate returns the linear cross-correlation of the demeaned windows,
// r[j] = sum a[n+j-(len(b)-1)] * b[n], of length len(a)+len(b)-1.
func Correlate(a, b []float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyWindow
	}
	n := len(a) + len(b) - 1
	size := spectral.NextPowerOfTwo(n)

	fa, err := spectral.Transform(spectral.PadTo(demeaned(a), size))
	if err != nil {
		return nil, err
	}
	fb, err := spectral.Transform(spectral.PadTo(demeaned(b), size))
	if err != nil {
		return nil, err
	}
	for i := range fa {
		fa[i] *= complex(real(fb[i]), -imag(fb[i]))
	}
	c, err := spectral.InverseTransform(fa)
	if err != nil {
		return nil, err
	}

	zero := ZeroLag(len(b))
	out := make([]float64, n)
	for j := range out {
		out[j] = real(c[(j-zero+size)%size])
	}
	return out, nil
}

// Delay estimates how far a lags b, refined to a fraction of a sample with
// a parabola through the peak and its neighbours.
func Delay(a, b []float64, rate float64) (Estimate, error) {
	curve, err := Correlate(a, b)
	if err != nil {
		return Estimate{}, err
	}

	peak := floats.MaxIdx(curve)
	lag := float64(peak) + refine(curve, peak) - float64(ZeroLag(len(b)))
	return Estimate{
		Lag:     lag,
		Seconds: lag / rate,
		Peak:    peak,
		Curve:   curve,
	}, nil
}

func refine(y []float64, k int) float64 {
	if k == 0 || k == len(y)-1 {
		return 0
	}
	ym1, y0, yp1 := y[k-1], y[k], y[k+1]
	den := ym1 - 2*y0 + yp1
	if math.Abs(den) < minDenominator {
		return 0
	}
	return 0.5 * (ym1 - yp1) / den
}

func demeaned(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	floats.AddConst(-stat.Mean(out, nil), out)
	return out
}
