// Package dsp conditions waveforms for spectral work: anti-alias filtering,
// resampling, baseline removal, windowing and normalization.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/seismic-locator/internal/spectral"
)

var (
	ErrEmptySignal = errors.New("empty signal")
	ErrInvalidTaps = errors.New("tap count must be odd and at least 3")
)

// FastConvolveThreshold is the output length above which Convolve switches
// to the FFT path.
const FastConvolveThreshold = 4096

// LowPass designs a linear-phase windowed-sinc kernel. cutoff is normalized
// to Nyquist and must lie in (0, 1]. The kernel has unity DC gain.
func LowPass(taps int, cutoff float64) ([]float64, error) {
	if taps < 3 || taps%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTaps, taps)
	}
	if cutoff <= 0 || cutoff > 1 {
		return nil, fmt.Errorf("cutoff %.4f outside (0, 1]", cutoff)
	}

	mid := (taps - 1) / 2
	h := make([]float64, taps)
	for i := range h {
		m := float64(i - mid)
		if m == 0 {
			h[i] = cutoff
			continue
		}
		h[i] = math.Sin(math.Pi*cutoff*m) / (math.Pi * m)
	}
	window.Apply(h, window.Hamming)

	floats.Scale(1/floats.Sum(h), h)
	return h, nil
}

// Convolve returns the full linear convolution of x and h, of length
// len(x)+len(h)-1. Long inputs go through FastConvolve.
func Convolve(x, h []float64) []float64 {
	if len(x) == 0 || len(h) == 0 {
		return nil
	}
	n := len(x) + len(h) - 1
	if n > FastConvolveThreshold {
		return FastConvolve(x, h)
	}
	out := make([]float64, n)
	for i, xv := range x {
		if xv == 0 {
			continue
		}
		for j, hv := range h {
			out[i+j] += xv * hv
		}
	}
	return out
}

// FastConvolve computes the same result as Convolve through the
// convolution theorem.
func FastConvolve(x, h []float64) []float64 {
	if len(x) == 0 || len(h) == 0 {
		return nil
	}
	n := len(x) + len(h) - 1
	size := spectral.NextPowerOfTwo(n)

	// lengths are powers of two by construction
	fx, _ := spectral.Transform(spectral.PadTo(x, size))
	fh, _ := spectral.Transform(spectral.PadTo(h, size))
	for i := range fx {
		fx[i] *= fh[i]
	}
	y, _ := spectral.InverseTransform(fx)

	out := make([]float64, n)
	for i := range out {
		out[i] = real(y[i])
	}
	return out
}
