package spectral

import (
	"cmp"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is a one-sided amplitude spectrum.
type Spectrum struct {
	Freqs      []float64 // Hz
	Amps       []float64 // amplitude of a unit-amplitude sinusoid is ~1
	Resolution float64   // Hz per bin
	N          int       // transform length after padding
}

// Peak is one spectral line.
type Peak struct {
	Freq float64 `json:"freq_hz"`
	Amp  float64 `json:"amplitude"`
}

// Magnitude zero-pads x to a power of two and returns its one-sided
// amplitude spectrum at the given sample rate.
func Magnitude(x []float64, rate float64) Spectrum {
	n := NextPowerOfTwo(len(x))
	padded := make([]float64, n)
	copy(padded, x)

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, padded)

	s := Spectrum{
		Freqs:      make([]float64, len(coeff)),
		Amps:       make([]float64, len(coeff)),
		Resolution: rate / float64(n),
		N:          n,
	}
	for k, c := range coeff {
		s.Freqs[k] = fft.Freq(k) * rate
		scale := 2 / float64(n)
		if k == 0 || (n > 1 && k == n/2) {
			scale = 1 / float64(n)
		}
		s.Amps[k] = cmplx.Abs(c) * scale
	}
	return s
}

// Dominant returns the strongest non-DC line. It is the zero Peak for
// spectra with no bins above DC.
func (s Spectrum) Dominant() Peak {
	top := s.Top(1)
	if len(top) == 0 {
		return Peak{}
	}
	return top[0]
}

// Top returns up to n local maxima above DC, strongest first.
func (s Spectrum) Top(n int) []Peak {
	var peaks []Peak
	for k := 1; k < len(s.Amps); k++ {
		left := s.Amps[k-1]
		right := 0.0
		if k+1 < len(s.Amps) {
			right = s.Amps[k+1]
		}
		if s.Amps[k] > 0 && s.Amps[k] >= left && s.Amps[k] >= right {
			peaks = append(peaks, Peak{Freq: s.Freqs[k], Amp: s.Amps[k]})
		}
	}
	slices.SortStableFunc(peaks, func(a, b Peak) int { return cmp.Compare(b.Amp, a.Amp) })
	if len(peaks) > n {
		peaks = peaks[:n]
	}
	return peaks
}
