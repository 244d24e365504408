package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ResampledLength is floor(n*dst/src).
func ResampledLength(n int, src, dst float64) int {
	if n <= 0 || src <= 0 || dst <= 0 {
		return 0
	}
	return int(math.Floor(float64(n) * dst / src))
}

// Resample converts x from src to dst Hz with cubic Hermite interpolation.
// Positions past either edge reuse the nearest sample.
func Resample(x []float64, src, dst float64) []float64 {
	n := ResampledLength(len(x), src, dst)
	if n == 0 {
		return nil
	}
	if src == dst {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	last := len(x) - 1
	at := func(k int) float64 {
		return x[min(max(k, 0), last)]
	}

	step := src / dst
	out := make([]float64, n)
	for i := range out {
		pos := float64(i) * step
		k := int(pos)
		t := pos - float64(k)
		out[i] = hermite(at(k-1), at(k), at(k+1), at(k+2), t)
	}
	return out
}

func hermite(y0, y1, y2, y3, t float64) float64 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1
	return ((a0*t+a1)*t+a2)*t + a3
}

// Demean subtracts the arithmetic mean in place.
func Demean(x []float64) {
	if len(x) == 0 {
		return
	}
	floats.AddConst(-stat.Mean(x, nil), x)
}

// ApplyHamming multiplies x in place by a Hamming window spanning its full
// length.
func ApplyHamming(x []float64) {
	if len(x) < 2 {
		return
	}
	window.Apply(x, window.Hamming)
}

// Normalize divides x in place by its peak absolute value. An all-zero
// signal is left as is.
func Normalize(x []float64) {
	if len(x) == 0 {
		return
	}
	peak := floats.Norm(x, math.Inf(1))
	if peak == 0 {
		return
	}
	for i := range x {
		x[i] /= peak
	}
}
