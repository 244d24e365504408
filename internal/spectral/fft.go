// Package spectral provides stateless radix-2 Fourier transforms and
// amplitude spectra.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"
)

// ErrNotPowerOfTwo is returned by the raw transforms for other lengths.
// Padding is the caller's job; see PadPow2.
var ErrNotPowerOfTwo = errors.New("transform length must be a power of two")

// RecursiveLimit is the largest length Transform hands to the recursive FFT.
const RecursiveLimit = 1 << 16

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// PadPow2 copies x into a complex slice zero-padded on the right to the next
// power of two.
func PadPow2(x []float64) []complex128 {
	return PadTo(x, NextPowerOfTwo(len(x)))
}

// PadTo copies x into a complex slice of length n, n >= len(x).
func PadTo(x []float64, n int) []complex128 {
	out := make([]complex128, n)
	for i, v := range x {
		out[i] = complex(v, 0)
	}
	return out
}

// FFT computes the forward transform with recursive decimation in time.
func FFT(x []complex128) ([]complex128, error) {
	if !IsPowerOfTwo(len(x)) {
		return nil, fmt.Errorf("%w: got %d", ErrNotPowerOfTwo, len(x))
	}
	return fftRecursive(x), nil
}

func fftRecursive(x []complex128) []complex128 {
	n := len(x)
	if n == 1 {
		return []complex128{x[0]}
	}

	half := n / 2
	even := make([]complex128, half)
	odd := make([]complex128, half)
	for i := range half {
		even[i] = x[2*i]
		odd[i] = x[2*i+1]
	}
	e := fftRecursive(even)
	o := fftRecursive(odd)

	out := make([]complex128, n)
	for k := range half {
		t := twiddle(k, n) * o[k]
		out[k] = e[k] + t
		out[k+half] = e[k] - t
	}
	return out
}

func twiddle(k, n int) complex128 {
	return cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n)))
}

// IFFT inverts FFT by conjugating, transforming, conjugating and scaling.
func IFFT(x []complex128) ([]complex128, error) {
	return inverse(x, FFT)
}

// IterativeFFT computes the same transform as FFT in place on a copy, with
// bit-reversal ordering and no recursion.
func IterativeFFT(x []complex128) ([]complex128, error) {
	n := len(x)
	if !IsPowerOfTwo(n) {
		return nil, fmt.Errorf("%w: got %d", ErrNotPowerOfTwo, n)
	}
	out := make([]complex128, n)
	copy(out, x)

	shift := bits.UintSize - bits.Len(uint(n-1))
	for i := range n {
		j := int(bits.Reverse(uint(i)) >> shift)
		if n > 1 && j > i {
			out[i], out[j] = out[j], out[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := twiddle(1, size)
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := range half {
				t := w * out[start+k+half]
				out[start+k+half] = out[start+k] - t
				out[start+k] += t
				w *= step
			}
		}
	}
	return out, nil
}

// Transform picks the recursive FFT for moderate lengths and the iterative
// one above RecursiveLimit.
func Transform(x []complex128) ([]complex128, error) {
	if len(x) > RecursiveLimit {
		return IterativeFFT(x)
	}
	return FFT(x)
}

// InverseTransform is the inverse of Transform.
func InverseTransform(x []complex128) ([]complex128, error) {
	return inverse(x, Transform)
}

func inverse(x []complex128, forward func([]complex128) ([]complex128, error)) ([]complex128, error) {
	conj := make([]complex128, len(x))
	for i, v := range x {
		conj[i] = cmplx.Conj(v)
	}
	out, err := forward(conj)
	if err != nil {
		return nil, err
	}
	scale := 1 / float64(len(out))
	for i, v := range out {
		out[i] = complex(real(v)*scale, -imag(v)*scale)
	}
	return out, nil
}
