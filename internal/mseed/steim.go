package mseed

import (
	"encoding/binary"
	"fmt"
)

const (
	frameSize     = 64
	wordsPerFrame = 16
	noDnib        = ^uint32(0)
)

// packing describes how one 32-bit Steim word holds count differences of
// bits each. dnib is the 2-bit sub-code stored in the top of the word, or
// noDnib when the whole word carries data.
type packing struct {
	nib   uint32
	dnib  uint32
	count int
	bits  int
}

var (
	steim1Packings = []packing{
		{nib: 1, dnib: noDnib, count: 4, bits: 8},
		{nib: 2, dnib: noDnib, count: 2, bits: 16},
		{nib: 3, dnib: noDnib, count: 1, bits: 32},
	}

	// Ordered densest first so the encoder can take the first fit.
	steim2Packings = []packing{
		{nib: 3, dnib: 2, count: 7, bits: 4},
		{nib: 3, dnib: 1, count: 6, bits: 5},
		{nib: 3, dnib: 0, count: 5, bits: 6},
		{nib: 1, dnib: noDnib, count: 4, bits: 8},
		{nib: 2, dnib: 3, count: 3, bits: 10},
		{nib: 2, dnib: 2, count: 2, bits: 15},
		{nib: 2, dnib: 1, count: 1, bits: 30},
	}
)

func lookupPacking(version int, nib, word uint32) (packing, bool) {
	table := steim1Packings
	if version == 2 {
		table = steim2Packings
	}
	for _, p := range table {
		if p.nib != nib {
			continue
		}
		if p.dnib == noDnib || p.dnib == word>>30 {
			return p, true
		}
	}
	return packing{}, false
}

func signExtend(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func (p packing) unpack(word uint32, dst []int32) []int32 {
	mask := uint32(1)<<p.bits - 1
	if p.bits == 32 {
		mask = ^uint32(0)
	}
	for k := range p.count {
		shift := (p.count - 1 - k) * p.bits
		dst = append(dst, signExtend((word>>shift)&mask, p.bits))
	}
	return dst
}

func (p packing) fits(diffs []int32) bool {
	if len(diffs) < p.count {
		return false
	}
	lo, hi := -(int64(1) << (p.bits - 1)), int64(1)<<(p.bits-1)-1
	for _, d := range diffs[:p.count] {
		if int64(d) < lo || int64(d) > hi {
			return false
		}
	}
	return true
}

func (p packing) pack(diffs []int32) uint32 {
	var word uint32
	if p.dnib != noDnib {
		word = p.dnib << 30
	}
	mask := uint32(1)<<p.bits - 1
	if p.bits == 32 {
		mask = ^uint32(0)
	}
	for k, d := range diffs[:p.count] {
		word |= (uint32(d) & mask) << ((p.count - 1 - k) * p.bits)
	}
	return word
}

// decodeSteim integrates the differences of a Steim-1 or Steim-2 payload
// into n samples and verifies the reverse integration constant.
func decodeSteim(data []byte, bo binary.ByteOrder, n, version int) ([]int32, error) {
	if n == 0 {
		return nil, nil
	}
	frames := len(data) / frameSize
	if frames == 0 {
		return nil, fmt.Errorf("%w: no Steim frames for %d samples", ErrChecksum, n)
	}

	diffs := make([]int32, 0, n+7)
	var x0, xn int32
	for f := 0; f < frames && len(diffs) < n; f++ {
		frame := data[f*frameSize : (f+1)*frameSize]
		ctrl := bo.Uint32(frame[0:4])
		for w := 1; w < wordsPerFrame; w++ {
			word := bo.Uint32(frame[w*4 : w*4+4])
			if f == 0 && w == 1 {
				x0 = int32(word)
				continue
			}
			if f == 0 && w == 2 {
				xn = int32(word)
				continue
			}
			nib := (ctrl >> (30 - 2*w)) & 3
			if nib == 0 {
				continue
			}
			p, ok := lookupPacking(version, nib, word)
			if !ok {
				return nil, fmt.Errorf("%w: invalid Steim%d code %d/%d in frame %d", ErrChecksum, version, nib, word>>30, f)
			}
			diffs = p.unpack(word, diffs)
		}
	}
	if len(diffs) < n {
		return nil, fmt.Errorf("%w: frames hold %d differences, header declares %d", ErrChecksum, len(diffs), n)
	}

	out := make([]int32, n)
	out[0] = x0
	for i := 1; i < n; i++ {
		out[i] = out[i-1] + diffs[i]
	}
	if out[n-1] != xn {
		return nil, fmt.Errorf("%w: last sample %d, reverse constant %d", ErrChecksum, out[n-1], xn)
	}
	return out, nil
}

// encodeSteim packs as many leading samples as fit in frames and returns the
// payload and the number of samples consumed.
func encodeSteim(samples []int32, bo binary.ByteOrder, frames, version int) ([]byte, int, error) {
	table := steim1Packings
	if version == 2 {
		table = steim2Packings
	}

	diffs := make([]int32, len(samples))
	for i := 1; i < len(samples); i++ {
		diffs[i] = samples[i] - samples[i-1]
	}

	buf := make([]byte, frames*frameSize)
	used := 0
	for f := 0; f < frames && used < len(samples); f++ {
		frame := buf[f*frameSize : (f+1)*frameSize]
		var ctrl uint32
		first := 1
		if f == 0 {
			first = 3
		}
		for w := first; w < wordsPerFrame && used < len(samples); w++ {
			var chosen *packing
			for i := range table {
				if table[i].fits(diffs[used:]) {
					chosen = &table[i]
					break
				}
			}
			if chosen == nil {
				return nil, 0, fmt.Errorf("difference %d does not fit Steim%d", diffs[used], version)
			}
			bo.PutUint32(frame[w*4:], chosen.pack(diffs[used:]))
			ctrl |= chosen.nib << (30 - 2*w)
			used += chosen.count
		}
		bo.PutUint32(frame[0:4], ctrl)
	}

	bo.PutUint32(buf[4:8], uint32(samples[0]))
	bo.PutUint32(buf[8:12], uint32(samples[used-1]))
	return buf, used, nil
}
