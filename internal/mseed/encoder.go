package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// EncodeParams describes a continuous trace to be written as records.
type EncodeParams struct {
	Network      string
	Station      string
	Location     string
	Channel      string
	Start        time.Time
	SampleRate   float64
	Samples      []float64
	Encoding     Encoding // defaults to STEIM2
	RecordLength int      // power of two, 256–4096; defaults to 512
	Quality      byte     // defaults to 'D'
	FirstSeq     int      // defaults to 1
}

// Encoder writes big-endian data records with blockettes 1000 and 1001, plus
// blockette 100 when the rate is not representable as factor and multiplier.
type Encoder struct {
	order binary.ByteOrder
}

// NewEncoder returns a big-endian Encoder.
func NewEncoder() *Encoder {
	return &Encoder{order: binary.BigEndian}
}

// Encode writes p as one or more records to w and returns the record count.
func (e *Encoder) Encode(w io.Writer, p EncodeParams) (int, error) {
	if err := p.normalize(); err != nil {
		return 0, err
	}

	factor, mult, exact := rateFields(p.SampleRate)
	dataOffset := 64
	if !exact {
		dataOffset = 128
	}

	var ints []int32
	if p.Encoding != EncodingFloat64 && p.Encoding != EncodingFloat32 {
		var err error
		if ints, err = toInt32(p.Samples); err != nil {
			return 0, err
		}
	}

	records := 0
	for pos := 0; pos < len(p.Samples); {
		rec := make([]byte, p.RecordLength)
		payload, n, err := e.payload(p, ints, pos, p.RecordLength-dataOffset)
		if err != nil {
			return records, err
		}
		copy(rec[dataOffset:], payload)

		start := p.Start.Add(time.Duration(float64(pos) / p.SampleRate * float64(time.Second)))
		e.writeHeader(rec, p, p.FirstSeq+records, start, n, factor, mult, dataOffset, exact)

		if _, err := w.Write(rec); err != nil {
			return records, fmt.Errorf("write record %d: %w", records, err)
		}
		records++
		pos += n
	}
	return records, nil
}

func (p *EncodeParams) normalize() error {
	if len(p.Samples) == 0 {
		return errors.New("encode: no samples")
	}
	if p.SampleRate <= 0 {
		return errors.New("encode: sample rate must be positive")
	}
	if p.Station == "" || p.Channel == "" {
		return errors.New("encode: station and channel are required")
	}
	if p.Encoding == 0 {
		p.Encoding = EncodingSteim2
	}
	if p.RecordLength == 0 {
		p.RecordLength = 512
	}
	if p.RecordLength < 256 || p.RecordLength > 4096 || p.RecordLength&(p.RecordLength-1) != 0 {
		return fmt.Errorf("encode: record length %d must be a power of two in [256, 4096]", p.RecordLength)
	}
	if p.Quality == 0 {
		p.Quality = 'D'
	}
	if p.FirstSeq == 0 {
		p.FirstSeq = 1
	}
	return nil
}

func (e *Encoder) payload(p EncodeParams, ints []int32, pos, capacity int) ([]byte, int, error) {
	remaining := len(p.Samples) - pos
	switch p.Encoding {
	case EncodingInt32:
		n := min(remaining, capacity/4)
		buf := make([]byte, n*4)
		for i := range n {
			e.order.PutUint32(buf[i*4:], uint32(ints[pos+i]))
		}
		return buf, n, nil
	case EncodingInt16:
		n := min(remaining, capacity/2)
		buf := make([]byte, n*2)
		for i := range n {
			v := ints[pos+i]
			if v < math.MinInt16 || v > math.MaxInt16 {
				return nil, 0, fmt.Errorf("encode: sample %d overflows INT16", v)
			}
			e.order.PutUint16(buf[i*2:], uint16(int16(v)))
		}
		return buf, n, nil
	case EncodingFloat32:
		n := min(remaining, capacity/4)
		buf := make([]byte, n*4)
		for i := range n {
			e.order.PutUint32(buf[i*4:], math.Float32bits(float32(p.Samples[pos+i])))
		}
		return buf, n, nil
	case EncodingFloat64:
		n := min(remaining, capacity/8)
		buf := make([]byte, n*8)
		for i := range n {
			e.order.PutUint64(buf[i*8:], math.Float64bits(p.Samples[pos+i]))
		}
		return buf, n, nil
	case EncodingSteim1, EncodingSteim2:
		version := 1
		if p.Encoding == EncodingSteim2 {
			version = 2
		}
		return encodeSteim(ints[pos:], e.order, capacity/frameSize, version)
	default:
		return nil, 0, fmt.Errorf("encode: %w: %s", ErrUnsupportedEncoding, p.Encoding)
	}
}

func (e *Encoder) writeHeader(rec []byte, p EncodeParams, seq int, start time.Time, n int, factor, mult int16, dataOffset int, exact bool) {
	bo := e.order
	fill := func(dst []byte, s string) {
		for i := range dst {
			dst[i] = ' '
		}
		copy(dst, s)
	}

	copy(rec[0:6], fmt.Sprintf("%06d", seq%1_000_000))
	rec[6] = p.Quality
	rec[7] = ' '
	fill(rec[8:13], p.Station)
	fill(rec[13:15], p.Location)
	fill(rec[15:18], p.Channel)
	fill(rec[18:20], p.Network)
	putBTime(rec[20:30], bo, BTimeOf(start))
	bo.PutUint16(rec[30:32], uint16(n))
	bo.PutUint16(rec[32:34], uint16(factor))
	bo.PutUint16(rec[34:36], uint16(mult))

	blockettes := 2
	if !exact {
		blockettes = 3
	}
	rec[39] = byte(blockettes)
	bo.PutUint16(rec[44:46], uint16(dataOffset))
	bo.PutUint16(rec[46:48], 48)

	// Blockette 1000.
	bo.PutUint16(rec[48:50], 1000)
	bo.PutUint16(rec[50:52], 56)
	rec[52] = byte(p.Encoding)
	rec[53] = 1
	if bo == binary.LittleEndian {
		rec[53] = 0
	}
	rec[54] = byte(math.Log2(float64(p.RecordLength)))

	// Blockette 1001: sub-100µs remainder of the start time.
	next := uint16(0)
	if !exact {
		next = 64
	}
	bo.PutUint16(rec[56:58], 1001)
	bo.PutUint16(rec[58:60], next)
	rec[60] = 100
	rec[61] = byte(int8((start.Nanosecond() / 1000) % 100))
	rec[63] = byte((len(rec) - dataOffset) / frameSize)

	if !exact {
		bo.PutUint16(rec[64:66], 100)
		bo.PutUint16(rec[66:68], 0)
		bo.PutUint32(rec[68:72], math.Float32bits(float32(p.SampleRate)))
	}
}

// rateFields expresses rate as SEED factor and multiplier. exact is false
// when the pair only approximates the rate and blockette 100 is needed.
func rateFields(rate float64) (factor, mult int16, exact bool) {
	if rate >= 1 && rate <= math.MaxInt16 && rate == math.Trunc(rate) {
		return int16(rate), 1, true
	}
	if period := 1 / rate; rate < 1 && period <= math.MaxInt16 && period == math.Trunc(period) {
		return -int16(period), 1, true
	}
	scaled := math.Round(rate * 100)
	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	}
	return int16(scaled), -100, false
}

func toInt32(samples []float64) ([]int32, error) {
	out := make([]int32, len(samples))
	for i, v := range samples {
		r := math.Round(v)
		if r < math.MinInt32 || r > math.MaxInt32 || math.IsNaN(r) {
			return nil, fmt.Errorf("encode: sample %d (%g) overflows INT32", i, v)
		}
		out[i] = int32(r)
	}
	return out, nil
}
