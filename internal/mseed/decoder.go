// Package mseed reads and writes SEED 2.x data-only (miniSEED) records.
//
// The decoder is lazy: each call to [Decoder.Next] consumes exactly one
// record from the underlying stream. A damaged record yields a
// [*DecodeError] and decoding continues with the next one; only I/O failures
// of the stream itself are terminal.
package mseed

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
)

var (
	ErrMalformedHeader     = errors.New("malformed record header")
	ErrUnsupportedEncoding = errors.New("unsupported data encoding")
	ErrChecksum            = errors.New("payload integrity check failed")
	ErrTruncated           = errors.New("truncated record")
)

// DecodeError describes one record that could not be decoded. The record has
// already been skipped when the error is returned.
type DecodeError struct {
	Offset int64 // stream offset of the record start
	Seq    int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mseed: record %d at offset %d: %v", e.Seq, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err concerns a single record, so decoding
// can continue.
func IsRecoverable(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Record is one decoded data record.
type Record struct {
	Header
	Samples []float64
}

// Decoder reads records from a caller-owned stream. It never closes the stream.
type Decoder struct {
	r           *bufio.Reader
	offset      int64
	lastLength  int
	defLength   int
	defEncoding Encoding
	done        bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithDefaultRecordLength sets the record length assumed when a record has
// no blockette 1000.
func WithDefaultRecordLength(n int) Option {
	return func(d *Decoder) { d.defLength = n }
}

// WithDefaultEncoding sets the encoding assumed when a record has no
// blockette 1000.
func WithDefaultEncoding(e Encoding) Option {
	return func(d *Decoder) { d.defEncoding = e }
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:           bufio.NewReaderSize(r, maxRecordLength),
		defLength:   4096,
		defEncoding: EncodingSteim2,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Blocks yields every record until end of stream. Recoverable errors are
// yielded alongside a nil record and iteration continues.
func (d *Decoder) Blocks() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) {
				return
			}
			if err != nil && !IsRecoverable(err) {
				return
			}
		}
	}
}

// Next decodes the next record. It returns io.EOF at end of stream.
func (d *Decoder) Next() (*Record, error) {
	if d.done {
		return nil, io.EOF
	}
	start := d.offset

	head, err := d.r.Peek(fixedHeaderSize)
	if err != nil {
		return nil, d.handleShortRead(start, len(head), err)
	}

	h, err := parseFixedHeader(head)
	if err != nil {
		d.resync()
		return nil, &DecodeError{Offset: start, Err: err}
	}

	if err := d.readBlockettes(&h); err != nil {
		if errors.Is(err, ErrTruncated) {
			return nil, d.handleShortRead(start, d.r.Buffered(), io.ErrUnexpectedEOF)
		}
		d.resync()
		return nil, &DecodeError{Offset: start, Seq: h.Seq, Err: err}
	}

	raw, err := d.r.Peek(h.RecordLength)
	if err != nil {
		return nil, d.handleShortRead(start, len(raw), err)
	}
	record := make([]byte, h.RecordLength)
	copy(record, raw)
	d.discard(h.RecordLength)
	d.lastLength = h.RecordLength

	samples, err := decodePayload(record, h)
	if err != nil {
		return nil, &DecodeError{Offset: start, Seq: h.Seq, Err: err}
	}
	return &Record{Header: h, Samples: samples}, nil
}

// handleShortRead turns a short Peek into io.EOF, a truncation error, or a
// terminal I/O error.
func (d *Decoder) handleShortRead(start int64, available int, err error) error {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("mseed: read at offset %d: %w", start, err)
	}
	d.done = true
	if available == 0 {
		return io.EOF
	}
	d.discard(available)
	return &DecodeError{Offset: start, Err: fmt.Errorf("%w: %d bytes left", ErrTruncated, available)}
}

// resync skips past a damaged header by the last good record length, or
// the minimum record length when none is known yet.
func (d *Decoder) resync() {
	skip := d.lastLength
	if skip == 0 {
		skip = minRecordLength
	}
	d.discard(skip)
}

func (d *Decoder) discard(n int) {
	m, _ := d.r.Discard(n)
	d.offset += int64(m)
}

func (d *Decoder) readBlockettes(h *Header) error {
	h.WordOrder = h.ByteOrder
	h.Encoding = d.defEncoding
	h.RecordLength = d.defLength

	next := h.FirstBlockette
	for i := 0; next != 0 && i < int(max(h.NumBlockettes, 1))+4; i++ {
		if next < fixedHeaderSize || next+4 > maxRecordLength {
			return fmt.Errorf("%w: blockette offset %d", ErrMalformedHeader, next)
		}
		b, err := d.r.Peek(next + 12)
		if len(b) < next+4 {
			if err != nil {
				return ErrTruncated
			}
			return fmt.Errorf("%w: blockette offset %d", ErrMalformedHeader, next)
		}
		bo := h.ByteOrder
		kind := bo.Uint16(b[next : next+2])
		following := int(bo.Uint16(b[next+2 : next+4]))
		body := b[next+4:]

		switch kind {
		case 1000:
			if len(body) < 3 {
				return ErrTruncated
			}
			h.HasB1000 = true
			h.Encoding = Encoding(body[0])
			if body[1] == 0 {
				h.WordOrder = binary.LittleEndian
			} else {
				h.WordOrder = binary.BigEndian
			}
			exp := int(body[2])
			if exp < 7 || exp > 16 {
				return fmt.Errorf("%w: record length exponent %d", ErrMalformedHeader, exp)
			}
			h.RecordLength = 1 << exp
		case 100:
			if len(body) < 4 {
				return ErrTruncated
			}
			h.ActualRate = math.Float32frombits(bo.Uint32(body[0:4]))
		case 1001:
			if len(body) < 2 {
				return ErrTruncated
			}
			h.Microseconds = int8(body[1])
		}
		if following != 0 && following <= next {
			return fmt.Errorf("%w: blockette chain loops at %d", ErrMalformedHeader, following)
		}
		next = following
	}

	if h.DataOffset != 0 && (h.DataOffset < fixedHeaderSize || h.DataOffset > h.RecordLength) {
		return fmt.Errorf("%w: data offset %d outside record of %d bytes", ErrMalformedHeader, h.DataOffset, h.RecordLength)
	}
	if h.NumSamples > 0 && h.SampleRate() <= 0 {
		return fmt.Errorf("%w: sample rate is zero", ErrMalformedHeader)
	}
	return nil
}

func decodePayload(record []byte, h Header) ([]float64, error) {
	if h.NumSamples == 0 {
		return nil, nil
	}
	if h.DataOffset == 0 {
		return nil, fmt.Errorf("%w: %d samples but no data offset", ErrMalformedHeader, h.NumSamples)
	}
	data := record[h.DataOffset:]
	n := h.NumSamples
	wo := h.WordOrder

	need := func(size int) error {
		if len(data) < n*size {
			return fmt.Errorf("%w: %d samples of %d bytes exceed %d-byte payload", ErrMalformedHeader, n, size, len(data))
		}
		return nil
	}

	out := make([]float64, n)
	switch h.Encoding {
	case EncodingInt16:
		if err := need(2); err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = float64(int16(wo.Uint16(data[i*2:])))
		}
	case EncodingInt32:
		if err := need(4); err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = float64(int32(wo.Uint32(data[i*4:])))
		}
	case EncodingFloat32:
		if err := need(4); err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = float64(math.Float32frombits(wo.Uint32(data[i*4:])))
		}
	case EncodingFloat64:
		if err := need(8); err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = math.Float64frombits(wo.Uint64(data[i*8:]))
		}
	case EncodingSteim1, EncodingSteim2:
		version := 1
		if h.Encoding == EncodingSteim2 {
			version = 2
		}
		ints, err := decodeSteim(data, wo, n, version)
		if err != nil {
			return nil, err
		}
		for i, v := range ints {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, h.Encoding)
	}
	return out, nil
}
