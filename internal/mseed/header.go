package mseed

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	fixedHeaderSize = 48
	minRecordLength = 128
	maxRecordLength = 1 << 16
)

// Encoding is the blockette 1000 payload format code.
type Encoding uint8

const (
	EncodingInt16   Encoding = 1
	EncodingInt32   Encoding = 3
	EncodingFloat32 Encoding = 4
	EncodingFloat64 Encoding = 5
	EncodingSteim1  Encoding = 10
	EncodingSteim2  Encoding = 11
)

func (e Encoding) String() string {
	switch e {
	case EncodingInt16:
		return "INT16"
	case EncodingInt32:
		return "INT32"
	case EncodingFloat32:
		return "FLOAT32"
	case EncodingFloat64:
		return "FLOAT64"
	case EncodingSteim1:
		return "STEIM1"
	case EncodingSteim2:
		return "STEIM2"
	default:
		return "encoding(" + strconv.Itoa(int(e)) + ")"
	}
}

// BTime is the SEED binary time of a record's first sample.
type BTime struct {
	Year   uint16
	Day    uint16 // ordinal day, 1–366
	Hour   uint8
	Minute uint8
	Second uint8
	Fract  uint16 // 0.0001 s units
}

// Time converts b to a UTC instant.
func (b BTime) Time() time.Time {
	return time.Date(int(b.Year), time.January, 1, int(b.Hour), int(b.Minute), int(b.Second), int(b.Fract)*100_000, time.UTC).
		AddDate(0, 0, int(b.Day)-1)
}

// String renders the compact "YYYY,DDD,HH:MM:SS.ffff" form.
func (b BTime) String() string {
	return fmt.Sprintf("%04d,%03d,%02d:%02d:%02d.%04d", b.Year, b.Day, b.Hour, b.Minute, b.Second, b.Fract)
}

func (b BTime) valid() bool {
	return b.Year >= 1900 && b.Year <= 2500 &&
		b.Day >= 1 && b.Day <= 366 &&
		b.Hour < 24 && b.Minute < 60 && b.Second <= 60 &&
		b.Fract < 10000
}

// BTimeOf converts t to BTime, truncating below 100µs.
func BTimeOf(t time.Time) BTime {
	t = t.UTC()
	return BTime{
		Year:   uint16(t.Year()),
		Day:    uint16(t.YearDay()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
		Fract:  uint16(t.Nanosecond() / 100_000),
	}
}

// ParseTime parses "YYYY,DDD,HH:MM:SS" with an optional fraction of up to
// nine digits.
func ParseTime(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parse time %q: want YYYY,DDD,HH:MM:SS", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 4 {
		return time.Time{}, fmt.Errorf("parse time %q: bad year", s)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 366 {
		return time.Time{}, fmt.Errorf("parse time %q: bad day of year", s)
	}

	clock, frac, hasFrac := strings.Cut(parts[2], ".")
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return time.Time{}, fmt.Errorf("parse time %q: want HH:MM:SS", s)
	}
	var fields [3]int
	limits := [3]int{23, 59, 60}
	for i, f := range hms {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 || v > limits[i] {
			return time.Time{}, fmt.Errorf("parse time %q: bad clock field %q", s, f)
		}
		fields[i] = v
	}

	nanos := 0
	if hasFrac {
		if frac == "" || len(frac) > 9 {
			return time.Time{}, fmt.Errorf("parse time %q: fraction must have 1-9 digits", s)
		}
		v, err := strconv.Atoi(frac)
		if err != nil || v < 0 {
			return time.Time{}, fmt.Errorf("parse time %q: bad fraction", s)
		}
		nanos = v * pow10(9-len(frac))
	}

	t := time.Date(year, time.January, 1, fields[0], fields[1], fields[2], nanos, time.UTC).AddDate(0, 0, day-1)
	if t.Year() != year {
		return time.Time{}, fmt.Errorf("parse time %q: day %d outside year", s, day)
	}
	return t, nil
}

func pow10(n int) int {
	v := 1
	for range n {
		v *= 10
	}
	return v
}

// Header is the fixed section of a data record plus the fields taken from
// blockettes 100, 1000 and 1001.
type Header struct {
	Seq            int
	Quality        byte
	Network        string
	Station        string
	Location       string
	Channel        string
	Start          BTime
	NumSamples     int
	RateFactor     int16
	RateMultiplier int16
	ActivityFlags  uint8
	NumBlockettes  uint8
	TimeCorrection int32 // 0.0001 s units
	DataOffset     int
	FirstBlockette int

	ByteOrder    binary.ByteOrder
	WordOrder    binary.ByteOrder
	Encoding     Encoding
	RecordLength int
	ActualRate   float32 // blockette 100, zero when absent
	Microseconds int8    // blockette 1001
	HasB1000     bool
}

const activityTimeCorrected = 0x02

// SampleRate resolves the nominal rate, preferring blockette 100.
func (h Header) SampleRate() float64 {
	if h.ActualRate > 0 {
		return float64(h.ActualRate)
	}
	return nominalRate(h.RateFactor, h.RateMultiplier)
}

func nominalRate(f, m int16) float64 {
	ff, mm := float64(f), float64(m)
	switch {
	case f == 0:
		return 0
	case f > 0 && m > 0:
		return ff * mm
	case f > 0 && m < 0:
		return -ff / mm
	case f < 0 && m > 0:
		return -mm / ff
	case f < 0 && m < 0:
		return 1 / (ff * mm)
	default: // m == 0
		if f > 0 {
			return ff
		}
		return -1 / ff
	}
}

// StartTime returns the corrected start of the first sample.
func (h Header) StartTime() time.Time {
	t := h.Start.Time().Add(time.Duration(h.Microseconds) * time.Microsecond)
	if h.ActivityFlags&activityTimeCorrected == 0 && h.TimeCorrection != 0 {
		t = t.Add(time.Duration(h.TimeCorrection) * 100 * time.Microsecond)
	}
	return t
}

// parseFixedHeader reads the 48-byte fixed section, detecting byte order from
// the year field.
func parseFixedHeader(b []byte) (Header, error) {
	if len(b) < fixedHeaderSize {
		return Header{}, fmt.Errorf("%w: short fixed header", ErrMalformedHeader)
	}

	var h Header
	seq := strings.TrimSpace(string(b[0:6]))
	if seq != "" {
		n, err := strconv.Atoi(seq)
		if err != nil {
			return Header{}, fmt.Errorf("%w: sequence %q", ErrMalformedHeader, b[0:6])
		}
		h.Seq = n
	}
	h.Quality = b[6]
	switch h.Quality {
	case 'D', 'R', 'Q', 'M':
	default:
		return Header{}, fmt.Errorf("%w: quality indicator %q", ErrMalformedHeader, h.Quality)
	}

	h.ByteOrder = detectByteOrder(b[20:30])
	if h.ByteOrder == nil {
		return Header{}, fmt.Errorf("%w: implausible start time", ErrMalformedHeader)
	}
	bo := h.ByteOrder

	h.Station = strings.TrimSpace(string(b[8:13]))
	h.Location = strings.TrimSpace(string(b[13:15]))
	h.Channel = strings.TrimSpace(string(b[15:18]))
	h.Network = strings.TrimSpace(string(b[18:20]))
	h.Start = readBTime(b[20:30], bo)
	h.NumSamples = int(bo.Uint16(b[30:32]))
	h.RateFactor = int16(bo.Uint16(b[32:34]))
	h.RateMultiplier = int16(bo.Uint16(b[34:36]))
	h.ActivityFlags = b[36]
	h.NumBlockettes = b[39]
	h.TimeCorrection = int32(bo.Uint32(b[40:44]))
	h.DataOffset = int(bo.Uint16(b[44:46]))
	h.FirstBlockette = int(bo.Uint16(b[46:48]))

	if h.Station == "" || h.Channel == "" {
		return Header{}, fmt.Errorf("%w: missing station or channel code", ErrMalformedHeader)
	}
	return h, nil
}

func detectByteOrder(bt []byte) binary.ByteOrder {
	for _, bo := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		if readBTime(bt, bo).valid() {
			return bo
		}
	}
	return nil
}

func readBTime(b []byte, bo binary.ByteOrder) BTime {
	return BTime{
		Year:   bo.Uint16(b[0:2]),
		Day:    bo.Uint16(b[2:4]),
		Hour:   b[4],
		Minute: b[5],
		Second: b[6],
		Fract:  bo.Uint16(b[8:10]),
	}
}

func putBTime(b []byte, bo binary.ByteOrder, t BTime) {
	bo.PutUint16(b[0:2], t.Year)
	bo.PutUint16(b[2:4], t.Day)
	b[4] = t.Hour
	b[5] = t.Minute
	b[6] = t.Second
	b[7] = 0
	bo.PutUint16(b[8:10], t.Fract)
}
