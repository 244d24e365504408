// Package waveform turns decoded records into one continuous signal per
// channel.
package waveform

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/mseed"
)

var (
	ErrNoBlocks       = errors.New("no waveform blocks")
	ErrChannelMissing = errors.New("channel not present in station signals")

	// ErrTooLarge is returned when a station stream exceeds its byte limit.
	ErrTooLarge = errors.New("waveform exceeds size limit")

	// ErrNotMiniSEED is returned after too many damaged records in a row.
	ErrNotMiniSEED = errors.New("too many consecutive damaged records")
)

const (
	// DefaultMaxBytes bounds the bytes read for one station.
	DefaultMaxBytes int64 = 256 << 20

	// DefaultMaxConsecutiveSkips is enough to resync past a few damaged
	// 4096-byte records before the first good one.
	DefaultMaxConsecutiveSkips = 256
)

// Merge groups blocks by channel and concatenates each group in start-time
// order. Ties keep input order. Sample continuity across block boundaries is
// assumed; gaps and overlaps are not detected.
func Merge(blocks []domain.RawBlock) (map[domain.Channel]domain.ChannelSignal, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}

	groups := make(map[domain.Channel][]domain.RawBlock)
	for _, b := range blocks {
		groups[b.Channel] = append(groups[b.Channel], b)
	}

	out := make(map[domain.Channel]domain.ChannelSignal, len(groups))
	for ch, group := range groups {
		slices.SortStableFunc(group, func(a, b domain.RawBlock) int {
			return a.Start.Compare(b.Start)
		})

		total := 0
		for _, b := range group {
			total += len(b.Samples)
		}
		samples := make([]float64, 0, total)
		for _, b := range group {
			samples = append(samples, b.Samples...)
		}
		if len(samples) == 0 {
			continue
		}

		first := group[0]
		out[ch] = domain.ChannelSignal{
			Station:    first.Station,
			Channel:    ch,
			SampleRate: first.SampleRate,
			Start:      first.Start,
			Samples:    samples,
		}
	}
	if len(out) == 0 {
		return nil, ErrNoBlocks
	}
	return out, nil
}

// Select returns the requested channel from a merged map.
func Select(signals map[domain.Channel]domain.ChannelSignal, ch domain.Channel) (domain.ChannelSignal, error) {
	sig, ok := signals[ch]
	if !ok {
		have := make([]string, 0, len(signals))
		for c := range signals {
			have = append(have, string(c))
		}
		slices.SortFunc(have, cmp.Compare[string])
		return domain.ChannelSignal{}, fmt.Errorf("%w: want %s, have %v", ErrChannelMissing, ch, have)
	}
	return sig, nil
}

// Stats counts the records seen by ReadStation.
type Stats struct {
	Blocks  int
	Skipped int
}

type readLimits struct {
	maxBytes int64
	maxSkips int
}

// ReadOption tunes ReadStation limits.
type ReadOption func(*readLimits)

// WithMaxBytes caps the bytes read from the stream.
func WithMaxBytes(n int64) ReadOption {
	return func(l *readLimits) { l.maxBytes = n }
}

// WithMaxConsecutiveSkips aborts decoding after n damaged records in a row.
func WithMaxConsecutiveSkips(n int) ReadOption {
	return func(l *readLimits) { l.maxSkips = n }
}

// ReadStation decodes every record in r and attributes it to st. Damaged
// records are skipped and summarized in one log line; a run of them longer
// than the skip limit fails the read. Records with no samples are dropped.
func ReadStation(ctx context.Context, r io.Reader, st domain.Station, logger *slog.Logger, opts ...ReadOption) ([]domain.RawBlock, Stats, error) {
	lim := readLimits{maxBytes: DefaultMaxBytes, maxSkips: DefaultMaxConsecutiveSkips}
	for _, opt := range opts {
		opt(&lim)
	}

	var (
		blocks   []domain.RawBlock
		stats    Stats
		run      int
		firstErr error
	)
	defer func() {
		if stats.Skipped > 0 {
			logger.Warn("skipped damaged records", "station", st.Key(),
				"skipped", stats.Skipped, "blocks", stats.Blocks, "first_error", firstErr)
		}
	}()

	capped := &cappedReader{r: r, n: lim.maxBytes + 1}
	for rec, err := range mseed.NewDecoder(capped).Blocks() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, stats, ctxErr
		}
		if err != nil {
			if !mseed.IsRecoverable(err) {
				return nil, stats, fmt.Errorf("read %s: %w", st.Key(), err)
			}
			stats.Skipped++
			run++
			if firstErr == nil {
				firstErr = err
			}
			logger.Debug("skipping damaged record", "station", st.Key(), "error", err)
			if run > lim.maxSkips {
				return nil, stats, fmt.Errorf("read %s: %w: %d", st.Key(), ErrNotMiniSEED, run)
			}
			continue
		}
		run = 0
		if len(rec.Samples) == 0 {
			continue
		}
		stats.Blocks++
		blocks = append(blocks, domain.RawBlock{
			Samples:    rec.Samples,
			SampleRate: rec.SampleRate(),
			Start:      rec.StartTime(),
			Channel:    domain.Channel(rec.Channel),
			Station:    st,
		})
	}
	return blocks, stats, nil
}

// cappedReader fails with ErrTooLarge once more than n-1 bytes were read,
// so a stream of exactly the limit still ends in io.EOF.
type cappedReader struct {
	r io.Reader
	n int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	if c.n <= 0 && err == nil {
		err = ErrTooLarge
	}
	return n, err
}
