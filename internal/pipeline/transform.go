package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/adapter/chart"
	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/observability"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
	"github.com/couchcryptid/seismic-locator/internal/waveform"
)

// ErrFDSNDisabled is returned for stations that ask for an FDSN download
// when no FDSN client is configured.
var ErrFDSNDisabled = errors.New("fdsn waveform source is disabled")

var (
	// ErrPathDisabled is returned for path sources when no waveform
	// directory is configured.
	ErrPathDisabled = errors.New("path waveform source is disabled")

	// ErrPathNotLocal is returned for absolute paths and paths that leave
	// the waveform directory.
	ErrPathNotLocal = errors.New("waveform path must be relative to the waveform directory")
)

// WaveformFetcher downloads miniSEED for one station window.
type WaveformFetcher interface {
	Waveform(ctx context.Context, st domain.Station, ch domain.Channel, start, end time.Time) ([]byte, error)
}

// LocateTransformer implements Transformer: it decodes the three station
// waveforms of a job, locates the event and serializes the result.
type LocateTransformer struct {
	locator  *locator.Locator
	channel  domain.Channel
	fetcher  WaveformFetcher
	openFile func(name string) (io.ReadCloser, error)
	chartDir string
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures a LocateTransformer.
type Option func(*LocateTransformer)

// WithFetcher enables stations whose waveform source is an FDSN window.
func WithFetcher(f WaveformFetcher) Option {
	return func(t *LocateTransformer) { t.fetcher = f }
}

// WithWaveformRoot serves path sources from root. Paths must be local to it.
func WithWaveformRoot(root *os.Root) Option {
	return func(t *LocateTransformer) {
		t.openFile = func(name string) (io.ReadCloser, error) {
			if !filepath.IsLocal(name) {
				return nil, fmt.Errorf("%w: %q", ErrPathNotLocal, name)
			}
			f, err := root.Open(name)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
}

// WithLocalFiles serves path sources from the local filesystem as given.
// It is meant for the command line, where the job author is the operator.
func WithLocalFiles() Option {
	return func(t *LocateTransformer) {
		t.openFile = func(name string) (io.ReadCloser, error) {
			f, err := os.Open(name)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
}

// WithChartDir writes diagnostic plots for every located event into dir.
func WithChartDir(dir string) Option {
	return func(t *LocateTransformer) { t.chartDir = dir }
}

// NewLocateTransformer creates a transformer. channel is used for jobs that
// do not name one.
func NewLocateTransformer(loc *locator.Locator, channel domain.Channel, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *LocateTransformer {
	t := &LocateTransformer{
		locator: loc,
		channel: channel,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform parses the job and always returns a result message for it,
// either located or failed. Only unparseable jobs return an error.
func (t *LocateTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	job, err := domain.ParseLocateJob(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	return domain.SerializeResult(t.Locate(ctx, job))
}

// Locate runs one validated job end to end.
func (t *LocateTransformer) Locate(ctx context.Context, job domain.LocateJob) domain.LocateResult {
	start := time.Now()
	res, err := t.locate(ctx, job)
	t.metrics.LocateDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		stage := domain.StageOf(err)
		t.metrics.JobsFailed.WithLabelValues(string(stage)).Inc()
		t.logger.Warn("locate failed", "event_id", job.EventID, "stage", stage, "error", err)
		return domain.NewFailedResult(job, err)
	}

	var misfit *float64
	if job.Origin != nil {
		d := tdoa.Haversine(job.Origin.Lat, job.Origin.Lon, res.Epicenter.Lat, res.Epicenter.Lon)
		misfit = &d
	}

	if t.chartDir != "" {
		paths, err := chart.WriteResult(t.chartDir, job.EventID, res, t.locator.Params)
		if err != nil {
			t.logger.Warn("chart write failed", "event_id", job.EventID, "error", err)
		} else {
			t.logger.Debug("charts written", "event_id", job.EventID, "files", len(paths))
		}
	}

	return domain.NewLocatedResult(job, res.Epicenter, res.Observations, misfit)
}

func (t *LocateTransformer) locate(ctx context.Context, job domain.LocateJob) (locator.Result, error) {
	channel := job.Channel
	if channel == "" {
		channel = t.channel
	}

	signals := make([]domain.ChannelSignal, 0, len(job.Stations))
	for _, st := range job.Stations {
		sig, err := t.loadStation(ctx, job.EventID, channel, st)
		if err != nil {
			return locator.Result{}, err
		}
		signals = append(signals, sig)
	}
	return t.locator.Locate(ctx, job.EventID, signals)
}

// loadStation resolves the station's waveform source, decodes it and
// returns the requested channel.
func (t *LocateTransformer) loadStation(ctx context.Context, eventID string, ch domain.Channel, st domain.JobStation) (domain.ChannelSignal, error) {
	fail := func(stage domain.Stage, err error) (domain.ChannelSignal, error) {
		return domain.ChannelSignal{}, domain.NewLocalizationError(stage, eventID, st.Key(), err)
	}

	r, err := t.open(ctx, ch, st)
	if err != nil {
		return fail(domain.StageInput, err)
	}
	defer r.Close()

	blocks, stats, err := waveform.ReadStation(ctx, r, st.Station, t.logger)
	t.metrics.BlocksDecoded.Add(float64(stats.Blocks))
	t.metrics.BlocksSkipped.Add(float64(stats.Skipped))
	if err != nil {
		return fail(domain.StageDecode, err)
	}

	merged, err := waveform.Merge(blocks)
	if err != nil {
		return fail(domain.StageMerge, err)
	}
	sig, err := waveform.Select(merged, ch)
	if err != nil {
		return fail(domain.StageMerge, err)
	}
	t.logger.Debug("station loaded", "event_id", eventID, "station", st.Key(),
		"blocks", stats.Blocks, "skipped", stats.Skipped, "samples", len(sig.Samples), "rate", sig.SampleRate)
	return sig, nil
}

func (t *LocateTransformer) open(ctx context.Context, ch domain.Channel, st domain.JobStation) (io.ReadCloser, error) {
	switch {
	case len(st.Waveform) > 0:
		return io.NopCloser(bytes.NewReader(st.Waveform)), nil
	case st.Path != "":
		if t.openFile == nil {
			return nil, ErrPathDisabled
		}
		f, err := t.openFile(st.Path)
		if err != nil {
			return nil, fmt.Errorf("open waveform: %w", err)
		}
		return f, nil
	case st.FDSN != nil:
		if t.fetcher == nil {
			return nil, ErrFDSNDisabled
		}
		data, err := t.fetcher.Waveform(ctx, st.Station, ch, st.FDSN.Start, st.FDSN.End)
		if err != nil {
			return nil, fmt.Errorf("fetch waveform: %w", err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil, domain.ErrWaveformSource
}
