package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/mseed"
	"github.com/couchcryptid/seismic-locator/internal/picker"
	"github.com/couchcryptid/seismic-locator/internal/pipeline"
	"github.com/couchcryptid/seismic-locator/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTransformer(opts ...pipeline.Option) *pipeline.LocateTransformer {
	loc := locator.New(picker.DefaultParams(), synth.DefaultEvent().Speed, false, discardLogger())
	return pipeline.NewLocateTransformer(loc, domain.ChannelBHZ, newTestMetrics(), discardLogger(), opts...)
}

func synthJob(t *testing.T, id string) (domain.LocateJob, []synth.Trace) {
	t.Helper()
	traces, err := synth.Generate(synth.DefaultEvent(), synth.DefaultSites())
	require.NoError(t, err)
	job, err := synth.Job(id, synth.DefaultEvent(), traces, mseed.EncodingSteim2)
	require.NoError(t, err)
	return job, traces
}

func rawFromJob(t *testing.T, job domain.LocateJob) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(job.EventID), Value: data}
}

func decodeResult(t *testing.T, out domain.OutputEvent) domain.LocateResult {
	t.Helper()
	var res domain.LocateResult
	require.NoError(t, json.Unmarshal(out.Value, &res))
	return res
}

func TestLocateTransformer_InlineWaveforms(t *testing.T) {
	fixed := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { domain.SetClock(nil) })

	job, _ := synthJob(t, "quake-inline")
	out, err := newTransformer().Transform(context.Background(), rawFromJob(t, job))
	require.NoError(t, err)

	assert.Equal(t, []byte("quake-inline"), out.Key)
	assert.Equal(t, "located", out.Headers["status"])
	assert.Equal(t, fixed.Format(time.RFC3339), out.Headers["processed_at"])

	res := decodeResult(t, out)
	require.NotNil(t, res.Epicenter)
	assert.True(t, res.Epicenter.Converged)
	assert.InDelta(t, synth.DefaultEvent().Lat, res.Epicenter.Lat, 0.02)
	assert.InDelta(t, synth.DefaultEvent().Lon, res.Epicenter.Lon, 0.02)
	require.NotNil(t, res.MisfitKm)
	assert.Less(t, *res.MisfitKm, 2.0)
	assert.Len(t, res.Observations, 3)
	assert.Equal(t, "IU.ANMO", res.Observations[0].Station.Key())
}

func writePathJob(t *testing.T, id string) (domain.LocateJob, string) {
	t.Helper()
	job, _ := synthJob(t, id)
	dir := t.TempDir()
	for i := range job.Stations {
		name := job.Stations[i].Code + ".mseed"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), job.Stations[i].Waveform, 0o600))
		job.Stations[i].Waveform = nil
		job.Stations[i].Path = name
	}
	return job, dir
}

func TestLocateTransformer_PathWaveforms(t *testing.T) {
	job, dir := writePathJob(t, "quake-path")
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	res := newTransformer(pipeline.WithWaveformRoot(root)).Locate(context.Background(), job)
	assert.Equal(t, domain.StatusLocated, res.Status, res.Error)
}

func TestLocateTransformer_PathDisabledByDefault(t *testing.T) {
	job, _ := writePathJob(t, "quake-nopath")

	res := newTransformer().Locate(context.Background(), job)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.StageInput, res.Stage)
	assert.Equal(t, "IU.ANMO", res.Station)
	assert.Contains(t, res.Error, "path waveform source is disabled")
}

func TestLocateTransformer_PathConfinedToRoot(t *testing.T) {
	job, dir := writePathJob(t, "quake-escape")
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	outside := filepath.Join(t.TempDir(), "outside.mseed")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{"absolute", outside},
		{"parent", "../" + filepath.Base(outside)},
		{"dev zero", "/dev/zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := job
			escaped.Stations = slices.Clone(job.Stations)
			escaped.Stations[1].Path = tt.path

			res := newTransformer(pipeline.WithWaveformRoot(root)).Locate(context.Background(), escaped)
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, domain.StageInput, res.Stage)
			assert.Equal(t, "US.ISCO", res.Station)
			assert.Contains(t, res.Error, "must be relative")
		})
	}
}

func TestLocateTransformer_EndlessStreamFailsDecode(t *testing.T) {
	if _, err := os.Stat("/dev/zero"); err != nil {
		t.Skip("no /dev/zero on this system")
	}
	job, _ := synthJob(t, "quake-zero")
	for i := range job.Stations {
		job.Stations[i].Waveform = nil
		job.Stations[i].Path = "/dev/zero"
	}

	done := make(chan domain.LocateResult, 1)
	go func() { done <- newTransformer(pipeline.WithLocalFiles()).Locate(context.Background(), job) }()

	select {
	case res := <-done:
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Equal(t, domain.StageDecode, res.Stage)
		assert.Equal(t, "IU.ANMO", res.Station)
		assert.Contains(t, res.Error, "consecutive damaged records")
	case <-time.After(10 * time.Second):
		t.Fatal("locate did not return for an endless stream")
	}
}

func TestLocateTransformer_GarbageInlineFailsDecode(t *testing.T) {
	job, _ := synthJob(t, "quake-garbage")
	job.Stations[2].Waveform = make([]byte, 1<<20)

	res := newTransformer().Locate(context.Background(), job)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.StageDecode, res.Stage)
	assert.Equal(t, "N4.Z13A", res.Station)
}

type fakeFetcher struct {
	data  map[string][]byte
	calls []string
}

func (f *fakeFetcher) Waveform(_ context.Context, st domain.Station, ch domain.Channel, _, _ time.Time) ([]byte, error) {
	f.calls = append(f.calls, st.Key()+"."+string(ch))
	return f.data[st.Key()], nil
}

func TestLocateTransformer_FDSNWaveforms(t *testing.T) {
	job, _ := synthJob(t, "quake-fdsn")
	fetcher := &fakeFetcher{data: make(map[string][]byte)}
	window := &domain.FDSNWindow{Start: job.Origin.Time.Add(-2 * time.Minute), End: job.Origin.Time.Add(10 * time.Minute)}
	for i := range job.Stations {
		fetcher.data[job.Stations[i].Key()] = job.Stations[i].Waveform
		job.Stations[i].Waveform = nil
		job.Stations[i].FDSN = window
	}

	res := newTransformer(pipeline.WithFetcher(fetcher)).Locate(context.Background(), job)
	assert.Equal(t, domain.StatusLocated, res.Status, res.Error)
	assert.Equal(t, []string{"IU.ANMO.BHZ", "US.ISCO.BHZ", "N4.Z13A.BHZ"}, fetcher.calls)
}

func TestLocateTransformer_FDSNDisabled(t *testing.T) {
	job, _ := synthJob(t, "quake-nofdsn")
	job.Stations[1].Waveform = nil
	job.Stations[1].FDSN = &domain.FDSNWindow{}

	res := newTransformer().Locate(context.Background(), job)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.StageInput, res.Stage)
	assert.Equal(t, "US.ISCO", res.Station)
	assert.Contains(t, res.Error, "disabled")
}

func TestLocateTransformer_MissingChannelFails(t *testing.T) {
	job, _ := synthJob(t, "quake-hhz")
	job.Channel = domain.ChannelHHZ

	out, err := newTransformer().Transform(context.Background(), rawFromJob(t, job))
	require.NoError(t, err, "located or not, a parsed job yields a result")
	assert.Equal(t, "failed", out.Headers["status"])
	assert.Equal(t, "merge", out.Headers["stage"])

	res := decodeResult(t, out)
	assert.Equal(t, "IU.ANMO", res.Station)
	assert.Nil(t, res.Epicenter)
	assert.Contains(t, res.Error, "channel not present")
}

func TestLocateTransformer_DefaultChannel(t *testing.T) {
	job, _ := synthJob(t, "quake-default-channel")
	job.Channel = ""

	res := newTransformer().Locate(context.Background(), job)
	assert.Equal(t, domain.StatusLocated, res.Status, res.Error)
}

func TestLocateTransformer_UnparseableJob(t *testing.T) {
	_, err := newTransformer().Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	require.Error(t, err)

	_, err = newTransformer().Transform(context.Background(), domain.RawEvent{Value: []byte(`{"event_id":"x","stations":[]}`)})
	require.ErrorIs(t, err, domain.ErrStationCount)
}

func TestLocateTransformer_WritesCharts(t *testing.T) {
	dir := t.TempDir()
	job, _ := synthJob(t, "quake-charts")

	res := newTransformer(pipeline.WithChartDir(dir)).Locate(context.Background(), job)
	require.Equal(t, domain.StatusLocated, res.Status, res.Error)

	assert.FileExists(t, filepath.Join(dir, "quake-charts-ratio.png"))
	assert.FileExists(t, filepath.Join(dir, "quake-charts-US_ISCO-xcorr.png"))
	assert.FileExists(t, filepath.Join(dir, "quake-charts-N4_Z13A-xcorr.png"))
}
