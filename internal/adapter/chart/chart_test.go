package chart

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/picker"
	"github.com/couchcryptid/seismic-locator/internal/synth"
	"github.com/couchcryptid/seismic-locator/internal/xcorr"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestWriteCorrelation(t *testing.T) {
	ref := make([]float64, 50)
	search := make([]float64, 400)
	for i := range ref {
		ref[i] = math.Sin(float64(i) / 3)
		search[i+120] = ref[i]
	}
	est, err := xcorr.Delay(search, ref, 100)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCorrelation(&buf, est, len(ref), 100, "test"))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestWriteRatio(t *testing.T) {
	ratio := make([]float64, 9000)
	for i := 500; i < len(ratio); i++ {
		ratio[i] = 1
	}
	ratio[600] = math.Inf(1)
	ratio[4000] = 6

	var buf bytes.Buffer
	err := WriteRatio(&buf, ratio, 100, picker.Onset{Index: 3950, Trigger: 4000, Release: 4100}, picker.DefaultParams(), "ratio")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestWrite_TooFewPoints(t *testing.T) {
	require.ErrorIs(t, WriteRatio(io.Discard, []float64{1}, 100, picker.Onset{}, picker.DefaultParams(), ""), ErrTooFewPoints)
	require.ErrorIs(t, WriteCorrelation(io.Discard, xcorr.Estimate{}, 1, 100, ""), ErrTooFewPoints)
}

func TestWriteResult(t *testing.T) {
	traces, err := synth.Generate(synth.DefaultEvent(), synth.DefaultSites())
	require.NoError(t, err)
	signals := make([]domain.ChannelSignal, len(traces))
	for i, tr := range traces {
		signals[i] = tr.Signal
	}

	params := picker.DefaultParams()
	loc := locator.New(params, 6, false, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := loc.Locate(context.Background(), "quake-chart", signals)
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := WriteResult(dir, "quake-chart", res, params)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Contains(t, paths[1], "US_ISCO")
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), p)
	}
}

func TestDownsample(t *testing.T) {
	x := make([]float64, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i], y[i] = float64(i), float64(i*i)
	}
	dx, dy := downsample(x, y, 4)
	assert.Equal(t, []float64{0, 3, 6, 9}, dx)
	assert.Equal(t, []float64{0, 9, 36, 81}, dy)

	same, _ := downsample(x, y, 20)
	assert.Len(t, same, 10)
}
