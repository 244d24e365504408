package synth

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/mseed"
	"github.com/couchcryptid/seismic-locator/internal/tdoa"
)

func TestWavelet(t *testing.T) {
	assert.Zero(t, Wavelet(-0.01))
	assert.Zero(t, Wavelet(0))
	assert.Zero(t, Wavelet(tailSeconds+1))

	peak := 0.0
	for k := range 2000 {
		peak = math.Max(peak, math.Abs(Wavelet(float64(k)*0.01)))
	}
	assert.InDelta(t, 1.0, peak, 0.1)
}

func TestGenerate(t *testing.T) {
	ev := DefaultEvent()
	sites := DefaultSites()
	traces, err := Generate(ev, sites)
	require.NoError(t, err)
	require.Len(t, traces, 3)

	for i, tr := range traces {
		site := sites[i]
		sig := tr.Signal
		assert.Equal(t, site.Station, sig.Station)
		assert.Equal(t, ev.Channel, sig.Channel)
		assert.Equal(t, site.SampleRate, sig.SampleRate)
		assert.Equal(t, ev.Origin.Add(-ev.Lead+site.StartOffset), sig.Start)
		assert.Len(t, sig.Samples, int(ev.Length.Seconds()*site.SampleRate))

		dist := tdoa.Haversine(ev.Lat, ev.Lon, site.Station.Lat, site.Station.Lon)
		travel := tr.Arrival.Sub(ev.Origin).Seconds()
		assert.InDelta(t, dist/ev.Speed, travel, 0.05, "station %s", site.Station.Key())

		onset := int(tr.Arrival.Sub(sig.Start).Seconds() * sig.SampleRate)
		quiet := sig.Samples[:onset]
		for _, v := range quiet {
			assert.Less(t, math.Abs(v), 6*ev.NoiseSigma*ev.Gain)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(DefaultEvent(), DefaultSites())
	require.NoError(t, err)
	b, err := Generate(DefaultEvent(), DefaultSites())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_Invalid(t *testing.T) {
	ev := DefaultEvent()
	ev.Speed = 0
	_, err := Generate(ev, DefaultSites())
	require.Error(t, err)

	_, err = Generate(DefaultEvent(), nil)
	require.Error(t, err)

	sites := DefaultSites()
	sites[1].SampleRate = 0
	_, err = Generate(DefaultEvent(), sites)
	require.Error(t, err)
}

func TestTrace_MiniSEED(t *testing.T) {
	traces, err := Generate(DefaultEvent(), DefaultSites())
	require.NoError(t, err)
	tr := traces[0]

	data, err := tr.MiniSEED(mseed.EncodingSteim2)
	require.NoError(t, err)

	var decoded []float64
	for rec, err := range mseed.NewDecoder(bytes.NewReader(data)).Blocks() {
		require.NoError(t, err)
		assert.Equal(t, "ANMO", rec.Station)
		assert.Equal(t, "BHZ", rec.Channel)
		decoded = append(decoded, rec.Samples...)
	}
	require.Len(t, decoded, len(tr.Signal.Samples))
	for i, v := range tr.Signal.Samples {
		assert.InDelta(t, v, decoded[i], 0.5, "i=%d", i)
	}
}

func TestJob(t *testing.T) {
	ev := DefaultEvent()
	traces, err := Generate(ev, DefaultSites())
	require.NoError(t, err)

	job, err := Job("quake-test", ev, traces, mseed.EncodingSteim1)
	require.NoError(t, err)
	require.NoError(t, job.Validate())
	assert.Equal(t, "quake-test", job.EventID)
	assert.Equal(t, domain.ChannelBHZ, job.Channel)
	require.NotNil(t, job.Origin)
	assert.Equal(t, ev.Origin, job.Origin.Time)
	assert.Equal(t, "IU.ANMO", job.Stations[0].Key())
	assert.NotEmpty(t, job.Stations[2].Waveform)
	assert.WithinDuration(t, ev.Origin, job.Origin.Time, time.Nanosecond)
}
