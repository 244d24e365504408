package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobJSON = `{
	"event_id": "evt-123",
	"channel": "BHZ",
	"stations": [
		{"network":"IU","station":"ANMO","lat":34.95,"lon":-106.46,"path":"anmo.mseed"},
		{"network":"IU","station":"TUC","lat":32.31,"lon":-110.78,"path":"tuc.mseed"},
		{"network":"US","station":"ISCO","lat":39.80,"lon":-105.61,"fdsn":{"start":"2024-04-26T15:00:00Z","end":"2024-04-26T15:12:00Z"}}
	]
}`

func TestParseLocateJob(t *testing.T) {
	t.Run("valid job", func(t *testing.T) {
		job, err := ParseLocateJob(RawEvent{Value: []byte(testJobJSON)})
		require.NoError(t, err)

		assert.Equal(t, "evt-123", job.EventID)
		assert.Equal(t, ChannelBHZ, job.Channel)
		require.Len(t, job.Stations, 3)
		assert.Equal(t, "IU.ANMO", job.Stations[0].Key())
		assert.Equal(t, "anmo.mseed", job.Stations[0].Path)
		require.NotNil(t, job.Stations[2].FDSN)
		assert.Equal(t, time.Date(2024, 4, 26, 15, 12, 0, 0, time.UTC), job.Stations[2].FDSN.End)
	})

	t.Run("inline waveform decodes from base64", func(t *testing.T) {
		data := `{"stations":[
			{"network":"XX","station":"A","lat":0,"lon":0,"waveform":"AAEC"},
			{"network":"XX","station":"B","lat":0,"lon":0.1,"waveform":"AAEC"},
			{"network":"XX","station":"C","lat":0.1,"lon":0,"waveform":"AAEC"}]}`
		job, err := ParseLocateJob(RawEvent{Value: []byte(data)})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2}, job.Stations[0].Waveform)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseLocateJob(RawEvent{Value: []byte("not-json{{{")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse locate job")
	})

	t.Run("wrong station count", func(t *testing.T) {
		_, err := ParseLocateJob(RawEvent{Value: []byte(`{"stations":[{"network":"IU","station":"ANMO","path":"a"}]}`)})
		require.ErrorIs(t, err, ErrStationCount)
	})

	t.Run("station with two sources", func(t *testing.T) {
		var job LocateJob
		require.NoError(t, json.Unmarshal([]byte(testJobJSON), &job))
		job.Stations[1].Waveform = []byte{1}
		data, err := json.Marshal(job)
		require.NoError(t, err)

		_, err = ParseLocateJob(RawEvent{Value: data})
		require.ErrorIs(t, err, ErrWaveformSource)
		assert.Contains(t, err.Error(), "IU.TUC")
	})

	t.Run("fdsn window", func(t *testing.T) {
		start := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)
		tests := []struct {
			name    string
			window  FDSNWindow
			wantErr bool
		}{
			{"twelve minutes", FDSNWindow{Start: start, End: start.Add(12 * time.Minute)}, false},
			{"at the limit", FDSNWindow{Start: start, End: start.Add(MaxFDSNWindow)}, false},
			{"too long", FDSNWindow{Start: start, End: start.Add(24 * time.Hour)}, true},
			{"reversed", FDSNWindow{Start: start, End: start.Add(-time.Minute)}, true},
			{"empty", FDSNWindow{Start: start, End: start}, true},
			{"no start", FDSNWindow{End: start}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var job LocateJob
				require.NoError(t, json.Unmarshal([]byte(testJobJSON), &job))
				job.Stations[2].FDSN = &tt.window
				data, err := json.Marshal(job)
				require.NoError(t, err)

				_, err = ParseLocateJob(RawEvent{Value: data})
				if tt.wantErr {
					require.ErrorIs(t, err, ErrFDSNWindow)
					assert.Contains(t, err.Error(), "US.ISCO")
				} else {
					require.NoError(t, err)
				}
			})
		}
	})

	t.Run("coordinates out of range", func(t *testing.T) {
		var job LocateJob
		require.NoError(t, json.Unmarshal([]byte(testJobJSON), &job))
		job.Stations[0].Lat = 91
		data, err := json.Marshal(job)
		require.NoError(t, err)

		_, err = ParseLocateJob(RawEvent{Value: data})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})
}

func TestGenerateEventID(t *testing.T) {
	var job LocateJob
	require.NoError(t, json.Unmarshal([]byte(testJobJSON), &job))
	job.EventID = ""

	first := generateEventID(job)
	assert.True(t, strings.HasPrefix(first, "quake-"))
	assert.Equal(t, first, generateEventID(job), "IDs must be deterministic")

	job.Origin = &Origin{Time: time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)}
	assert.NotEqual(t, first, generateEventID(job))
}

func TestResults(t *testing.T) {
	fixed := time.Date(2024, 4, 27, 6, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	job := LocateJob{EventID: "evt-1"}

	t.Run("located", func(t *testing.T) {
		misfit := 1.5
		res := NewLocatedResult(job, Epicenter{X: 4, Y: 3, Converged: true}, nil, &misfit)
		assert.Equal(t, StatusLocated, res.Status)
		require.NotNil(t, res.Epicenter)
		assert.Equal(t, 4.0, res.Epicenter.X)
		assert.Equal(t, fixed, res.ProcessedAt)
		assert.Empty(t, res.Stage)
	})

	t.Run("failed with localization error", func(t *testing.T) {
		cause := errors.New("no onset found")
		res := NewFailedResult(job, NewLocalizationError(StagePick, "evt-1", "IU.ANMO", cause))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, StagePick, res.Stage)
		assert.Equal(t, "IU.ANMO", res.Station)
		assert.Equal(t, "no onset found", res.Error)
		assert.Nil(t, res.Epicenter)
	})

	t.Run("failed with plain error", func(t *testing.T) {
		res := NewFailedResult(job, errors.New("boom"))
		assert.Equal(t, StageInput, res.Stage)
		assert.Equal(t, "boom", res.Error)
	})
}

func TestSerializeResult(t *testing.T) {
	processed := time.Date(2024, 4, 27, 6, 0, 0, 0, time.UTC)
	res := LocateResult{
		EventID:     "evt-1",
		Status:      StatusFailed,
		Stage:       StageDelay,
		Error:       "arrival outside plausible range",
		ProcessedAt: processed,
	}

	out, err := SerializeResult(res)
	require.NoError(t, err)
	assert.Equal(t, []byte("evt-1"), out.Key)
	assert.Equal(t, "failed", out.Headers["status"])
	assert.Equal(t, "delay", out.Headers["stage"])
	assert.Equal(t, "2024-04-27T06:00:00Z", out.Headers["processed_at"])
	assert.Equal(t, []string{"processed_at", "stage", "status"}, SortedHeaderKeys(out.Headers))

	var back LocateResult
	require.NoError(t, json.Unmarshal(out.Value, &back))
	assert.Equal(t, res.Error, back.Error)
	assert.Equal(t, StageDelay, back.Stage)

	located, err := SerializeResult(LocateResult{EventID: "evt-2", Status: StatusLocated})
	require.NoError(t, err)
	assert.NotContains(t, located.Headers, "stage")
}

func TestLocalizationError(t *testing.T) {
	sentinel := errors.New("degenerate")
	err := NewLocalizationError(StageSolve, "evt-9", "", sentinel)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "event evt-9: solve failed: degenerate", err.Error())
	assert.Equal(t, StageSolve, StageOf(err))

	withStation := NewLocalizationError(StageDecode, "evt-9", "IU.TUC", sentinel)
	assert.Contains(t, withStation.Error(), "at IU.TUC")
}

func TestStationAndChannel(t *testing.T) {
	net, code, err := ParseStationKey("GE.FUR")
	require.NoError(t, err)
	assert.Equal(t, "GE", net)
	assert.Equal(t, "FUR", code)

	_, _, err = ParseStationKey("GEFUR")
	assert.Error(t, err)

	assert.True(t, ChannelBHZ.IsVertical())
	assert.False(t, ChannelBHN.IsVertical())
	assert.True(t, ChannelHHZ.Known())
	assert.False(t, Channel("XYZ").Known())

	assert.Equal(t, 2*time.Second, SamplesDuration(200, 100))
	assert.Equal(t, time.Duration(0), SamplesDuration(10, 0))
}
