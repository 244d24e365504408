package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "20240426_0000150", "properties": {
      "unid": "20240426_0000150", "evtype": "ke", "time": "2024-04-26T15:00:00.4Z",
      "lat": 35.10, "lon": -106.10, "depth": 8.0, "mag": 4.6, "magtype": "mw",
      "flynn_region": "NEW MEXICO"}},
    {"type": "Feature", "properties": {
      "unid": "20240426_0000151", "evtype": "ke", "time": "2024-04-26T16:10:00.0",
      "lat": 41.0, "lon": 29.0, "depth": 10.0, "mag": 3.5, "magtype": "mb",
      "flynn_region": "WESTERN TURKEY"}},
    {"type": "Feature", "properties": {
      "unid": "20240426_0000152", "evtype": "qb", "time": "2024-04-26T17:00:00Z",
      "lat": 44.9, "lon": 38.9, "depth": 0.0, "mag": 5.0, "magtype": "ml",
      "flynn_region": "QUARRY BLAST"}},
    {"type": "Feature", "properties": {
      "unid": "20240426_0000153", "evtype": "ke", "time": "2024-04-26T18:00:00Z",
      "lat": 43.5, "lon": 39.7, "depth": 15.0, "mag": 4.5, "magtype": "ml",
      "flynn_region": "CAUCASUS REGION, RUSSIA"}},
    {"type": "Feature", "properties": {
      "unid": "20240426_0000154", "evtype": "ke", "time": "not a time",
      "lat": 0, "lon": 0, "mag": 6.0, "magtype": "mw"}},
    {"type": "Feature", "properties": {
      "unid": "20240426_0000155", "evtype": "ke", "time": "2024-04-26T19:00:00Z",
      "lat": 38.3, "lon": 142.4, "depth": 30.0, "mag": 3.9, "magtype": "mww",
      "flynn_region": "NEAR EAST COAST OF HONSHU, JAPAN"}}
  ]
}`

func TestParse(t *testing.T) {
	events, err := Parse([]byte(feed), Filter{MinMagnitude: DefaultMinMagnitude})
	require.NoError(t, err)
	require.Len(t, events, 3)

	nm := events[0]
	assert.Equal(t, "20240426_0000150", nm.ID)
	assert.Equal(t, "NEW MEXICO", nm.Region)
	assert.Equal(t, time.Date(2024, 4, 26, 15, 0, 0, 400_000_000, time.UTC), nm.Time)
	assert.InDelta(t, 4.6, nm.Magnitude, 1e-9)
	assert.InDelta(t, 8.0, nm.DepthKm, 1e-9)

	assert.Equal(t, "WESTERN TURKEY", events[1].Region)

	caucasus := events[2]
	assert.Equal(t, "ml", caucasus.MagType)
	assert.InDelta(t, 4.0, caucasus.Magnitude, 1e-9) // 0.85*4.5+0.15 = 3.975
}

func TestParse_LowerThreshold(t *testing.T) {
	events, err := Parse([]byte(feed), Filter{MinMagnitude: 3.0})
	require.NoError(t, err)
	require.Len(t, events, 4)

	turkey := events[1]
	assert.Equal(t, time.Date(2024, 4, 26, 16, 10, 0, 0, time.UTC), turkey.Time)
	assert.InDelta(t, 4.4, turkey.Magnitude, 1e-9) // 0.67*3.5+2.07 = 4.415
}

func TestParse_Bounds(t *testing.T) {
	eurasia := &Bounds{MinLat: -10, MaxLat: 82, MinLon: -10, MaxLon: 180}
	events, err := Parse([]byte(feed), Filter{MinMagnitude: 3.0, Bounds: eurasia})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.NotEqual(t, "NEW MEXICO", e.Region)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"features": [`), Filter{})
	require.ErrorIs(t, err, ErrInvalidJSON)

	_, err = Parse([]byte(`{"type": "FeatureCollection"}`), Filter{})
	require.ErrorIs(t, err, ErrInvalidJSON)

	events, err := Parse([]byte(`{"features": []}`), Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFilter_Threshold(t *testing.T) {
	assert.Equal(t, DefaultMinMagnitude, Filter{MinMagnitude: -1}.threshold())
	assert.Equal(t, 12.0, Filter{MinMagnitude: 15}.threshold())
	assert.Equal(t, 5.5, Filter{MinMagnitude: 5.5}.threshold())
}

func TestMomentMagnitude(t *testing.T) {
	assert.InDelta(t, 4.75, MomentMagnitude("mb", 4.0), 1e-9)
	assert.InDelta(t, 3.55, MomentMagnitude("ml", 4.0), 1e-9)
	assert.Equal(t, 4.0, MomentMagnitude("mw", 4.0))
}

func TestNearestTo(t *testing.T) {
	events, err := Parse([]byte(feed), Filter{MinMagnitude: 3.0})
	require.NoError(t, err)

	// Krasnodar
	ranked := NearestTo(events, 45.04, 38.98, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "CAUCASUS REGION, RUSSIA", ranked[0].Region)
	assert.Equal(t, "WESTERN TURKEY", ranked[1].Region)
	assert.Less(t, ranked[0].DistanceKm, ranked[1].DistanceKm)

	all := NearestTo(events, 45.04, 38.98, -1)
	assert.Len(t, all, len(events))
	assert.Empty(t, NearestTo(nil, 0, 0, 5))
}

func TestWrapLongitude(t *testing.T) {
	assert.InDelta(t, -170, WrapLongitude(190), 1e-9)
	assert.InDelta(t, 170, WrapLongitude(-190), 1e-9)
	assert.InDelta(t, -180, WrapLongitude(180), 1e-9)
	assert.InDelta(t, 10, WrapLongitude(10), 1e-9)
}

func TestEvent_Origin(t *testing.T) {
	e := Event{Region: "X", Lat: 1, Lon: 2, Magnitude: 4.2, Time: time.Unix(0, 0).UTC()}
	o := e.Origin()
	assert.Equal(t, "X", o.Region)
	assert.Equal(t, 4.2, o.Magnitude)
}
