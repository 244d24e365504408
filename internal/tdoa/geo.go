package tdoa

import (
	"math"

	"github.com/couchcryptid/seismic-locator/internal/domain"
)

// EarthRadius is the mean radius in km.
const EarthRadius = 6371.0

// Frame is an equirectangular tangent plane centred on a reference point.
// It assumes station spacing is small next to the Earth's radius.
type Frame struct {
	RefLat float64 `json:"ref_lat"`
	RefLon float64 `json:"ref_lon"`
}

// NewFrame centres a frame on the mean latitude and longitude of stations.
func NewFrame(stations []domain.Station) Frame {
	if len(stations) == 0 {
		return Frame{}
	}
	var f Frame
	for _, s := range stations {
		f.RefLat += s.Lat
		f.RefLon += s.Lon
	}
	f.RefLat /= float64(len(stations))
	f.RefLon /= float64(len(stations))
	return f
}

// ToLocal projects a geographic point to x east and y north, in km.
func (f Frame) ToLocal(lat, lon float64) (x, y float64) {
	x = EarthRadius * radians(lon-f.RefLon) * math.Cos(radians(f.RefLat))
	y = EarthRadius * radians(lat-f.RefLat)
	return x, y
}

// ToGeographic inverts ToLocal.
func (f Frame) ToGeographic(x, y float64) (lat, lon float64) {
	lat = f.RefLat + degrees(y/EarthRadius)
	lon = f.RefLon + degrees(x/(EarthRadius*math.Cos(radians(f.RefLat))))
	return lat, lon
}

// Observation places st in the frame with the given arrival.
func (f Frame) Observation(st domain.Station, arrival float64) domain.StationObservation {
	x, y := f.ToLocal(st.Lat, st.Lon)
	return domain.StationObservation{Station: st, X: x, Y: y, Arrival: arrival}
}

// Geolocate fills in Lat and Lon from the planar solution.
func (f Frame) Geolocate(e domain.Epicenter) domain.Epicenter {
	e.Lat, e.Lon = f.ToGeographic(e.X, e.Y)
	return e
}

// Haversine returns the great-circle distance in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
