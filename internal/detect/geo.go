package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	earthRadiusKm = 6371.0

	// DefaultMaxSpeedKmh is roughly commercial flight speed.
	DefaultMaxSpeedKmh = 900.0

	// JitterKm is the positioning noise tolerated between two fixes.
	// Movement up to this distance is never impossible travel.
	JitterKm = 1.0
)

// GeoSignal is the result of comparing two consecutive located events.
type GeoSignal struct {
	DistanceKm   float64 `json:"distanceKm"`
	ElapsedHours float64 `json:"elapsedHours"`
	SpeedKmh     float64 `json:"speedKmh"`
	Impossible   bool    `json:"impossible"`
}

// GeoAnomaly flags travel between prev and curr that would require an
// average speed above maxSpeedKmh. Events without a location yield a zero
// signal. Zero elapsed time is impossible once the distance exceeds JitterKm.
func GeoAnomaly(prev, curr *domain.Event, maxSpeedKmh float64) GeoSignal {
	var sig GeoSignal
	if prev == nil || curr == nil || prev.Geo == nil || curr.Geo == nil {
		return sig
	}
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = DefaultMaxSpeedKmh
	}

	sig.DistanceKm = HaversineKm(prev.Geo.Latitude, prev.Geo.Longitude, curr.Geo.Latitude, curr.Geo.Longitude)
	sig.ElapsedHours = math.Abs(curr.Timestamp.Sub(prev.Timestamp).Hours())

	if sig.ElapsedHours == 0 {
		sig.Impossible = sig.DistanceKm > JitterKm
		return sig
	}
	sig.SpeedKmh = sig.DistanceKm / sig.ElapsedHours
	sig.Impossible = sig.DistanceKm > JitterKm && sig.SpeedKmh > maxSpeedKmh
	return sig
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Signal converts the geo result to an anomaly signal.
func (g GeoSignal) Signal(weight float64) domain.Signal {
	s := domain.Signal{
		Kind:      domain.SignalGeo,
		Name:      "impossible_travel",
		Triggered: g.Impossible,
		Value:     g.SpeedKmh,
	}
	if g.Impossible {
		s.Weight = weight
		s.Description = fmt.Sprintf("%.0f km in %.2f h", g.DistanceKm, g.ElapsedHours)
	}
	return s
}
