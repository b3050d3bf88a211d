// Package geo computes travel distances between station coordinates.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair above 1 for antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Distance returns the distance between two optional points. ok is false when
// either point is missing; callers must store "unknown" rather than zero.
func Distance(a, b *Point) (km float64, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return HaversineKm(*a, *b), true
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
