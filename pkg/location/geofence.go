package location

import "math"

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// IsInLocation reports whether the current point lies within radiusMeters of
// the base point. The boundary counts as inside.
func IsInLocation(baseLat, baseLon, curLat, curLon, radiusMeters float64) bool {
	return DistanceKm(baseLat, baseLon, curLat, curLon)-radiusMeters/1000 <= 0
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
