package flight

import "math"

const (
	earthRadiusKm = 6371.0
	kmToNM        = 0.539957
)

// DistanceNM returns the great-circle distance between two points in
// nautical miles.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusKm * c * kmToNM
}

// BearingDeg returns the initial true course from the first point to the
// second, normalized to [0, 360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(rlat2)
	x := math.Cos(rlat1)*math.Sin(rlat2) - math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(dLon)
	return NormalizeHeading(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeHeading wraps h into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
