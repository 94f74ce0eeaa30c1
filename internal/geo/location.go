package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// earthRadiusKM is the approximate radius of the earth.
const earthRadiusKM = 6373.0

// Location is a lat/lng pair. Clients send it either as a two-element
// array or as a {"lat":..,"lng":..} object; both decode into this type.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UnmarshalJSON accepts both wire encodings.
func (l *Location) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) < 2 {
			return fmt.Errorf("location array needs 2 elements, got %d", len(arr))
		}
		l.Lat, l.Lng = arr[0], arr[1]
		return nil
	}

	var obj struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unparseable location %q: %w", string(data), err)
	}
	l.Lat, l.Lng = obj.Lat, obj.Lng
	return nil
}

// ParseLocation decodes a serialised location (array or object form).
func ParseLocation(raw string) (Location, error) {
	var l Location
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return Location{}, err
	}
	return l, nil
}

// String returns the object encoding, which is also what gets stored in
// the softban_location column.
func (l Location) String() string {
	b, _ := json.Marshal(l)
	return string(b)
}

// DistanceMeters returns the great-circle distance between two points,
// haversine on a sphere of radius 6373 km.
func DistanceMeters(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lon1 := a.Lng * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	lon2 := b.Lng * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKM * c * 1000
}
