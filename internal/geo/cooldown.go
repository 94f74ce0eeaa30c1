package geo

// DefaultWalkSpeed is the speed assumed below the smallest table
// threshold, roughly 60 km/h over distances up to 3 km.
const DefaultWalkSpeed = 16.67

// maxCooldownSeconds caps the wait at two hours.
const maxCooldownSeconds = 7200

// speedStep maps a minimum distance in meters to the assumed travel
// speed in m/s for at least that distance.
type speedStep struct {
	minDistance float64
	speed       float64
}

// speedTable is ordered by descending distance; the first threshold the
// distance meets or exceeds wins. Values are empirical and must not be
// rounded or re-derived.
var speedTable = []speedStep{
	{1335000, 180.43},
	{1100000, 176.2820513},
	{1020000, 168.3168317},
	{1007000, 171.2585034},
	{948000, 166.3157895},
	{900000, 164.8351648},
	{897000, 166.1111111},
	{839000, 158.9015152},
	{802000, 159.1269841},
	{751000, 152.6422764},
	{700000, 151.5151515},
	{650000, 146.3963964},
	{600000, 142.8571429},
	{550000, 138.8888889},
	{500000, 134.4086022},
	{450000, 129.3103448},
	{400000, 123.4567901},
	{350000, 116.6666667},
	{328000, 113.8888889},
	{300000, 108.6956522},
	{250000, 101.6260163},
	{201000, 90.54054054},
	{175000, 85.78431373},
	{150000, 78.125},
	{125000, 71.83908046},
	{100000, 64.1025641},
	{90000, 60},
	{80000, 55.55555556},
	{70000, 50.72463768},
	{60000, 47.61904762},
	{45000, 39.47368421},
	{40000, 35.0877193},
	{35000, 32.40740741},
	{30000, 29.41176471},
	{25000, 27.77777778},
	{20000, 27.77777778},
	{15000, 27.77777778},
	{10000, 23.80952381},
	{8000, 26.66666667},
	{5000, 22.34137623},
	{4000, 22.22222222},
}

// CooldownSeconds returns the wait imposed after moving distanceMeters,
// using defaultSpeed when the distance is below every table threshold.
// The result never exceeds 7200 seconds.
func CooldownSeconds(distanceMeters, defaultSpeed float64) float64 {
	speed := defaultSpeed
	for _, step := range speedTable {
		if distanceMeters >= step.minDistance {
			speed = step.speed
			break
		}
	}
	delay := distanceMeters / speed
	if delay > maxCooldownSeconds {
		delay = maxCooldownSeconds
	}
	return delay
}
