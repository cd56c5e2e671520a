// Package convert centralizes the unit derivations used by the collectors so
// every sensor reports with the same rounding rules.
package convert

import "math"

const (
	gib = 1024 * 1024 * 1024
	tib = 1024 * 1024 * 1024 * 1024
)

// round2 rounds to 2 decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round1 rounds to 1 decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// BytesToGiB converts a byte count to GiB rounded to 2 decimals. Non-positive
// input yields 0.
func BytesToGiB(b int64) float64 {
	if b <= 0 {
		return 0
	}
	return round2(float64(b) / gib)
}

// KilobytesToTB converts a KiB count to TB rounded to 2 decimals, matching
// the array capacity display (KiB / 1024^3).
func KilobytesToTB(kb float64) float64 {
	if kb <= 0 {
		return 0
	}
	return round2(kb / gib)
}

// SectorsToTB converts a 1024-byte sector count to decimal TB rounded to
// 2 decimals, as used for parity and data disk sizes.
func SectorsToTB(sectors int64) float64 {
	if sectors <= 0 {
		return 0
	}
	return round2(float64(sectors) * 1024 / 1e12)
}

// MillidegreesToCelsius converts a millidegree reading to °C rounded to
// 1 decimal place.
func MillidegreesToCelsius(md int64) float64 {
	return round1(float64(md) / 1000)
}

// Percent computes used/total as a percentage rounded to 2 decimals.
// A non-positive total yields 0.
func Percent(used, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(used / total * 100)
}
