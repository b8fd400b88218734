package app

import "math"

// NormalizeVolume maps the magnitude of a negative dB reading onto [0,1]
// between the calibration bounds minDb < maxDb. Values beyond the bounds saturate.
func NormalizeVolume(rawMagnitude, minDb, maxDb float64) float64 {
	return clamp01((-rawMagnitude - minDb) / (maxDb - minDb))
}

// NormalizeSignalStrength maps the 0 (none) / 1 (fair) / 2 (good) level onto [0,1].
func NormalizeSignalStrength(rawLevel float64) float64 {
	return clamp01(rawLevel / 2)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
