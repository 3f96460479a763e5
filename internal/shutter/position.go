package shutter

import "math"

// ToHubPercent converts a device fraction (0 open, 1 closed) to a hub
// percentage (100 open, 0 closed).
func ToHubPercent(raw float64) int {
	p := math.Round(100 - raw*100)
	if math.IsNaN(p) {
		return FullClosePosition
	}
	return int(math.Min(math.Max(p, FullClosePosition), FullOpenPosition))
}

// ToDeviceFraction is the inverse of ToHubPercent.
func ToDeviceFraction(percent int) float64 {
	f := float64(100-percent) / 100
	return math.Min(math.Max(f, 0), 1)
}

func Clamp(percent int) int {
	if percent < FullClosePosition {
		return FullClosePosition
	}
	if percent > FullOpenPosition {
		return FullOpenPosition
	}
	return percent
}

// Difference returns the absolute distance between two positions.
func Difference(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d
}

// Snap returns target when position lies within tolerance of it.
func Snap(position, target, tolerance int) int {
	if Difference(position, target) <= tolerance {
		return target
	}
	return position
}

// SnapToEnds pulls a position onto the fully open or fully closed end
// when it is within tolerance of it.
func SnapToEnds(position, tolerance int) int {
	if Difference(position, FullOpenPosition) <= tolerance {
		return FullOpenPosition
	}
	if Difference(position, FullClosePosition) <= tolerance {
		return FullClosePosition
	}
	return position
}
