// Package util holds tick-size arithmetic for option limit prices. Brokers
// reject limits that are not a whole number of ticks, so every price that
// leaves this process goes through one of these helpers first.
package util

import "math"

// tickEpsilon absorbs float64 division error so that exact tick multiples
// are not pushed across a boundary. It is far smaller than any real tick.
const tickEpsilon = 1e-12

// RoundToTick rounds x to the nearest tick, ties away from zero. A zero,
// NaN, or infinite input comes back unchanged; a negative tick is treated
// as its magnitude.
func RoundToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to a tick multiple. Used for sell limits, where
// rounding down can only make the order easier to fill.
func FloorToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(x/tick+tickEpsilon) * tick
}

// CeilToTick rounds x up to a tick multiple. Used for buy limits, the
// mirror of FloorToTick.
func CeilToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Ceil(x/tick-tickEpsilon) * tick
}
