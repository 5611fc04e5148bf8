package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"rounds down below midpoint", 1.2345, 0.01, 1.23},
		{"midpoint goes away from zero", 1.235, 0.01, 1.24},
		{"negative midpoint goes away from zero", -1.235, 0.01, -1.24},
		{"negative rounds toward zero below midpoint", -1.2345, 0.01, -1.23},
		{"nickel tick", 1.27, 0.05, 1.25},
		{"already on tick", 1.25, 0.05, 1.25},
		{"negative tick treated as magnitude", 1.235, -0.01, 1.24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"exact multiple survives division error", 1.30, 0.05, 1.30},
		{"just under a boundary stays below", 1.2999999999999, 0.05, 1.25},
		{"just over a boundary stays at it", 1.2500000000001, 0.05, 1.25},
		{"plain floor", 1.237, 0.01, 1.23},
		{"negative floors away from zero", -1.237, 0.01, -1.24},
		{"negative exact multiple", -1.25, 0.05, -1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloorToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("FloorToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestCeilToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"exact multiple survives division error", 1.30, 0.05, 1.30},
		{"just over a boundary rounds up", 1.2500000000001, 0.05, 1.30},
		{"just under a boundary rounds up to it", 1.2999999999999, 0.05, 1.30},
		{"plain ceil", 1.231, 0.01, 1.24},
		{"negative ceils toward zero", -1.231, 0.01, -1.23},
		{"negative exact multiple", -1.25, 0.05, -1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CeilToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("CeilToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestTickGuards(t *testing.T) {
	t.Run("zero tick is identity", func(t *testing.T) {
		for _, fn := range []func(float64, float64) float64{RoundToTick, FloorToTick, CeilToTick} {
			if got := fn(1.2345, 0); got != 1.2345 {
				t.Errorf("zero tick changed %v to %v", 1.2345, got)
			}
		}
	})
	t.Run("NaN passes through", func(t *testing.T) {
		for _, fn := range []func(float64, float64) float64{RoundToTick, FloorToTick, CeilToTick} {
			if got := fn(math.NaN(), 0.01); !math.IsNaN(got) {
				t.Errorf("NaN input produced %v", got)
			}
		}
	})
	t.Run("infinity passes through", func(t *testing.T) {
		for _, fn := range []func(float64, float64) float64{RoundToTick, FloorToTick, CeilToTick} {
			if got := fn(math.Inf(1), 0.01); !math.IsInf(got, 1) {
				t.Errorf("+Inf input produced %v", got)
			}
			if got := fn(math.Inf(-1), 0.01); !math.IsInf(got, -1) {
				t.Errorf("-Inf input produced %v", got)
			}
		}
	})
}
