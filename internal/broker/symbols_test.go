package broker

import (
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

func TestBuildOptionSymbol(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		under  string
		right  models.OptionRight
		strike float64
		want   string
	}{
		{"whole put", "SPY", models.RightPut, 600, "SPY261016P00600000"},
		{"whole call", "SPY", models.RightCall, 660, "SPY261016C00660000"},
		{"half dollar", "QQQ", models.RightCall, 512.5, "QQQ261016C00512500"},
		{"lowercase underlying", "spy", models.RightPut, 600, "SPY261016P00600000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildOptionSymbol(tt.under, expiry, tt.right, tt.strike)
			if err != nil {
				t.Fatalf("BuildOptionSymbol failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := BuildOptionSymbol("SPY", expiry, "X", 600); err == nil {
		t.Error("expected error for invalid right")
	}
	if _, err := BuildOptionSymbol("SPY", expiry, models.RightPut, -1); err == nil {
		t.Error("expected error for negative strike")
	}
}

func TestParseOptionSymbolRoundTrip(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	for _, strike := range []float64{600, 512.5, 1234.567} {
		symbol, err := BuildOptionSymbol("SPY", expiry, models.RightCall, strike)
		if err != nil {
			t.Fatalf("build %.3f: %v", strike, err)
		}
		parsed, err := ParseOptionSymbol(symbol)
		if err != nil {
			t.Fatalf("parse %q: %v", symbol, err)
		}
		if parsed.Underlying != "SPY" || parsed.Strike != strike || parsed.Right != models.RightCall {
			t.Errorf("round trip %q = %+v", symbol, parsed)
		}
		if !parsed.Expiry.Equal(expiry) {
			t.Errorf("expiry = %v, want %v", parsed.Expiry, expiry)
		}
	}
}

func TestParseOptionSymbolRejectsGarbage(t *testing.T) {
	for _, symbol := range []string{"", "SPY", "SPY261016X00600000", "SPY2610AAP00600000", "261016P00600000"} {
		if _, err := ParseOptionSymbol(symbol); err == nil {
			t.Errorf("expected error for %q", symbol)
		}
	}
}

func TestParseExpiryFormats(t *testing.T) {
	want := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"20261016", "2026-10-16"} {
		got, err := parseExpiry(raw)
		if err != nil {
			t.Fatalf("parseExpiry(%q): %v", raw, err)
		}
		if !got.Equal(want) {
			t.Errorf("parseExpiry(%q) = %v", raw, got)
		}
	}
	if _, err := parseExpiry("10/16/2026"); err == nil {
		t.Error("expected error for US-style date")
	}
}
