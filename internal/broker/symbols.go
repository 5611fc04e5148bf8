package broker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// strikeEpsilon absorbs floating point error when scaling strikes to the
// OCC's thousandths encoding.
const strikeEpsilon = 1e-9

// ParsedOption is the result of decoding one OCC/OSI option symbol.
type ParsedOption struct {
	Underlying string
	Expiry     time.Time
	Right      models.OptionRight
	Strike     float64
}

// BuildOptionSymbol encodes an option contract in OCC format:
// underlying + YYMMDD + C/P + strike in thousandths, zero-padded to 8 digits.
// Example: SPY261016P00600000.
func BuildOptionSymbol(underlying string, expiry time.Time, right models.OptionRight, strike float64) (string, error) {
	if underlying == "" {
		return "", fmt.Errorf("option symbol missing underlying")
	}
	if right != models.RightCall && right != models.RightPut {
		return "", fmt.Errorf("option symbol invalid right %q", right)
	}
	if strike <= 0 {
		return "", fmt.Errorf("option symbol invalid strike %.4f", strike)
	}
	strikeInt := int(math.Round(strike*1000 + strikeEpsilon))
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiry.Format("060102"), right, strikeInt), nil
}

// ParseOptionSymbol decodes an OCC symbol back into its parts.
func ParseOptionSymbol(symbol string) (*ParsedOption, error) {
	s := strings.TrimSpace(symbol)
	// underlying (>=1 char) + 6-digit date + right + 8-digit strike
	if len(s) < 16 {
		return nil, fmt.Errorf("option symbol %q too short", symbol)
	}

	strikePart := s[len(s)-8:]
	if !isAllDigits(strikePart) {
		return nil, fmt.Errorf("option symbol %q has invalid strike encoding", symbol)
	}
	strikeInt, err := strconv.Atoi(strikePart)
	if err != nil {
		return nil, fmt.Errorf("option symbol %q strike: %w", symbol, err)
	}

	rightChar := s[len(s)-9]
	var right models.OptionRight
	switch rightChar {
	case 'C':
		right = models.RightCall
	case 'P':
		right = models.RightPut
	default:
		return nil, fmt.Errorf("option symbol %q has invalid right %q", symbol, string(rightChar))
	}

	datePart := s[len(s)-15 : len(s)-9]
	if !isAllDigits(datePart) {
		return nil, fmt.Errorf("option symbol %q has invalid expiry encoding", symbol)
	}
	expiry, err := time.Parse("060102", datePart)
	if err != nil {
		return nil, fmt.Errorf("option symbol %q expiry: %w", symbol, err)
	}

	underlying := s[:len(s)-15]
	if underlying == "" {
		return nil, fmt.Errorf("option symbol %q missing underlying", symbol)
	}

	return &ParsedOption{
		Underlying: underlying,
		Expiry:     expiry,
		Right:      right,
		Strike:     float64(strikeInt) / 1000.0,
	}, nil
}

// parseExpiry accepts both the ISO date and the broker-native YYYYMMDD form.
func parseExpiry(raw string) (time.Time, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", raw)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
