// Package models provides the data structures shared by the compiler,
// allocator, execution pipeline, and reconciliation engine.
package models

import "fmt"

// Structure identifies one of the supported multi-leg trade shapes.
// The set is closed: every dispatch site switches exhaustively over these
// constants and treats anything else as an error.
type Structure string

const (
	StructureIronCondor      Structure = "IRON_CONDOR"
	StructureCallDebitSpread Structure = "CALL_DEBIT_SPREAD"
	StructurePutDebitSpread  Structure = "PUT_DEBIT_SPREAD"
	StructureBullPutSpread   Structure = "BULL_PUT_SPREAD"
	StructureBearCallSpread  Structure = "BEAR_CALL_SPREAD"
	StructureLongCall        Structure = "LONG_CALL"
	StructureLongPut         Structure = "LONG_PUT"
	StructureCallRatioSpread Structure = "CALL_RATIO_SPREAD"
	StructureBrokenWingFly   Structure = "BROKEN_WING_BUTTERFLY"
	StructureShortIronCondor Structure = "SHORT_IRON_CONDOR"
	StructureIronButterfly   Structure = "IRON_BUTTERFLY"

	// StructureCustom marks imported broker positions whose leg pattern
	// matched none of the known shapes. It is never a compiler input.
	StructureCustom Structure = "CUSTOM"
)

// AllStructures lists every tradeable structure (excludes CUSTOM).
var AllStructures = []Structure{
	StructureIronCondor,
	StructureCallDebitSpread,
	StructurePutDebitSpread,
	StructureBullPutSpread,
	StructureBearCallSpread,
	StructureLongCall,
	StructureLongPut,
	StructureCallRatioSpread,
	StructureBrokenWingFly,
	StructureShortIronCondor,
	StructureIronButterfly,
}

// Valid reports whether s is a tradeable structure tag.
func (s Structure) Valid() bool {
	for _, known := range AllStructures {
		if s == known {
			return true
		}
	}
	return false
}

// Prefix returns the short identifier used when building position IDs,
// e.g. "IC-SPY-20260830".
func (s Structure) Prefix() string {
	switch s {
	case StructureIronCondor:
		return "IC"
	case StructureCallDebitSpread:
		return "CDS"
	case StructurePutDebitSpread:
		return "PDS"
	case StructureBullPutSpread:
		return "BPS"
	case StructureBearCallSpread:
		return "BCS"
	case StructureLongCall:
		return "LC"
	case StructureLongPut:
		return "LP"
	case StructureCallRatioSpread:
		return "CRS"
	case StructureBrokenWingFly:
		return "BWB"
	case StructureShortIronCondor:
		return "SIC"
	case StructureIronButterfly:
		return "IB"
	case StructureCustom:
		return "X"
	default:
		return "UNK"
	}
}

// String implements fmt.Stringer.
func (s Structure) String() string {
	return string(s)
}

// ParseStructure validates a raw tag, returning an error for anything
// outside the closed set.
func ParseStructure(raw string) (Structure, error) {
	s := Structure(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown structure tag %q", raw)
	}
	return s, nil
}
