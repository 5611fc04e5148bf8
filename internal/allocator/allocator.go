// Package allocator partitions account capital into tiers and sizes risk
// budgets for new trades. All state is rebuilt from the live position set on
// every call; nothing is incrementally mutated, so a crash or a reconcile
// between calls can never leave the deployed-capital view stale.
package allocator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// Tier names one fixed percentage slice of account capital.
type Tier string

const (
	TierTreasury     Tier = "treasury"
	TierLeaps        Tier = "leaps"
	TierIronCondor   Tier = "iron_condor"
	TierDirectional  Tier = "directional"
	TierMarginBuffer Tier = "margin_buffer"
)

// Signal strength labels derived from the core count.
const (
	StrengthExtreme    = "EXTREME"
	StrengthVeryStrong = "VERY_STRONG"
	StrengthStrong     = "STRONG"
	StrengthModerate   = "MODERATE"
	StrengthWeak       = "WEAK"
)

// Correlation discount parameters: each additional open position from the
// same signal system shaves 30%, floored at 30% of nominal.
const (
	correlationStep = 0.30
	correlationCap  = 0.70
)

// Config carries the allocator's capital partition and risk limits.
type Config struct {
	Capital           float64
	TierPcts          map[Tier]float64
	MaxPortfolioDelta float64
	MaxPortfolioVega  float64
	BaseRiskPct       float64
	MaxRiskPct        float64
	MaxDailyRiskPct   float64
	// Multipliers maps core count to a risk-budget multiplier. Missing
	// counts default to 1.0.
	Multipliers map[int]float64
}

// SignalSet is the external signal collaborator's verdict for one cycle.
type SignalSet struct {
	// Composite is the combined signal label; empty means nothing fired.
	Composite string
	// CoreCount is how many independent signal systems fired.
	CoreCount int
	// Structures are the candidate structures the strategy layer proposes,
	// to be ranked by the selector.
	Structures []models.Structure
}

// Request bundles one allocation attempt.
type Request struct {
	Signals       SignalSet
	Positions     []models.Position
	SignalSystem  string
	DailyDeployed float64
}

// RiskBudget is an approved allocation.
type RiskBudget struct {
	Amount         float64
	Structure      models.Structure
	SignalStrength string
	Tier           Tier
}

// RejectionError lists every failing pre-trade check, not just the first.
type RejectionError struct {
	Reasons []string
}

func (e *RejectionError) Error() string {
	return "allocation rejected: " + strings.Join(e.Reasons, "; ")
}

// StructureSelector ranks candidate structures; the allocator returns the
// top choice. Implementations live with the strategy collaborator.
type StructureSelector interface {
	Rank(candidates []models.Structure) []models.Structure
}

// PortfolioSnapshot is derived from the live position set on demand. It is
// never stored; two calls with the same positions produce the same snapshot.
type PortfolioSnapshot struct {
	Capital        float64          `json:"capital"`
	TotalDeployed  float64          `json:"total_deployed"`
	IdleCash       float64          `json:"idle_cash"`
	UtilizationPct float64          `json:"utilization_pct"`
	TierDeployed   map[Tier]float64 `json:"tiers"`
	Greeks         models.Greeks    `json:"greeks"`
	OpenPositions  int              `json:"open_positions"`
	DailyRemaining float64          `json:"daily_remaining"`
}

// Allocator turns signal sets into approved risk budgets.
type Allocator struct {
	cfg      Config
	selector StructureSelector
}

// New creates an allocator. The selector may be nil, in which case candidate
// structures keep their proposed order.
func New(cfg Config, selector StructureSelector) (*Allocator, error) {
	if cfg.Capital <= 0 {
		return nil, fmt.Errorf("allocator capital %.2f must be positive", cfg.Capital)
	}
	total := 0.0
	for tier, pct := range cfg.TierPcts {
		if pct < 0 || pct > 1 {
			return nil, fmt.Errorf("tier %s percentage %.3f out of [0,1]", tier, pct)
		}
		total += pct
	}
	if total > 1+1e-9 {
		return nil, fmt.Errorf("tier percentages sum to %.3f, must not exceed 1", total)
	}
	if cfg.BaseRiskPct <= 0 || cfg.MaxRiskPct <= 0 || cfg.MaxDailyRiskPct <= 0 {
		return nil, fmt.Errorf("risk percentages must be positive")
	}
	return &Allocator{cfg: cfg, selector: selector}, nil
}

// Allocate sizes a risk budget for the request, or returns a RejectionError
// listing every failed check. The returned budget never exceeds the
// directional tier's headroom or the daily cap, assuming no concurrent
// allocation lands before the resulting position is recorded.
func (a *Allocator) Allocate(req Request) (*RiskBudget, error) {
	deployed, greeks := a.rebuildDeployed(req.Positions)

	var reasons []string
	if req.Signals.Composite == "" {
		reasons = append(reasons, "no composite signal")
	}
	if math.Abs(greeks.Delta) > a.cfg.MaxPortfolioDelta {
		reasons = append(reasons, fmt.Sprintf("portfolio delta %.2f exceeds limit %.2f", greeks.Delta, a.cfg.MaxPortfolioDelta))
	}
	if math.Abs(greeks.Vega) > a.cfg.MaxPortfolioVega {
		reasons = append(reasons, fmt.Sprintf("portfolio vega %.2f exceeds limit %.2f", greeks.Vega, a.cfg.MaxPortfolioVega))
	}
	if len(reasons) > 0 {
		return nil, &RejectionError{Reasons: reasons}
	}

	budget := a.baseBudget(req.Signals.CoreCount)

	// Correlation discount for stacked same-system exposure.
	n := a.countCorrelated(req.Positions, req.SignalSystem)
	discount := math.Min(correlationCap, correlationStep*float64(n))
	budget *= 1 - discount

	// Daily cap.
	dailyRemaining := a.cfg.Capital*a.cfg.MaxDailyRiskPct - req.DailyDeployed
	if dailyRemaining <= 0 {
		return nil, &RejectionError{Reasons: []string{"daily cap reached"}}
	}
	budget = math.Min(budget, dailyRemaining)

	// Tier cap.
	tierAvailable := a.cfg.Capital*a.cfg.TierPcts[TierDirectional] - deployed[TierDirectional]
	if tierAvailable <= 0 {
		return nil, &RejectionError{Reasons: []string{fmt.Sprintf("tier %s exhausted", TierDirectional)}}
	}
	budget = math.Min(budget, tierAvailable)

	return &RiskBudget{
		Amount:         budget,
		Structure:      a.selectStructure(req.Signals.Structures),
		SignalStrength: signalStrength(req.Signals.CoreCount),
		Tier:           TierDirectional,
	}, nil
}

// Snapshot derives the portfolio view from the position set.
func (a *Allocator) Snapshot(positions []models.Position, dailyDeployed float64) *PortfolioSnapshot {
	deployed, greeks := a.rebuildDeployed(positions)

	total := 0.0
	open := 0
	for _, amount := range deployed {
		total += amount
	}
	for i := range positions {
		if positions[i].Status == models.StatusOpen {
			open++
		}
	}

	snapshot := &PortfolioSnapshot{
		Capital:        a.cfg.Capital,
		TotalDeployed:  total,
		IdleCash:       a.cfg.Capital - total,
		TierDeployed:   deployed,
		Greeks:         greeks,
		OpenPositions:  open,
		DailyRemaining: math.Max(0, a.cfg.Capital*a.cfg.MaxDailyRiskPct-dailyDeployed),
	}
	if a.cfg.Capital > 0 {
		snapshot.UtilizationPct = total / a.cfg.Capital * 100
	}
	return snapshot
}

// rebuildDeployed recomputes tier deployment and aggregate Greeks from
// scratch. O(n) and idempotent.
func (a *Allocator) rebuildDeployed(positions []models.Position) (map[Tier]float64, models.Greeks) {
	deployed := make(map[Tier]float64, len(a.cfg.TierPcts))
	for tier := range a.cfg.TierPcts {
		deployed[tier] = 0
	}
	var greeks models.Greeks
	for i := range positions {
		pos := &positions[i]
		if pos.Status != models.StatusOpen {
			continue
		}
		deployed[tierOf(pos)] += pos.MaxRisk
		greeks = greeks.Add(pos.Greeks)
	}
	return deployed, greeks
}

// tierOf maps a position to its capital tier, defaulting by structure when
// the position predates tier tagging.
func tierOf(pos *models.Position) Tier {
	if pos.Tier != "" {
		return Tier(pos.Tier)
	}
	switch pos.Structure {
	case models.StructureIronCondor, models.StructureShortIronCondor, models.StructureIronButterfly:
		return TierIronCondor
	default:
		return TierDirectional
	}
}

func (a *Allocator) baseBudget(coreCount int) float64 {
	base := a.cfg.Capital * a.cfg.BaseRiskPct
	mult, ok := a.cfg.Multipliers[coreCount]
	if !ok {
		mult = 1.0
	}
	return math.Min(base*mult, a.cfg.Capital*a.cfg.MaxRiskPct)
}

// countCorrelated counts OPEN directional-tier positions from the same
// signal system.
func (a *Allocator) countCorrelated(positions []models.Position, signalSystem string) int {
	if signalSystem == "" {
		return 0
	}
	n := 0
	for i := range positions {
		pos := &positions[i]
		if pos.Status == models.StatusOpen && pos.SignalSystem == signalSystem && tierOf(pos) == TierDirectional {
			n++
		}
	}
	return n
}

func (a *Allocator) selectStructure(candidates []models.Structure) models.Structure {
	if len(candidates) == 0 {
		return ""
	}
	if a.selector == nil {
		return candidates[0]
	}
	ranked := a.selector.Rank(candidates)
	if len(ranked) == 0 {
		return candidates[0]
	}
	return ranked[0]
}

func signalStrength(coreCount int) string {
	switch {
	case coreCount >= 5:
		return StrengthExtreme
	case coreCount >= 4:
		return StrengthVeryStrong
	case coreCount >= 3:
		return StrengthStrong
	case coreCount >= 2:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Tiers returns the configured tiers in a stable order for reporting.
func (a *Allocator) Tiers() []Tier {
	tiers := make([]Tier, 0, len(a.cfg.TierPcts))
	for tier := range a.cfg.TierPcts {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// TierBudget returns the dollar cap for one tier.
func (a *Allocator) TierBudget(tier Tier) float64 {
	return a.cfg.Capital * a.cfg.TierPcts[tier]
}
