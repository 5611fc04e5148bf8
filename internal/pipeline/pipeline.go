// Package pipeline orchestrates the compiler, broker gateway, and ledger for
// order execution. One invocation handles one candidate; invocations are
// sequential, never concurrent, against a single gateway.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/compiler"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// Sentinel errors for the pipeline's rejection paths. All are recoverable at
// the candidate level: the caller can retry later with fresh state.
var (
	ErrPositionLimit = errors.New("open position limit reached")
	ErrMarginBlocked = errors.New("margin impact exceeds limit")
	ErrOrderTimeout  = errors.New("order timed out and was cancelled")
	ErrOrderRejected = errors.New("broker rejected order")
)

// Config holds the pipeline's execution parameters.
type Config struct {
	// MaxOpenPositions counts broker (symbol, expiry) groups, not raw legs.
	MaxOpenPositions int
	// MarginFraction is the margin gate: block when the preview's initial
	// margin change exceeds this fraction of available funds.
	MarginFraction float64
	// CloseLimit is the best-effort limit price for closing orders.
	CloseLimit float64
	// Tick is the price increment closing limits are rounded to.
	Tick float64
}

// DefaultConfig mirrors the production gate parameters.
var DefaultConfig = Config{
	MaxOpenPositions: 10,
	MarginFraction:   0.5,
	CloseLimit:       0.01,
	Tick:             0.01,
}

// Pipeline executes approved candidates and closes ledger positions.
type Pipeline struct {
	gateway broker.Gateway
	store   storage.Interface
	logger  *log.Logger
	config  Config
	now     func() time.Time
}

// New creates a pipeline. Config values that are zero or negative fall back
// to DefaultConfig.
func New(gateway broker.Gateway, store storage.Interface, logger *log.Logger, config ...Config) *Pipeline {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(os.Stderr, "pipeline: ", log.LstdFlags)
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = DefaultConfig.MaxOpenPositions
	}
	if cfg.MarginFraction <= 0 {
		cfg.MarginFraction = DefaultConfig.MarginFraction
	}
	if cfg.CloseLimit <= 0 {
		cfg.CloseLimit = DefaultConfig.CloseLimit
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig.Tick
	}
	if gateway == nil {
		panic("pipeline.New: gateway must not be nil")
	}
	if store == nil {
		panic("pipeline.New: store must not be nil")
	}
	return &Pipeline{
		gateway: gateway,
		store:   store,
		logger:  logger,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open executes one candidate: position-limit check, compile, margin
// preview, placement, and ledger append. The margin preview strictly
// precedes placement; a MarginBlocked rejection never reaches the broker's
// order endpoint. The budget may be nil when sizing metadata is not needed.
func (p *Pipeline) Open(ctx context.Context, candidate *models.TradeCandidate, budget *allocator.RiskBudget) (*models.Position, error) {
	tracker := models.NewOrderTracker()

	brokerPositions, err := p.gateway.OptionPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: position count: %w", candidate.Symbol, err)
	}
	if n := reconcile.GroupCount(brokerPositions); n >= p.config.MaxOpenPositions {
		return nil, fmt.Errorf("%w: %d groups at broker, max %d", ErrPositionLimit, n, p.config.MaxOpenPositions)
	}

	compiled, err := compiler.Compile(candidate)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", candidate.Symbol, err)
	}
	order := p.toComboOrder(candidate, compiled)

	if err := p.marginGate(ctx, tracker, order); err != nil {
		return nil, err
	}

	result, err := p.gateway.PlaceComboOrder(ctx, order)
	if err != nil {
		p.mustTransition(tracker, models.OrderRejected, "placement_failed")
		return nil, fmt.Errorf("open %s: place order: %w", candidate.Symbol, err)
	}
	p.mustTransition(tracker, models.OrderPlaced, "order_placed")

	switch result.Status {
	case broker.OrderStatusFilled:
		p.mustTransition(tracker, models.OrderFilled, "order_filled")
	case broker.OrderStatusCancelledTimeout:
		p.mustTransition(tracker, models.OrderCancelledTimeout, "fill_timeout")
		return nil, fmt.Errorf("%w: order %s for %s", ErrOrderTimeout, result.OrderID, candidate.Symbol)
	default:
		p.mustTransition(tracker, models.OrderRejected, "broker_rejected")
		return nil, fmt.Errorf("%w: order %s resolved %s", ErrOrderRejected, result.OrderID, result.Status)
	}

	pos := p.buildPosition(candidate, compiled, result, budget)
	if err := p.store.AddPosition(pos); err != nil {
		return nil, fmt.Errorf("open %s: record position: %w", candidate.Symbol, err)
	}
	if pos.MaxRisk > 0 {
		if err := p.store.AddDailyDeployed(pos.EntryDate.Format("2006-01-02"), pos.MaxRisk); err != nil {
			p.logger.Printf("daily deployed update failed for %s: %v", pos.ID, err)
		}
	}
	if err := p.store.Save(); err != nil {
		return &pos, fmt.Errorf("open %s: persist ledger: %w", candidate.Symbol, err)
	}

	p.logger.Printf("opened %s: %s %s x%d at %.2f (commission %.2f)",
		pos.ID, pos.Structure, compiled.Action, pos.Quantity, result.AvgPrice, pos.Commission)
	return &pos, nil
}

// OpenResult pairs one batch candidate with its outcome.
type OpenResult struct {
	Candidate *models.TradeCandidate
	Position  *models.Position
	Err       error
}

// OpenAll processes approved candidates sequentially, continuing past
// individual failures and accumulating every error.
func (p *Pipeline) OpenAll(ctx context.Context, candidates []*models.TradeCandidate, budgets []*allocator.RiskBudget) []OpenResult {
	results := make([]OpenResult, 0, len(candidates))
	for i, candidate := range candidates {
		var budget *allocator.RiskBudget
		if i < len(budgets) {
			budget = budgets[i]
		}
		pos, err := p.Open(ctx, candidate, budget)
		if err != nil {
			p.logger.Printf("open %s failed: %v", candidate.Symbol, err)
		}
		results = append(results, OpenResult{Candidate: candidate, Position: pos, Err: err})
	}
	return results
}

// Close exits a ledger position: reverse every leg, place at a best-effort
// limit, and compute realized P&L from the fill. When the broker is
// unreachable the position is still closed using estimatedPnL, with the exit
// reason marked degraded, so the ledger never holds a live-looking position
// the broker cannot act on.
func (p *Pipeline) Close(ctx context.Context, pos models.Position, exitReason string, estimatedPnL float64) (models.Position, error) {
	if pos.Status == models.StatusClosed {
		return pos, fmt.Errorf("close %s: already closed", pos.ID)
	}

	closeAction := p.entryAction(&pos).Reverse()
	order := broker.ComboOrder{
		Symbol:     pos.Symbol,
		Legs:       p.toComboLegs(pos.Symbol, pos.Expiration, pos.ReverseLegs()),
		Action:     closeAction,
		LimitPrice: p.limitFor(closeAction, p.config.CloseLimit),
		Quantity:   pos.Quantity,
	}

	result, err := p.gateway.PlaceComboOrder(ctx, order)
	if err != nil {
		if broker.IsUnreachable(err) {
			p.logger.Printf("close %s: broker unreachable, recording estimated exit: %v", pos.ID, err)
			return p.closeEstimated(pos, exitReason, estimatedPnL)
		}
		return pos, fmt.Errorf("close %s: place order: %w", pos.ID, err)
	}
	if result.Status != broker.OrderStatusFilled {
		if result.Status == broker.OrderStatusCancelledTimeout {
			return pos, fmt.Errorf("%w: close order %s for %s", ErrOrderTimeout, result.OrderID, pos.ID)
		}
		return pos, fmt.Errorf("%w: close order %s resolved %s", ErrOrderRejected, result.OrderID, result.Status)
	}

	closed, err := pos.Close(exitReason, result.AvgPrice, result.TotalCommission(), p.now())
	if err != nil {
		return pos, err
	}
	if err := p.store.ClosePosition(closed); err != nil {
		return pos, fmt.Errorf("close %s: record exit: %w", pos.ID, err)
	}
	if err := p.store.Save(); err != nil {
		return closed, fmt.Errorf("close %s: persist ledger: %w", pos.ID, err)
	}
	p.logger.Printf("closed %s at %.2f: realized %.2f (%s)", closed.ID, closed.ExitPrice, closed.RealizedPnL, exitReason)
	return closed, nil
}

func (p *Pipeline) closeEstimated(pos models.Position, exitReason string, estimatedPnL float64) (models.Position, error) {
	closed, err := pos.CloseEstimated(exitReason, estimatedPnL, 0, p.now())
	if err != nil {
		return pos, err
	}
	if err := p.store.ClosePosition(closed); err != nil {
		return pos, fmt.Errorf("close %s: record estimated exit: %w", pos.ID, err)
	}
	if err := p.store.Save(); err != nil {
		return closed, fmt.Errorf("close %s: persist ledger: %w", pos.ID, err)
	}
	p.logger.Printf("closed %s (estimated): realized %.2f (%s)", closed.ID, closed.RealizedPnL, closed.ExitReason)
	return closed, nil
}

// marginGate runs the preview-then-commit check. A nil preview means the
// broker could not compute one; that is explicitly non-blocking.
func (p *Pipeline) marginGate(ctx context.Context, tracker *models.OrderTracker, order broker.ComboOrder) error {
	summary, err := p.gateway.AccountSummary(ctx)
	if err != nil {
		return fmt.Errorf("margin gate: account summary: %w", err)
	}

	preview, err := p.gateway.PreviewOrder(ctx, order)
	if err != nil {
		p.mustTransition(tracker, models.OrderRejected, "preview_failed")
		return fmt.Errorf("margin gate: preview: %w", err)
	}
	if preview == nil {
		p.logger.Printf("margin preview unavailable for %s, proceeding without gate", order.Symbol)
		p.mustTransition(tracker, models.OrderMarginChecked, "margin_ok")
		return nil
	}

	limit := p.config.MarginFraction * summary.AvailableFunds
	if preview.InitMarginChange > limit {
		p.mustTransition(tracker, models.OrderRejected, "margin_blocked")
		return fmt.Errorf("%w: init margin change %.2f exceeds %.2f (%.0f%% of %.2f available)",
			ErrMarginBlocked, preview.InitMarginChange, limit, p.config.MarginFraction*100, summary.AvailableFunds)
	}
	p.mustTransition(tracker, models.OrderMarginChecked, "margin_ok")
	return nil
}

func (p *Pipeline) buildPosition(candidate *models.TradeCandidate, compiled *compiler.CompiledOrder, result *broker.OrderResult, budget *allocator.RiskBudget) models.Position {
	entryDate := p.now()
	pos := models.Position{
		ID:              models.PositionID(candidate.Structure, candidate.Symbol, entryDate),
		Symbol:          candidate.Symbol,
		Structure:       candidate.Structure,
		Status:          models.StatusOpen,
		EntryDate:       entryDate,
		Expiration:      candidate.Expiration,
		Legs:            compiled.Legs,
		Commission:      result.TotalCommission(),
		Quantity:        candidate.Fill.Quantity,
		SignalSystem:    candidate.SignalSystem,
		ExecutionMethod: models.ExecutionSystem,
		MaxRisk:         candidate.Fill.MaxRisk,
		MaxProfit:       candidate.Fill.MaxProfit,
		Breakevens:      candidate.Fill.Breakevens,
		Greeks:          candidate.Fill.Greeks,
	}
	// Credit versus debit follows the combo action, not the estimate.
	if compiled.Action == models.ActionSell {
		pos.EntryCredit = result.AvgPrice
	} else {
		pos.EntryCost = result.AvgPrice
	}
	if budget != nil {
		pos.Tier = string(budget.Tier)
	}
	return pos
}

func (p *Pipeline) toComboOrder(candidate *models.TradeCandidate, compiled *compiler.CompiledOrder) broker.ComboOrder {
	return broker.ComboOrder{
		Symbol:     candidate.Symbol,
		Legs:       p.toComboLegs(candidate.Symbol, candidate.Expiration, compiled.Legs),
		Action:     compiled.Action,
		LimitPrice: p.limitFor(compiled.Action, compiled.LimitPrice),
		Quantity:   candidate.Fill.Quantity,
	}
}

// limitFor snaps a limit price to the tick grid, rounding in whichever
// direction makes the order easier to fill.
func (p *Pipeline) limitFor(action models.LegAction, price float64) float64 {
	if action == models.ActionSell {
		return util.FloorToTick(price, p.config.Tick)
	}
	return util.CeilToTick(price, p.config.Tick)
}

func (p *Pipeline) toComboLegs(symbol string, expiration time.Time, legs []models.Leg) []broker.ComboLeg {
	out := make([]broker.ComboLeg, len(legs))
	expiry := expiration.Format("20060102")
	for i, leg := range legs {
		out[i] = broker.ComboLeg{
			Symbol: symbol,
			Expiry: expiry,
			Strike: leg.Strike,
			Right:  leg.Type,
			Action: leg.Action,
			Ratio:  leg.Ratio,
		}
	}
	return out
}

// entryAction recovers the combo action used at entry from the position's
// pricing convention.
func (p *Pipeline) entryAction(pos *models.Position) models.LegAction {
	if pos.IsCredit() {
		return models.ActionSell
	}
	return models.ActionBuy
}

// mustTransition applies a transition that is valid by construction; a
// failure here is a programming error in the pipeline itself.
func (p *Pipeline) mustTransition(tracker *models.OrderTracker, to models.OrderState, condition string) {
	if err := tracker.Transition(to, condition); err != nil {
		panic(fmt.Sprintf("pipeline: %v", err))
	}
}
