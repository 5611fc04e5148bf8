package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/dashboard"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/report"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// Opportunity is one scan result from the signal collaborator: the signal
// context plus a fully-priced trade candidate.
type Opportunity struct {
	Signals      allocator.SignalSet
	SignalSystem string
	Candidate    *models.TradeCandidate
}

// SignalSource produces trade opportunities. Signal generation is external
// to this system; the bot only sizes, gates, and executes what it is handed.
type SignalSource interface {
	Scan(ctx context.Context) ([]Opportunity, error)
}

// noopSource is the default source when no signal collaborator is wired in.
type noopSource struct{}

func (*noopSource) Scan(context.Context) ([]Opportunity, error) { return nil, nil }

// Bot owns the long-running loops and their collaborators.
type Bot struct {
	config    *config.Config
	gateway   broker.Gateway
	store     storage.Interface
	allocator *allocator.Allocator
	pipeline  *pipeline.Pipeline
	engine    *reconcile.Engine
	closer    *retry.Client
	dashboard *dashboard.Server
	source    SignalSource
	logger    *log.Logger
}

// SetSignalSource replaces the opportunity source; call before Run.
func (b *Bot) SetSignalSource(source SignalSource) {
	if source != nil {
		b.source = source
	}
}

func (b *Bot) runTradingCycle(ctx context.Context) {
	now := time.Now()
	if !b.config.IsWithinTradingHours(now) {
		b.logger.Printf("Outside trading hours (%s - %s), skipping cycle",
			b.config.Schedule.TradingStart, b.config.Schedule.TradingEnd)
		return
	}

	b.logger.Println("Starting trading cycle...")

	b.closeExpiring(ctx, now)
	b.openOpportunities(ctx, now)

	snapshot := b.allocator.Snapshot(b.store.GetAllPositions(),
		b.store.GetDailyDeployed(now.UTC().Format("2006-01-02")))
	report.Portfolio(os.Stdout, b.allocator, snapshot, b.store.GetAllPositions())

	b.logger.Println("Trading cycle complete")
}

// closeExpiring exits positions at or past expiration. Discretionary exits
// are the signal collaborator's call; expiry is not.
func (b *Bot) closeExpiring(ctx context.Context, now time.Time) {
	for _, pos := range b.store.GetOpenPositions() {
		if pos.DTE(now) > 0 {
			continue
		}
		b.logger.Printf("Position %s at expiration, closing", pos.ID)
		if _, err := b.closer.ClosePositionWithRetry(ctx, pos, "expiration", 0); err != nil {
			b.logger.Printf("Failed to close %s: %v", pos.ID, err)
		}
	}
}

func (b *Bot) openOpportunities(ctx context.Context, now time.Time) {
	opportunities, err := b.source.Scan(ctx)
	if err != nil {
		b.logger.Printf("Signal scan failed: %v", err)
		return
	}
	if len(opportunities) == 0 {
		b.logger.Println("No opportunities this cycle")
		return
	}

	today := now.UTC().Format("2006-01-02")
	for _, opp := range opportunities {
		budget, err := b.allocator.Allocate(allocator.Request{
			Signals:       opp.Signals,
			Positions:     b.store.GetAllPositions(),
			SignalSystem:  opp.SignalSystem,
			DailyDeployed: b.store.GetDailyDeployed(today),
		})
		if err != nil {
			var rejection *allocator.RejectionError
			if errors.As(err, &rejection) {
				b.logger.Printf("Allocation rejected for %s: %v", opp.Candidate.Symbol, rejection.Reasons)
				continue
			}
			b.logger.Printf("Allocation failed for %s: %v", opp.Candidate.Symbol, err)
			continue
		}
		b.logger.Printf("Allocated $%.2f (%s signal) for %s %s",
			budget.Amount, budget.SignalStrength, opp.Candidate.Structure, opp.Candidate.Symbol)

		pos, err := b.pipeline.Open(ctx, opp.Candidate, budget)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrMarginBlocked),
				errors.Is(err, pipeline.ErrPositionLimit),
				errors.Is(err, pipeline.ErrOrderTimeout):
				b.logger.Printf("Open rejected for %s: %v", opp.Candidate.Symbol, err)
			default:
				b.logger.Printf("Open failed for %s: %v", opp.Candidate.Symbol, err)
			}
			continue
		}
		b.logger.Printf("Opened %s", pos.ID)
	}
}

func (b *Bot) runReconcile(ctx context.Context) {
	rep, err := b.engine.Reconcile(ctx)
	if err != nil {
		b.logger.Printf("Reconciliation failed: %v", err)
		return
	}
	report.Reconciliation(os.Stdout, rep)
}
