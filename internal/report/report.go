// Package report renders operator-facing console tables for portfolio,
// reconciliation, and account state.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// Portfolio prints the capital snapshot, tier utilization, and every open
// position.
func Portfolio(w io.Writer, alloc *allocator.Allocator, snapshot *allocator.PortfolioSnapshot, positions []models.Position) {
	fmt.Fprintf(w, "\nPortfolio: capital $%.2f, deployed $%.2f (%.1f%%), idle $%.2f\n",
		snapshot.Capital, snapshot.TotalDeployed, snapshot.UtilizationPct, snapshot.IdleCash)
	fmt.Fprintf(w, "Greeks: delta %.2f, gamma %.4f, theta %.2f, vega %.2f | daily budget remaining $%.2f\n",
		snapshot.Greeks.Delta, snapshot.Greeks.Gamma, snapshot.Greeks.Theta, snapshot.Greeks.Vega, snapshot.DailyRemaining)

	tiers := tablewriter.NewWriter(w)
	tiers.Header("Tier", "Budget", "Deployed", "Headroom")
	for _, tier := range alloc.Tiers() {
		budget := alloc.TierBudget(tier)
		deployed := snapshot.TierDeployed[tier]
		tiers.Append(
			string(tier),
			fmt.Sprintf("$%.2f", budget),
			fmt.Sprintf("$%.2f", deployed),
			fmt.Sprintf("$%.2f", budget-deployed),
		)
	}
	tiers.Render()

	open := make([]models.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.Status == models.StatusOpen {
			open = append(open, pos)
		}
	}
	if len(open) == 0 {
		fmt.Fprintln(w, "No open positions.")
		return
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Structure", "Qty", "Entry", "DTE", "Max Risk", "IB Value", "IB PnL", "Warning")
	now := time.Now().UTC()
	for _, pos := range open {
		entry := pos.EntryCredit
		side := "cr"
		if !pos.IsCredit() {
			entry = pos.EntryCost
			side = "db"
		}
		table.Append(
			pos.ID,
			string(pos.Structure),
			fmt.Sprintf("%d", pos.Quantity),
			fmt.Sprintf("%.2f %s", entry, side),
			fmt.Sprintf("%d", pos.DTE(now)),
			fmt.Sprintf("$%.2f", pos.MaxRisk),
			fmt.Sprintf("$%.2f", pos.BrokerMarketValue),
			fmt.Sprintf("$%.2f", pos.BrokerUnrealizedPnL),
			pos.SyncWarning,
		)
	}
	table.Render()
}

// Reconciliation prints a drift report from one reconcile pass.
func Reconciliation(w io.Writer, rep *reconcile.Report) {
	diff := rep.Diff
	fmt.Fprintf(w, "\nReconciliation at %s: matched %d, mismatched %d, local-only %d, broker-only %d\n",
		rep.RunAt.Format(time.RFC3339), len(diff.Matched), len(diff.Mismatched), len(diff.LocalOnly), len(diff.BrokerOnly))
	if diff.Clean() {
		fmt.Fprintln(w, "Ledger and broker agree.")
		return
	}

	if len(diff.Mismatched) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Position", "Local Strikes", "Broker Strikes")
		for _, mm := range diff.Mismatched {
			table.Append(mm.Position.ID, fmt.Sprintf("%v", mm.LocalStrikes), fmt.Sprintf("%v", mm.BrokerStrikes))
		}
		table.Render()
	}
	if len(diff.LocalOnly) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Local-Only Position", "Symbol", "Expiry", "Warning")
		for _, pos := range diff.LocalOnly {
			table.Append(pos.ID, pos.Symbol, pos.Expiration.Format("2006-01-02"), reconcile.WarningNotFound)
		}
		table.Render()
	}
	if len(diff.BrokerOnly) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Broker-Only Group", "Legs", "Market Value", "Unrealized")
		for _, group := range diff.BrokerOnly {
			table.Append(group.Key.String(), fmt.Sprintf("%d", len(group.Legs)),
				fmt.Sprintf("$%.2f", group.MarketValue), fmt.Sprintf("$%.2f", group.UnrealizedPnL))
		}
		table.Render()
	}
	for _, entry := range rep.ChangeLog {
		fmt.Fprintf(w, "  %s\n", entry)
	}
}

// Account prints the broker account summary.
func Account(w io.Writer, summary *broker.AccountSummary) {
	table := tablewriter.NewWriter(w)
	table.Header("Net Liq", "Available", "Buying Power", "Init Margin", "Maint Margin", "Excess Liq")
	table.Append(
		fmt.Sprintf("$%.2f", summary.NetLiquidation),
		fmt.Sprintf("$%.2f", summary.AvailableFunds),
		fmt.Sprintf("$%.2f", summary.BuyingPower),
		fmt.Sprintf("$%.2f", summary.InitMarginReq),
		fmt.Sprintf("$%.2f", summary.MaintMarginReq),
		fmt.Sprintf("$%.2f", summary.ExcessLiquidity),
	)
	table.Render()
}

// Statistics prints trade statistics from the ledger.
func Statistics(w io.Writer, stats *storage.Statistics) {
	fmt.Fprintf(w, "\nTrades %d (W %d / L %d, %.1f%% win rate), total P&L $%.2f\n",
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades, stats.WinRate*100, stats.TotalPnL)
	fmt.Fprintf(w, "Avg win $%.2f, avg loss $%.2f, max drawdown $%.2f, streak %d\n",
		stats.AverageWin, stats.AverageLoss, stats.MaxDrawdown, stats.CurrentStreak)
	if len(stats.ByStructure) == 0 {
		return
	}

	structures := make([]models.Structure, 0, len(stats.ByStructure))
	for s := range stats.ByStructure {
		structures = append(structures, s)
	}
	sort.Slice(structures, func(i, j int) bool { return structures[i] < structures[j] })

	table := tablewriter.NewWriter(w)
	table.Header("Structure", "Closed Trades")
	for _, s := range structures {
		table.Append(string(s), fmt.Sprintf("%d", stats.ByStructure[s]))
	}
	table.Render()
}
