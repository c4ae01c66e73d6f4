package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/dataapi"
	"github.com/flemosr/polymarket-copytrade/internal/engine"
	"github.com/flemosr/polymarket-copytrade/internal/executor"
	"github.com/flemosr/polymarket-copytrade/internal/gamma"
	"github.com/flemosr/polymarket-copytrade/internal/jsonl"
	"github.com/flemosr/polymarket-copytrade/internal/state"
)

// app wires the clients, the ledger, and the per-run parameters. exec is
// nil in dry-run mode.
type app struct {
	dataClient  *dataapi.Client
	gammaClient *gamma.Client
	exec        *executor.Executor

	st       *state.TradingState
	tradeLog *jsonl.Writer

	trader          string
	traderShort     string
	live            bool
	copyPct         decimal.Decimal
	maxTradePct     decimal.Decimal
	minOrderUSD     decimal.Decimal
	tradeFetchLimit int
}

// pollCycle runs one reconciliation pass. Non-initial cycles bail out early
// when the trader has no unseen trades; the initial cycle always replicates.
func (a *app) pollCycle(ctx context.Context, initial bool) {
	if a.exec != nil {
		a.exec.CheckRestingOrders(ctx, a.st, time.Now())
	}

	trades, err := a.dataClient.GetTrades(ctx, a.trader, a.tradeFetchLimit)
	if err != nil {
		log.Printf("[warn] fetch trades failed: %v", err)
		if !initial {
			return
		}
		// Initial replication proceeds from positions alone.
		trades = nil
	}

	var newHashes []string
	for _, tr := range trades {
		if tr.TransactionHash == "" {
			continue
		}
		if a.st.MarkTradeSeen(tr.TransactionHash) {
			newHashes = append(newHashes, tr.TransactionHash)
		}
	}

	trigger := triggerTradeDetected
	if initial {
		trigger = triggerInitialReplication
	} else if len(newHashes) == 0 {
		return
	}
	if len(newHashes) > 0 {
		log.Printf("detected %d new trade(s) by %s", len(newHashes), a.traderShort)
	}

	positions, err := a.dataClient.GetAllActivePositions(ctx, a.trader)
	if err != nil {
		log.Printf("[warn] fetch positions failed: %v", err)
		return
	}

	activePrices := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		activePrices[p.Asset] = decimal.NewFromFloat(p.CurPrice)
	}

	weights := engine.ComputeWeights(positions)
	runningBudget := a.st.EffectiveCapital(activePrices)
	targets := engine.ComputeTargetState(weights, runningBudget, a.copyPct, a.maxTradePct)

	// The initial pass has nothing to exit; later cycles need a price for
	// every held asset so exits settle at a real quote.
	exitPrices := map[string]decimal.Decimal{}
	if !initial {
		exitPrices, err = a.exitPriceMap(ctx, activePrices)
		if err != nil {
			log.Printf("[warn] exit price lookup failed, deferring cycle: %v", err)
			return
		}
	}

	orders := engine.ComputeOrders(targets, a.st, a.st.BudgetRemaining, exitPrices, a.minOrderUSD)
	log.Printf("cycle (%s): %d position(s), budget $%s, %d order(s)",
		trigger, len(positions), runningBudget.StringFixed(2), len(orders))

	var results []state.ExecutionResult
	if a.exec != nil {
		results = a.exec.ExecuteOrders(ctx, orders)
		a.st.ApplyExecutionResults(orders, results, time.Now())
	} else {
		a.st.ApplyOrders(orders)
	}
	a.st.TotalEvents++

	emitEvent(a.tradeLog, copytradeEvent{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Trigger:          trigger,
		Mode:             copyMode(a.live),
		Trader:           a.trader,
		DetectedTrades:   newHashes,
		Orders:           orders,
		ExecutionResults: results,
		BudgetRemaining:  a.st.BudgetRemaining,
		TotalSpent:       a.st.TotalSpent,
	})
}

// exitPriceMap starts from the trader's active position prices and fills in
// quotes for held assets the trader has already left via the markets API.
// Every held asset must price or the cycle cannot settle exits.
func (a *app) exitPriceMap(ctx context.Context, activePrices map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(activePrices))
	for asset, p := range activePrices {
		prices[asset] = p
	}

	var missing []string
	for _, asset := range a.st.HeldAssets() {
		if _, ok := prices[asset]; !ok {
			missing = append(missing, asset)
		}
	}
	if len(missing) == 0 {
		return prices, nil
	}

	resolved, err := a.gammaClient.ResolvePrices(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("resolve %d exited asset(s): %w", len(missing), err)
	}
	for asset, p := range resolved {
		prices[asset] = p
	}
	return prices, nil
}

// shutdown cancels outstanding orders, reprices holdings one last time, and
// emits the terminal summary.
func (a *app) shutdown(trader string) {
	// Fresh context: the run context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.exec != nil {
		a.exec.CancelAllResting(ctx, a.st)
	}

	latestPrices := map[string]decimal.Decimal{}
	if held := a.st.HeldAssets(); len(held) > 0 {
		positions, err := a.dataClient.GetAllActivePositions(ctx, trader)
		if err != nil {
			log.Printf("[warn] final position fetch failed: %v", err)
		} else {
			for _, p := range positions {
				latestPrices[p.Asset] = decimal.NewFromFloat(p.CurPrice)
			}
		}
		var missing []string
		for _, asset := range held {
			if _, ok := latestPrices[asset]; !ok {
				missing = append(missing, asset)
			}
		}
		if len(missing) > 0 {
			resolved, err := a.gammaClient.ResolvePrices(ctx, missing)
			if err != nil {
				log.Printf("[warn] final price lookup failed, valuing %d asset(s) at zero: %v", len(missing), err)
			} else {
				for asset, p := range resolved {
					latestPrices[asset] = p
				}
			}
		}
	}

	summary := a.st.ExitSummary(latestPrices)
	emitEvent(a.tradeLog, exitEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     "shutdown",
		Mode:      copyMode(a.live),
		Trader:    a.trader,
		Summary:   summary,
	})

	log.Printf("final: budget $%s, spent $%s, realized pnl $%s, total pnl $%s (%s%%), %d event(s), %d order(s)",
		summary.BudgetRemaining.StringFixed(2),
		summary.TotalSpent.StringFixed(2),
		summary.RealizedPnL.StringFixed(2),
		summary.TotalPnL.StringFixed(2),
		summary.PnLPercent.StringFixed(2),
		summary.TotalEvents,
		summary.TotalOrders)
}
