package state

import (
	"sort"

	"github.com/shopspring/decimal"
)

// HoldingSummary is one holding valued at the final price pass.
type HoldingSummary struct {
	Asset         string          `json:"asset"`
	Title         string          `json:"title"`
	Outcome       string          `json:"outcome"`
	Shares        decimal.Decimal `json:"shares"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurPrice      decimal.Decimal `json:"cur_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// ExitSummary is the terminal report emitted once at shutdown.
type ExitSummary struct {
	InitialBudget     decimal.Decimal  `json:"initial_budget"`
	BudgetRemaining   decimal.Decimal  `json:"budget_remaining"`
	TotalSpent        decimal.Decimal  `json:"total_spent"`
	TotalSellProceeds decimal.Decimal  `json:"total_sell_proceeds"`
	RealizedPnL       decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal  `json:"unrealized_pnl"`
	TotalPnL          decimal.Decimal  `json:"total_pnl"`
	PnLPercent        decimal.Decimal  `json:"pnl_percent"`
	TotalEvents       uint64           `json:"total_events"`
	TotalOrders       uint64           `json:"total_orders"`
	TotalBuyOrders    uint64           `json:"total_buy_orders"`
	TotalSellOrders   uint64           `json:"total_sell_orders"`
	Holdings          []HoldingSummary `json:"holdings"`
}

// ExitSummary values remaining holdings at latestPrices (missing assets are
// valued at zero) and folds unrealized P&L into the final report.
func (s *TradingState) ExitSummary(latestPrices map[string]decimal.Decimal) ExitSummary {
	holdings := make([]HoldingSummary, 0, len(s.Holdings))
	unrealized := decimal.Zero

	for asset, held := range s.Holdings {
		curPrice := latestPrices[asset]
		positionUnrealized := curPrice.Sub(held.AvgCost).Mul(held.Shares)
		unrealized = unrealized.Add(positionUnrealized)

		holdings = append(holdings, HoldingSummary{
			Asset:         held.Asset,
			Title:         held.Title,
			Outcome:       held.Outcome,
			Shares:        held.Shares,
			AvgCost:       held.AvgCost,
			CurPrice:      curPrice,
			CurrentValue:  held.Shares.Mul(curPrice),
			UnrealizedPnL: positionUnrealized,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Asset < holdings[j].Asset })

	totalPnL := s.RealizedPnL.Add(unrealized)
	pnlPercent := decimal.Zero
	if s.InitialBudget.Sign() > 0 {
		pnlPercent = totalPnL.Div(s.InitialBudget).Mul(decimal.NewFromInt(100))
	}

	return ExitSummary{
		InitialBudget:     s.InitialBudget,
		BudgetRemaining:   s.BudgetRemaining,
		TotalSpent:        s.TotalSpent,
		TotalSellProceeds: s.TotalSellProceeds,
		RealizedPnL:       s.RealizedPnL,
		UnrealizedPnL:     unrealized,
		TotalPnL:          totalPnL,
		PnLPercent:        pnlPercent,
		TotalEvents:       s.TotalEvents,
		TotalOrders:       s.TotalOrders,
		TotalBuyOrders:    s.TotalBuyOrders,
		TotalSellOrders:   s.TotalSellOrders,
		Holdings:          holdings,
	}
}
