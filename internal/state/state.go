// Package state holds the bot's trading ledger: holdings, budget, resting
// orders, realized P&L, and the processed-trade dedup set. It is owned
// exclusively by the reconciliation loop; no locking, no global instance.
package state

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/engine"
)

// ExecutionStatus is the terminal classification of one submitted order.
type ExecutionStatus string

const (
	StatusFilled      ExecutionStatus = "filled"
	StatusPartialFill ExecutionStatus = "partial_fill"
	StatusResting     ExecutionStatus = "resting"
	StatusFailed      ExecutionStatus = "failed"
	StatusSkipped     ExecutionStatus = "skipped"
)

// ExecutionResult reports the outcome of orders[OrderIndex] from a batch.
type ExecutionResult struct {
	OrderIndex    int             `json:"order_index"`
	Status        ExecutionStatus `json:"status"`
	OrderID       string          `json:"order_id,omitempty"`
	FilledShares  decimal.Decimal `json:"filled_shares"`
	FilledCostUSD decimal.Decimal `json:"filled_cost_usd"`
	ErrorMsg      string          `json:"error_msg,omitempty"`
}

// HeldPosition is the bot's stake in one market, tracked at average cost.
type HeldPosition struct {
	Asset     string
	Title     string
	Outcome   string
	Shares    decimal.Decimal
	TotalCost decimal.Decimal
	AvgCost   decimal.Decimal
}

// RestingOrder is an accepted but not fully filled order. Budget for buys is
// reserved at submission and released on cancel.
type RestingOrder struct {
	OrderID string
	Asset   string
	Title   string
	Outcome string
	Side    clob.Side
	// Shares is the remaining unfilled size; CostUSD the budget reserved
	// for it (buys).
	Shares  decimal.Decimal
	Price   decimal.Decimal
	CostUSD decimal.Decimal
	// MatchedShares is the venue-side cumulative matched size already
	// folded into the ledger. The venue counts size_matched against the
	// order's original size, so fill resolution works on the delta.
	MatchedShares decimal.Decimal
	SubmittedAt   time.Time
}

// TradingState is the single mutable ledger for a run.
type TradingState struct {
	Holdings      map[string]*HeldPosition
	RestingOrders []RestingOrder

	InitialBudget     decimal.Decimal
	BudgetRemaining   decimal.Decimal
	TotalSpent        decimal.Decimal
	TotalSellProceeds decimal.Decimal
	RealizedPnL       decimal.Decimal

	TotalEvents     uint64
	TotalOrders     uint64
	TotalBuyOrders  uint64
	TotalSellOrders uint64

	seen *seenSet
}

var _ engine.Ledger = (*TradingState)(nil)

func New(budget decimal.Decimal, seenCapacity int) *TradingState {
	return &TradingState{
		Holdings:        make(map[string]*HeldPosition),
		InitialBudget:   budget,
		BudgetRemaining: budget,
		seen:            newSeenSet(seenCapacity),
	}
}

// MarkTradeSeen records a transaction hash, returning true only the first
// time it is seen. This is the dedup gate for trade-triggered rebalancing.
func (s *TradingState) MarkTradeSeen(txHash string) bool {
	return s.seen.add(txHash)
}

// SeenTradeCount reports the dedup set's current size.
func (s *TradingState) SeenTradeCount() int { return s.seen.len() }

// SeedHolding installs a position observed at the venue, committing its cost
// basis against the budget. Used on live startup to reseed from venue truth.
func (s *TradingState) SeedHolding(asset, title, outcome string, shares, avgCost decimal.Decimal) {
	totalCost := shares.Mul(avgCost)
	s.Holdings[asset] = &HeldPosition{
		Asset:     asset,
		Title:     title,
		Outcome:   outcome,
		Shares:    shares,
		TotalCost: totalCost,
		AvgCost:   avgCost,
	}
	s.BudgetRemaining = s.BudgetRemaining.Sub(totalCost)
	s.TotalSpent = s.TotalSpent.Add(totalCost)
}

// EffectiveCapital is the running budget: cash + mark-to-market holdings +
// mark-to-market resting buys (whose cash was already reserved). Assets
// missing from prices fall back to their cost basis.
func (s *TradingState) EffectiveCapital(prices map[string]decimal.Decimal) decimal.Decimal {
	total := s.BudgetRemaining
	for asset, held := range s.Holdings {
		price, ok := prices[asset]
		if !ok {
			price = held.AvgCost
		}
		total = total.Add(held.Shares.Mul(price))
	}
	for _, r := range s.RestingOrders {
		if r.Side != clob.SideBuy {
			continue
		}
		price, ok := prices[r.Asset]
		if !ok {
			price = r.Price
		}
		total = total.Add(r.Shares.Mul(price))
	}
	return total
}

// EffectiveHeldShares returns holdings plus resting buys minus resting
// sells, so the diff engine never double-orders in-flight size.
func (s *TradingState) EffectiveHeldShares(asset string) decimal.Decimal {
	shares := decimal.Zero
	if held, ok := s.Holdings[asset]; ok {
		shares = held.Shares
	}
	for _, r := range s.RestingOrders {
		if r.Asset != asset {
			continue
		}
		if r.Side == clob.SideBuy {
			shares = shares.Add(r.Shares)
		} else {
			shares = shares.Sub(r.Shares)
		}
	}
	return shares
}

// HeldPositions returns a read-only view of holdings, sorted by asset for
// deterministic iteration.
func (s *TradingState) HeldPositions() []engine.HeldRef {
	out := make([]engine.HeldRef, 0, len(s.Holdings))
	for _, held := range s.Holdings {
		out = append(out, engine.HeldRef{
			Asset:   held.Asset,
			Title:   held.Title,
			Outcome: held.Outcome,
			Shares:  held.Shares,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// HeldAssets lists the assets currently held, sorted.
func (s *TradingState) HeldAssets() []string {
	out := make([]string, 0, len(s.Holdings))
	for asset := range s.Holdings {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// AddRestingOrder tracks a resting order, reserving budget for buys.
func (s *TradingState) AddRestingOrder(order RestingOrder) {
	if order.Side == clob.SideBuy {
		s.BudgetRemaining = s.BudgetRemaining.Sub(order.CostUSD)
	}
	s.RestingOrders = append(s.RestingOrders, order)
}

// FindRestingOrder returns the tracked resting order with the given ID.
func (s *TradingState) FindRestingOrder(orderID string) (RestingOrder, bool) {
	for _, r := range s.RestingOrders {
		if r.OrderID == orderID {
			return r, true
		}
	}
	return RestingOrder{}, false
}

func (s *TradingState) removeRestingOrder(orderID string) (RestingOrder, bool) {
	for i, r := range s.RestingOrders {
		if r.OrderID == orderID {
			s.RestingOrders = append(s.RestingOrders[:i], s.RestingOrders[i+1:]...)
			return r, true
		}
	}
	return RestingOrder{}, false
}

// ResolveRestingFill closes out a resting order at its terminal status.
// matchedShares is the venue's cumulative matched size; only the portion not
// already accrued lands in holdings. For buys, all remaining reserved cash
// is released and the actual fill cost charged. For sells, proceeds are
// credited now.
func (s *TradingState) ResolveRestingFill(orderID string, matchedShares, fillPrice decimal.Decimal) {
	resting, ok := s.removeRestingOrder(orderID)
	if !ok {
		return
	}
	delta := matchedShares.Sub(resting.MatchedShares)
	if delta.Sign() < 0 {
		delta = decimal.Zero
	}
	filledCost := delta.Mul(fillPrice)

	switch resting.Side {
	case clob.SideBuy:
		s.BudgetRemaining = s.BudgetRemaining.Add(resting.CostUSD.Sub(filledCost))
		s.TotalSpent = s.TotalSpent.Add(filledCost)
		s.TotalBuyOrders++
		s.addToHolding(resting.Asset, resting.Title, resting.Outcome, delta, filledCost)
	case clob.SideSell:
		s.BudgetRemaining = s.BudgetRemaining.Add(filledCost)
		s.TotalSellProceeds = s.TotalSellProceeds.Add(filledCost)
		s.TotalSellOrders++
		s.reduceHolding(resting.Asset, delta, fillPrice)
	}
	s.TotalOrders++
}

// ResolveRestingPartial accrues new matched size on a still-live resting
// order into holdings, keeping the remainder tracked. matchedShares is the
// venue's cumulative matched size. Returns the newly accrued delta.
func (s *TradingState) ResolveRestingPartial(orderID string, matchedShares, fillPrice decimal.Decimal) decimal.Decimal {
	var resting *RestingOrder
	for i := range s.RestingOrders {
		if s.RestingOrders[i].OrderID == orderID {
			resting = &s.RestingOrders[i]
			break
		}
	}
	if resting == nil {
		return decimal.Zero
	}
	delta := matchedShares.Sub(resting.MatchedShares)
	if delta.Sign() <= 0 {
		return decimal.Zero
	}
	if delta.Cmp(resting.Shares) > 0 {
		delta = resting.Shares
	}
	cost := delta.Mul(fillPrice)

	switch resting.Side {
	case clob.SideBuy:
		// Release the reservation for the accrued size, charge the fill.
		s.BudgetRemaining = s.BudgetRemaining.Add(delta.Mul(resting.Price).Sub(cost))
		s.TotalSpent = s.TotalSpent.Add(cost)
		s.addToHolding(resting.Asset, resting.Title, resting.Outcome, delta, cost)
	case clob.SideSell:
		s.BudgetRemaining = s.BudgetRemaining.Add(cost)
		s.TotalSellProceeds = s.TotalSellProceeds.Add(cost)
		s.reduceHolding(resting.Asset, delta, fillPrice)
	}

	resting.Shares = resting.Shares.Sub(delta)
	resting.CostUSD = resting.Shares.Mul(resting.Price)
	resting.MatchedShares = matchedShares
	if resting.Shares.Sign() <= 0 {
		s.removeRestingOrder(orderID)
		if resting.Side == clob.SideBuy {
			s.TotalBuyOrders++
		} else {
			s.TotalSellOrders++
		}
		s.TotalOrders++
	}
	return delta
}

// ResolveRestingCancel drops a resting order, returning reserved budget for
// buys.
func (s *TradingState) ResolveRestingCancel(orderID string) {
	resting, ok := s.removeRestingOrder(orderID)
	if !ok {
		return
	}
	if resting.Side == clob.SideBuy {
		s.BudgetRemaining = s.BudgetRemaining.Add(resting.CostUSD)
	}
}

func (s *TradingState) addToHolding(asset, title, outcome string, shares, cost decimal.Decimal) {
	held, ok := s.Holdings[asset]
	if !ok {
		held = &HeldPosition{Asset: asset, Title: title, Outcome: outcome}
		s.Holdings[asset] = held
	}
	held.Shares = held.Shares.Add(shares)
	held.TotalCost = held.TotalCost.Add(cost)
	if held.Shares.Sign() > 0 {
		held.AvgCost = held.TotalCost.Div(held.Shares)
	} else {
		held.AvgCost = decimal.Zero
	}
}

func (s *TradingState) reduceHolding(asset string, shares, sellPrice decimal.Decimal) {
	held, ok := s.Holdings[asset]
	if !ok {
		return
	}
	s.RealizedPnL = s.RealizedPnL.Add(sellPrice.Sub(held.AvgCost).Mul(shares))
	held.Shares = held.Shares.Sub(shares)
	held.TotalCost = held.TotalCost.Sub(held.AvgCost.Mul(shares))
	if held.Shares.Sign() <= 0 {
		delete(s.Holdings, asset)
	}
}

// ApplyOrders applies fills directly to the ledger. Dry-run cycles use this
// for every emitted order; live cycles use it via ApplyExecutionResults for
// the filled portions only.
func (s *TradingState) ApplyOrders(orders []engine.Order) {
	for _, order := range orders {
		switch order.Side {
		case clob.SideBuy:
			s.BudgetRemaining = s.BudgetRemaining.Sub(order.CostUSD)
			s.TotalSpent = s.TotalSpent.Add(order.CostUSD)
			s.TotalBuyOrders++
			s.addToHolding(order.Market.Asset, order.Market.Title, order.Market.Outcome, order.Shares, order.CostUSD)
		case clob.SideSell:
			s.BudgetRemaining = s.BudgetRemaining.Add(order.CostUSD)
			s.TotalSellProceeds = s.TotalSellProceeds.Add(order.CostUSD)
			s.TotalSellOrders++
			s.reduceHolding(order.Market.Asset, order.Shares, order.Price)
		}
		s.TotalOrders++
	}
}

// ApplyExecutionResults folds live execution outcomes into the ledger:
// filled and partially filled size lands in holdings immediately, resting
// size (including partial-fill remainders) is tracked with budget reserved,
// failed and skipped orders leave no trace.
func (s *TradingState) ApplyExecutionResults(orders []engine.Order, results []ExecutionResult, now time.Time) {
	var filled []engine.Order
	for _, r := range results {
		if r.Status != StatusFilled && r.Status != StatusPartialFill {
			continue
		}
		if r.OrderIndex < 0 || r.OrderIndex >= len(orders) {
			continue
		}
		original := orders[r.OrderIndex]
		price := original.Price
		if r.FilledShares.Sign() > 0 {
			price = r.FilledCostUSD.Div(r.FilledShares)
		}
		filled = append(filled, engine.Order{
			Market:  original.Market,
			Side:    original.Side,
			Shares:  r.FilledShares,
			Price:   price,
			CostUSD: r.FilledCostUSD,
		})
	}
	s.ApplyOrders(filled)

	for _, r := range results {
		if r.OrderIndex < 0 || r.OrderIndex >= len(orders) {
			continue
		}
		original := orders[r.OrderIndex]
		switch r.Status {
		case StatusResting:
			s.AddRestingOrder(RestingOrder{
				OrderID:     r.OrderID,
				Asset:       original.Market.Asset,
				Title:       original.Market.Title,
				Outcome:     original.Market.Outcome,
				Side:        original.Side,
				Shares:      original.Shares,
				Price:       original.Price,
				CostUSD:     original.CostUSD,
				SubmittedAt: now,
			})
		case StatusPartialFill:
			remaining := original.Shares.Sub(r.FilledShares)
			if remaining.Sign() > 0 && r.OrderID != "" {
				s.AddRestingOrder(RestingOrder{
					OrderID:       r.OrderID,
					Asset:         original.Market.Asset,
					Title:         original.Market.Title,
					Outcome:       original.Market.Outcome,
					Side:          original.Side,
					Shares:        remaining,
					Price:         original.Price,
					CostUSD:       remaining.Mul(original.Price),
					MatchedShares: r.FilledShares,
					SubmittedAt:   now,
				})
			}
		}
	}
}
