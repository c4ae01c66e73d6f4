// Package engine turns a trader's position snapshot into portfolio weights,
// a desired per-market allocation, and the sell/buy intents that move the
// bot's holdings toward that allocation.
package engine

import (
	"log"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/dataapi"
)

// Market identifies one outcome token and carries display metadata.
type Market struct {
	Asset        string `json:"asset"`
	ConditionID  string `json:"condition_id"`
	Title        string `json:"title"`
	Outcome      string `json:"outcome"`
	OutcomeIndex int    `json:"outcome_index"`
	EventSlug    string `json:"event_slug"`
}

// Weighted is one active position with its share of the trader's portfolio.
type Weighted struct {
	Market   Market
	Weight   decimal.Decimal
	CurPrice decimal.Decimal
}

// TargetAllocation is the desired stake in one market.
type TargetAllocation struct {
	Market         Market          `json:"market"`
	TraderWeight   decimal.Decimal `json:"trader_weight"`
	TargetValueUSD decimal.Decimal `json:"target_value_usd"`
	TargetShares   decimal.Decimal `json:"target_shares"`
	CurPrice       decimal.Decimal `json:"cur_price"`
}

// Order is a trade intent emitted by the diff. Exit orders close positions
// the trader no longer holds and bypass the minimum-notional filter.
type Order struct {
	Market     Market          `json:"market"`
	Side       clob.Side       `json:"side"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	CostUSD    decimal.Decimal `json:"cost_usd"`
	Exit       bool            `json:"exit,omitempty"`
	ExitReason string          `json:"exit_reason,omitempty"`
}

// HeldRef is a read-only view of one held position.
type HeldRef struct {
	Asset   string
	Title   string
	Outcome string
	Shares  decimal.Decimal
}

// Ledger is the holdings view the diff consults. Effective shares include
// resting orders so in-flight fills are not double-ordered.
type Ledger interface {
	EffectiveHeldShares(asset string) decimal.Decimal
	HeldPositions() []HeldRef
}

func marketFromPosition(p dataapi.Position) Market {
	return Market{
		Asset:        p.Asset,
		ConditionID:  p.ConditionID,
		Title:        p.Title,
		Outcome:      p.Outcome,
		OutcomeIndex: p.OutcomeIndex,
		EventSlug:    p.EventSlug,
	}
}

func isActive(p dataapi.Position) bool {
	return p.CurrentValue > 0 && p.CurPrice > 0 && p.CurPrice < 1
}

// ComputeWeights maps each active position to its share of the trader's
// total active value. Resolved (price 0 or 1) and zero-value rows carry no
// weight. An empty result is not an error.
func ComputeWeights(positions []dataapi.Position) []Weighted {
	total := decimal.Zero
	active := make([]dataapi.Position, 0, len(positions))
	for _, p := range positions {
		if !isActive(p) {
			continue
		}
		active = append(active, p)
		total = total.Add(decimal.NewFromFloat(p.CurrentValue))
	}
	if total.Sign() <= 0 {
		return nil
	}

	out := make([]Weighted, 0, len(active))
	for _, p := range active {
		out = append(out, Weighted{
			Market:   marketFromPosition(p),
			Weight:   decimal.NewFromFloat(p.CurrentValue).Div(total),
			CurPrice: decimal.NewFromFloat(p.CurPrice),
		})
	}
	return out
}

// ComputeTargetState sizes each weighted market against the running budget.
// copyPct and maxTradePct are fractions in [0, 1]; the per-market cap scales
// with the running budget so P&L compounds into future sizing.
func ComputeTargetState(weights []Weighted, runningBudget, copyPct, maxTradePct decimal.Decimal) []TargetAllocation {
	maxPerMarket := maxTradePct.Mul(runningBudget)
	out := make([]TargetAllocation, 0, len(weights))
	for _, w := range weights {
		raw := w.Weight.Mul(runningBudget).Mul(copyPct)
		targetUSD := decimal.Min(raw, maxPerMarket)
		targetShares := decimal.Zero
		if w.CurPrice.Sign() > 0 {
			targetShares = targetUSD.Div(w.CurPrice)
		}
		out = append(out, TargetAllocation{
			Market:         w.Market,
			TraderWeight:   w.Weight,
			TargetValueUSD: targetUSD,
			TargetShares:   targetShares,
			CurPrice:       w.CurPrice,
		})
	}
	return out
}

// ComputeOrders diffs targets against effective holdings. Sells come first
// so their proceeds fund the same cycle's buys; buys are capped by the
// available budget with partial sizing, and non-exit buys below minOrderUSD
// are dropped as no-ops.
//
// priceMap supplies current prices for held assets the trader has exited;
// a held asset missing from both targets and priceMap is skipped this cycle.
func ComputeOrders(targets []TargetAllocation, ledger Ledger, budgetRemaining decimal.Decimal, priceMap map[string]decimal.Decimal, minOrderUSD decimal.Decimal) []Order {
	var sells, buys []Order

	targetAssets := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetAssets[t.Market.Asset] = true
	}

	for _, target := range targets {
		held := ledger.EffectiveHeldShares(target.Market.Asset)
		diff := target.TargetShares.Sub(held)

		switch {
		case diff.Sign() > 0:
			cost := diff.Mul(target.CurPrice)
			if cost.Cmp(minOrderUSD) >= 0 {
				buys = append(buys, Order{
					Market:  target.Market,
					Side:    clob.SideBuy,
					Shares:  diff,
					Price:   target.CurPrice,
					CostUSD: cost,
				})
			}
		case diff.Sign() < 0:
			// No minimum for sells; trimming below $1 is allowed.
			sellShares := diff.Neg()
			sells = append(sells, Order{
				Market:  target.Market,
				Side:    clob.SideSell,
				Shares:  sellShares,
				Price:   target.CurPrice,
				CostUSD: sellShares.Mul(target.CurPrice),
			})
		}
	}

	// Close positions the trader no longer holds.
	for _, held := range ledger.HeldPositions() {
		if targetAssets[held.Asset] || held.Shares.Sign() <= 0 {
			continue
		}
		effective := ledger.EffectiveHeldShares(held.Asset)
		if effective.Sign() <= 0 {
			// Already covered by a resting sell.
			continue
		}
		price, ok := priceMap[held.Asset]
		if !ok {
			log.Printf("[warn] no market price for exited asset %s (%s), skipping sell", held.Asset, held.Title)
			continue
		}
		reason := "trader exited"
		if price.Sign() == 0 || price.Cmp(decimal.NewFromInt(1)) == 0 {
			reason = "resolved"
		}
		sells = append(sells, Order{
			Market:     Market{Asset: held.Asset, Title: held.Title, Outcome: held.Outcome},
			Side:       clob.SideSell,
			Shares:     effective,
			Price:      price,
			CostUSD:    effective.Mul(price),
			Exit:       true,
			ExitReason: reason,
		})
	}

	orders := make([]Order, 0, len(sells)+len(buys))
	available := budgetRemaining

	// Sells always go through and free budget for the buys below.
	for _, sell := range sells {
		available = available.Add(sell.CostUSD)
		orders = append(orders, sell)
	}

	for _, buy := range buys {
		if available.Cmp(minOrderUSD) < 0 {
			break
		}
		if buy.CostUSD.Cmp(available) <= 0 {
			available = available.Sub(buy.CostUSD)
			orders = append(orders, buy)
			continue
		}
		// Partial sizing: buy what the remaining budget affords.
		affordableShares := available.Div(buy.Price)
		cost := affordableShares.Mul(buy.Price)
		if cost.Cmp(minOrderUSD) >= 0 {
			buy.Shares = affordableShares
			buy.CostUSD = cost
			orders = append(orders, buy)
			available = available.Sub(cost)
		}
	}

	return orders
}
