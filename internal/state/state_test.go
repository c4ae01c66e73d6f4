package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/engine"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buyOrder(asset string, shares, price string) engine.Order {
	sh, pr := d(shares), d(price)
	return engine.Order{
		Market:  engine.Market{Asset: asset, Title: "m-" + asset},
		Side:    clob.SideBuy,
		Shares:  sh,
		Price:   pr,
		CostUSD: sh.Mul(pr),
	}
}

func sellOrder(asset string, shares, price string) engine.Order {
	sh, pr := d(shares), d(price)
	return engine.Order{
		Market:  engine.Market{Asset: asset, Title: "m-" + asset},
		Side:    clob.SideSell,
		Shares:  sh,
		Price:   pr,
		CostUSD: sh.Mul(pr),
	}
}

func TestApplyOrdersBuyThenSellRealizedPnl(t *testing.T) {
	s := New(d("1000"), 0)

	s.ApplyOrders([]engine.Order{buyOrder("a", "100", "0.40")})
	if !s.BudgetRemaining.Equal(d("960")) {
		t.Fatalf("budget got %s want 960", s.BudgetRemaining)
	}
	held := s.Holdings["a"]
	if held == nil || !held.Shares.Equal(d("100")) || !held.AvgCost.Equal(d("0.4")) {
		t.Fatalf("holding got %+v", held)
	}

	// sell 40 at 0.50: pnl = (0.5-0.4)*40 = 4
	s.ApplyOrders([]engine.Order{sellOrder("a", "40", "0.50")})
	if !s.RealizedPnL.Equal(d("4")) {
		t.Fatalf("realized pnl got %s want 4", s.RealizedPnL)
	}
	if !s.Holdings["a"].Shares.Equal(d("60")) {
		t.Fatalf("shares got %s want 60", s.Holdings["a"].Shares)
	}
	if !s.BudgetRemaining.Equal(d("980")) {
		t.Fatalf("budget got %s want 980", s.BudgetRemaining)
	}

	// sell remainder, position removed
	s.ApplyOrders([]engine.Order{sellOrder("a", "60", "0.50")})
	if _, ok := s.Holdings["a"]; ok {
		t.Fatalf("expected holding removed after full sell")
	}
}

func TestAvgCostBlending(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{
		buyOrder("a", "100", "0.40"),
		buyOrder("a", "100", "0.60"),
	})
	if !s.Holdings["a"].AvgCost.Equal(d("0.5")) {
		t.Fatalf("avg cost got %s want 0.5", s.Holdings["a"].AvgCost)
	}
}

func TestEffectiveHeldSharesWithRestingOrders(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{buyOrder("a", "100", "0.40")})

	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "a", Side: clob.SideBuy,
		Shares: d("20"), Price: d("0.40"), CostUSD: d("8"),
	})
	s.AddRestingOrder(RestingOrder{
		OrderID: "s1", Asset: "a", Side: clob.SideSell,
		Shares: d("30"), Price: d("0.50"), CostUSD: d("15"),
	})

	if got := s.EffectiveHeldShares("a"); !got.Equal(d("90")) {
		t.Fatalf("effective shares got %s want 90", got)
	}
	if got := s.EffectiveHeldShares("other"); got.Sign() != 0 {
		t.Fatalf("unknown asset effective shares got %s want 0", got)
	}
}

func TestRestingBuyReservesAndCancelReleases(t *testing.T) {
	s := New(d("1000"), 0)
	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "a", Side: clob.SideBuy,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})
	if !s.BudgetRemaining.Equal(d("950")) {
		t.Fatalf("budget after reserve got %s want 950", s.BudgetRemaining)
	}

	s.ResolveRestingCancel("b1")
	if !s.BudgetRemaining.Equal(d("1000")) {
		t.Fatalf("budget after cancel got %s want 1000", s.BudgetRemaining)
	}
	if len(s.RestingOrders) != 0 {
		t.Fatalf("resting orders not cleared: %+v", s.RestingOrders)
	}
}

func TestResolveRestingFillBuy(t *testing.T) {
	s := New(d("1000"), 0)
	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "a", Title: "m-a", Side: clob.SideBuy,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})

	// filled cheaper than reserved: over-reservation returned
	s.ResolveRestingFill("b1", d("100"), d("0.48"))
	if !s.BudgetRemaining.Equal(d("952")) {
		t.Fatalf("budget got %s want 952", s.BudgetRemaining)
	}
	if !s.Holdings["a"].Shares.Equal(d("100")) {
		t.Fatalf("shares got %s want 100", s.Holdings["a"].Shares)
	}
	if !s.TotalSpent.Equal(d("48")) {
		t.Fatalf("total spent got %s want 48", s.TotalSpent)
	}
}

func TestResolveRestingFillSellRealizesPnl(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{buyOrder("a", "100", "0.40")})
	s.AddRestingOrder(RestingOrder{
		OrderID: "s1", Asset: "a", Side: clob.SideSell,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})

	s.ResolveRestingFill("s1", d("100"), d("0.50"))
	if !s.RealizedPnL.Equal(d("10")) {
		t.Fatalf("realized pnl got %s want 10", s.RealizedPnL)
	}
	if _, ok := s.Holdings["a"]; ok {
		t.Fatalf("holding should be removed after full sell fill")
	}
	// 1000 - 40 spent + 50 proceeds
	if !s.BudgetRemaining.Equal(d("1010")) {
		t.Fatalf("budget got %s want 1010", s.BudgetRemaining)
	}
}

func TestApplyExecutionResultsPartialFillAccrues(t *testing.T) {
	s := New(d("1000"), 0)
	orders := []engine.Order{buyOrder("a", "100", "0.50")}
	results := []ExecutionResult{{
		OrderIndex:    0,
		Status:        StatusPartialFill,
		OrderID:       "o1",
		FilledShares:  d("30"),
		FilledCostUSD: d("15"),
	}}

	s.ApplyExecutionResults(orders, results, time.Now())

	// 30 shares land in holdings, 70 rest with budget reserved
	if !s.Holdings["a"].Shares.Equal(d("30")) {
		t.Fatalf("held shares got %s want 30", s.Holdings["a"].Shares)
	}
	if got := s.EffectiveHeldShares("a"); !got.Equal(d("100")) {
		t.Fatalf("effective shares got %s want 100", got)
	}
	if len(s.RestingOrders) != 1 || !s.RestingOrders[0].Shares.Equal(d("70")) {
		t.Fatalf("resting remainder got %+v", s.RestingOrders)
	}
	// budget: -15 filled, -35 reserved
	if !s.BudgetRemaining.Equal(d("950")) {
		t.Fatalf("budget got %s want 950", s.BudgetRemaining)
	}
}

func TestApplyExecutionResultsFailedAndSkippedNoChange(t *testing.T) {
	s := New(d("1000"), 0)
	orders := []engine.Order{buyOrder("a", "100", "0.50")}
	results := []ExecutionResult{
		{OrderIndex: 0, Status: StatusFailed, ErrorMsg: "rejected"},
	}
	s.ApplyExecutionResults(orders, results, time.Now())
	if !s.BudgetRemaining.Equal(d("1000")) || len(s.Holdings) != 0 || len(s.RestingOrders) != 0 {
		t.Fatalf("failed order mutated state: budget=%s holdings=%d resting=%d",
			s.BudgetRemaining, len(s.Holdings), len(s.RestingOrders))
	}
}

func TestMarkTradeSeenOnceOnly(t *testing.T) {
	s := New(d("100"), 8)
	if !s.MarkTradeSeen("0xabc") {
		t.Fatalf("first sighting should be new")
	}
	if s.MarkTradeSeen("0xabc") {
		t.Fatalf("second sighting should not be new")
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	set := newSeenSet(3)
	for _, h := range []string{"a", "b", "c"} {
		if !set.add(h) {
			t.Fatalf("add %q should be new", h)
		}
	}
	// capacity reached: adding d evicts a
	if !set.add("d") {
		t.Fatalf("add d should be new")
	}
	if set.len() != 3 {
		t.Fatalf("len got %d want 3", set.len())
	}
	if !set.add("a") {
		t.Fatalf("a should have been evicted and count as new again")
	}
	if set.add("c") {
		t.Fatalf("c should still be present")
	}
}

func TestEffectiveCapitalMarksToMarket(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{buyOrder("a", "100", "0.40")}) // cash 960
	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "b", Side: clob.SideBuy,
		Shares: d("50"), Price: d("0.20"), CostUSD: d("10"),
	}) // cash 950

	prices := map[string]decimal.Decimal{"a": d("0.50"), "b": d("0.30")}
	// 950 + 100*0.5 + 50*0.3 = 1015
	if got := s.EffectiveCapital(prices); !got.Equal(d("1015")) {
		t.Fatalf("effective capital got %s want 1015", got)
	}

	// missing prices fall back to cost basis / order price
	if got := s.EffectiveCapital(nil); !got.Equal(d("1000")) {
		t.Fatalf("effective capital fallback got %s want 1000", got)
	}
}

func TestExitSummary(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{
		buyOrder("a", "100", "0.40"),
		sellOrder("a", "50", "0.50"), // realized +5
	})
	s.TotalEvents = 2

	summary := s.ExitSummary(map[string]decimal.Decimal{"a": d("0.60")})
	if !summary.RealizedPnL.Equal(d("5")) {
		t.Fatalf("realized got %s want 5", summary.RealizedPnL)
	}
	// unrealized: (0.6-0.4)*50 = 10
	if !summary.UnrealizedPnL.Equal(d("10")) {
		t.Fatalf("unrealized got %s want 10", summary.UnrealizedPnL)
	}
	if !summary.TotalPnL.Equal(d("15")) || !summary.PnLPercent.Equal(d("1.5")) {
		t.Fatalf("total pnl got %s (%s%%), want 15 (1.5%%)", summary.TotalPnL, summary.PnLPercent)
	}
	if len(summary.Holdings) != 1 || !summary.Holdings[0].CurrentValue.Equal(d("30")) {
		t.Fatalf("holdings summary got %+v", summary.Holdings)
	}
	if summary.TotalOrders != 2 || summary.TotalBuyOrders != 1 || summary.TotalSellOrders != 1 {
		t.Fatalf("order counters got %d/%d/%d", summary.TotalOrders, summary.TotalBuyOrders, summary.TotalSellOrders)
	}
}

func TestSeedHolding(t *testing.T) {
	s := New(d("500"), 0)
	s.SeedHolding("a", "Market A", "Yes", d("40"), d("0.25"))
	if !s.BudgetRemaining.Equal(d("490")) || !s.TotalSpent.Equal(d("10")) {
		t.Fatalf("seed accounting got budget=%s spent=%s", s.BudgetRemaining, s.TotalSpent)
	}
	if !s.EffectiveHeldShares("a").Equal(d("40")) {
		t.Fatalf("seeded shares got %s want 40", s.EffectiveHeldShares("a"))
	}
}

func TestResolveRestingPartialAccruesDelta(t *testing.T) {
	s := New(d("1000"), 0)
	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "a", Title: "m-a", Side: clob.SideBuy,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})

	delta := s.ResolveRestingPartial("b1", d("40"), d("0.48"))
	if !delta.Equal(d("40")) {
		t.Fatalf("delta got %s want 40", delta)
	}
	if !s.Holdings["a"].Shares.Equal(d("40")) {
		t.Fatalf("held shares got %s want 40", s.Holdings["a"].Shares)
	}
	// reserved for 40 at 0.50 ($20) released, $19.20 charged
	if !s.BudgetRemaining.Equal(d("950.8")) {
		t.Fatalf("budget got %s want 950.8", s.BudgetRemaining)
	}
	if len(s.RestingOrders) != 1 || !s.RestingOrders[0].Shares.Equal(d("60")) {
		t.Fatalf("remaining resting got %+v", s.RestingOrders)
	}
	if !s.RestingOrders[0].CostUSD.Equal(d("30")) {
		t.Fatalf("remaining reserved got %s want 30", s.RestingOrders[0].CostUSD)
	}
	if !s.EffectiveHeldShares("a").Equal(d("100")) {
		t.Fatalf("effective shares got %s want 100", s.EffectiveHeldShares("a"))
	}
	if s.TotalOrders != 0 {
		t.Fatalf("order counter bumped before terminal status")
	}

	// same cumulative matched size again: nothing new to accrue
	if again := s.ResolveRestingPartial("b1", d("40"), d("0.48")); !again.IsZero() {
		t.Fatalf("repeat accrual got %s want 0", again)
	}
}

func TestResolveRestingFillAfterPartialAccrual(t *testing.T) {
	s := New(d("1000"), 0)
	s.AddRestingOrder(RestingOrder{
		OrderID: "b1", Asset: "a", Title: "m-a", Side: clob.SideBuy,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})

	s.ResolveRestingPartial("b1", d("40"), d("0.50"))
	s.ResolveRestingFill("b1", d("100"), d("0.50"))

	if !s.Holdings["a"].Shares.Equal(d("100")) {
		t.Fatalf("held shares got %s want 100", s.Holdings["a"].Shares)
	}
	if !s.TotalSpent.Equal(d("50")) {
		t.Fatalf("total spent got %s want 50", s.TotalSpent)
	}
	if !s.BudgetRemaining.Equal(d("950")) {
		t.Fatalf("budget got %s want 950", s.BudgetRemaining)
	}
	if s.TotalOrders != 1 || s.TotalBuyOrders != 1 {
		t.Fatalf("order counters got %d/%d want 1/1", s.TotalOrders, s.TotalBuyOrders)
	}
	if len(s.RestingOrders) != 0 {
		t.Fatalf("resting orders not cleared: %+v", s.RestingOrders)
	}
}

func TestResolveRestingPartialFullyMatchedRemoves(t *testing.T) {
	s := New(d("1000"), 0)
	s.ApplyOrders([]engine.Order{buyOrder("a", "100", "0.40")})
	s.AddRestingOrder(RestingOrder{
		OrderID: "s1", Asset: "a", Side: clob.SideSell,
		Shares: d("100"), Price: d("0.50"), CostUSD: d("50"),
	})

	s.ResolveRestingPartial("s1", d("100"), d("0.50"))
	if len(s.RestingOrders) != 0 {
		t.Fatalf("fully matched order still tracked: %+v", s.RestingOrders)
	}
	if !s.RealizedPnL.Equal(d("10")) {
		t.Fatalf("realized pnl got %s want 10", s.RealizedPnL)
	}
	if s.TotalOrders != 2 || s.TotalSellOrders != 1 {
		t.Fatalf("order counters got %d/%d", s.TotalOrders, s.TotalSellOrders)
	}
}
