package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/dataapi"
)

type fakeLedger struct {
	effective map[string]decimal.Decimal
	held      []HeldRef
}

func (f *fakeLedger) EffectiveHeldShares(asset string) decimal.Decimal {
	return f.effective[asset]
}

func (f *fakeLedger) HeldPositions() []HeldRef { return f.held }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeWeightsSumToOneAndFilter(t *testing.T) {
	positions := []dataapi.Position{
		{Asset: "a", CurrentValue: 600, CurPrice: 0.6},
		{Asset: "b", CurrentValue: 400, CurPrice: 0.4},
		{Asset: "resolved-win", CurrentValue: 100, CurPrice: 1},
		{Asset: "resolved-lose", CurrentValue: 0, CurPrice: 0},
		{Asset: "dust", CurrentValue: 0, CurPrice: 0.5},
	}

	weights := ComputeWeights(positions)
	if len(weights) != 2 {
		t.Fatalf("weights got %d entries want 2", len(weights))
	}

	sum := decimal.Zero
	for _, w := range weights {
		if w.Market.Asset != "a" && w.Market.Asset != "b" {
			t.Fatalf("weight attributed to filtered asset %s", w.Market.Asset)
		}
		sum = sum.Add(w.Weight)
	}
	if diff := sum.Sub(decimal.NewFromInt(1)).Abs(); diff.Cmp(d("0.000000001")) > 0 {
		t.Fatalf("weights sum got %s want 1", sum)
	}
	if !weights[0].Weight.Equal(d("0.6")) {
		t.Fatalf("weight a got %s want 0.6", weights[0].Weight)
	}
}

func TestComputeWeightsEmpty(t *testing.T) {
	if got := ComputeWeights(nil); got != nil {
		t.Fatalf("expected nil weights, got %v", got)
	}
	if got := ComputeWeights([]dataapi.Position{{Asset: "x", CurrentValue: 0, CurPrice: 0.5}}); got != nil {
		t.Fatalf("expected nil weights for all-inactive, got %v", got)
	}
}

func TestComputeTargetStateCap(t *testing.T) {
	weights := []Weighted{
		{Market: Market{Asset: "a"}, Weight: d("0.6"), CurPrice: d("0.6")},
		{Market: Market{Asset: "b"}, Weight: d("0.4"), CurPrice: d("0.4")},
	}
	budget := d("1000")

	// copy 50%, cap 30%: raw $300/$200, cap $300 not binding
	targets := ComputeTargetState(weights, budget, d("0.5"), d("0.3"))
	if !targets[0].TargetValueUSD.Equal(d("300")) || !targets[1].TargetValueUSD.Equal(d("200")) {
		t.Fatalf("targets got %s/%s want 300/200", targets[0].TargetValueUSD, targets[1].TargetValueUSD)
	}
	if !targets[0].TargetShares.Equal(d("500")) {
		t.Fatalf("target shares got %s want 500", targets[0].TargetShares)
	}

	// cap 20%: $200 binds the first target
	targets = ComputeTargetState(weights, budget, d("0.5"), d("0.2"))
	if !targets[0].TargetValueUSD.Equal(d("200")) || !targets[1].TargetValueUSD.Equal(d("200")) {
		t.Fatalf("capped targets got %s/%s want 200/200", targets[0].TargetValueUSD, targets[1].TargetValueUSD)
	}

	cap := d("0.2").Mul(budget)
	for _, target := range targets {
		if target.TargetValueUSD.Cmp(cap) > 0 {
			t.Fatalf("target %s exceeds cap %s", target.TargetValueUSD, cap)
		}
	}
}

func TestComputeOrdersSellsBeforeBuys(t *testing.T) {
	targets := []TargetAllocation{
		{Market: Market{Asset: "a"}, TargetShares: d("40"), CurPrice: d("0.5")},
		{Market: Market{Asset: "b"}, TargetShares: d("100"), CurPrice: d("0.2")},
	}
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"a": d("100")},
		held:      []HeldRef{{Asset: "a", Shares: d("100")}},
	}

	orders := ComputeOrders(targets, ledger, d("500"), nil, d("1"))
	if len(orders) != 2 {
		t.Fatalf("orders got %d want 2: %+v", len(orders), orders)
	}
	if orders[0].Side != clob.SideSell || !orders[0].Shares.Equal(d("60")) {
		t.Fatalf("first order got %s %s shares, want SELL 60", orders[0].Side, orders[0].Shares)
	}
	if orders[1].Side != clob.SideBuy || !orders[1].Shares.Equal(d("100")) {
		t.Fatalf("second order got %s %s shares, want BUY 100", orders[1].Side, orders[1].Shares)
	}

	seenBuy := false
	for _, o := range orders {
		if o.Side == clob.SideBuy {
			seenBuy = true
		}
		if o.Side == clob.SideSell && seenBuy {
			t.Fatalf("sell emitted after buy: %+v", orders)
		}
	}
}

func TestComputeOrdersExitAtZeroPrice(t *testing.T) {
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"gone": d("50")},
		held:      []HeldRef{{Asset: "gone", Title: "Old market", Shares: d("50")}},
	}
	prices := map[string]decimal.Decimal{"gone": decimal.Zero}

	orders := ComputeOrders(nil, ledger, d("100"), prices, d("1"))
	if len(orders) != 1 {
		t.Fatalf("orders got %d want 1", len(orders))
	}
	o := orders[0]
	if o.Side != clob.SideSell || !o.Exit {
		t.Fatalf("expected exit sell, got %+v", o)
	}
	if o.ExitReason != "resolved" {
		t.Fatalf("exit reason got %q want resolved", o.ExitReason)
	}
	if o.CostUSD.Sign() != 0 {
		t.Fatalf("proceeds got %s want 0", o.CostUSD)
	}
	if !o.Shares.Equal(d("50")) {
		t.Fatalf("exit shares got %s want 50", o.Shares)
	}
}

func TestComputeOrdersExitReasonTraderExited(t *testing.T) {
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"gone": d("10")},
		held:      []HeldRef{{Asset: "gone", Shares: d("10")}},
	}
	prices := map[string]decimal.Decimal{"gone": d("0.45")}

	orders := ComputeOrders(nil, ledger, d("100"), prices, d("1"))
	if len(orders) != 1 || orders[0].ExitReason != "trader exited" {
		t.Fatalf("expected trader-exited sell, got %+v", orders)
	}
}

func TestComputeOrdersExitMissingPriceSkipped(t *testing.T) {
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"gone": d("10")},
		held:      []HeldRef{{Asset: "gone", Shares: d("10")}},
	}
	orders := ComputeOrders(nil, ledger, d("100"), map[string]decimal.Decimal{}, d("1"))
	if len(orders) != 0 {
		t.Fatalf("expected no orders without an exit price, got %+v", orders)
	}
}

func TestComputeOrdersExitCoveredByRestingSell(t *testing.T) {
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"gone": decimal.Zero},
		held:      []HeldRef{{Asset: "gone", Shares: d("10")}},
	}
	prices := map[string]decimal.Decimal{"gone": d("0.5")}
	orders := ComputeOrders(nil, ledger, d("100"), prices, d("1"))
	if len(orders) != 0 {
		t.Fatalf("expected no orders when resting sell covers exit, got %+v", orders)
	}
}

func TestComputeOrdersBudgetCapPartialSizing(t *testing.T) {
	targets := []TargetAllocation{
		{Market: Market{Asset: "a"}, TargetShares: d("100"), CurPrice: d("0.5")}, // wants $50
		{Market: Market{Asset: "b"}, TargetShares: d("100"), CurPrice: d("0.4")}, // wants $40
	}
	ledger := &fakeLedger{effective: map[string]decimal.Decimal{}}

	orders := ComputeOrders(targets, ledger, d("60"), nil, d("1"))
	if len(orders) != 2 {
		t.Fatalf("orders got %d want 2: %+v", len(orders), orders)
	}
	if !orders[0].CostUSD.Equal(d("50")) {
		t.Fatalf("first buy cost got %s want 50", orders[0].CostUSD)
	}
	// $10 left: partial sizing buys 25 shares at $0.40
	if !orders[1].Shares.Equal(d("25")) || !orders[1].CostUSD.Equal(d("10")) {
		t.Fatalf("partial buy got %s shares / $%s, want 25 / $10", orders[1].Shares, orders[1].CostUSD)
	}
}

func TestComputeOrdersMinNotional(t *testing.T) {
	targets := []TargetAllocation{
		{Market: Market{Asset: "a"}, TargetShares: d("1"), CurPrice: d("0.5")}, // $0.50 buy
	}
	ledger := &fakeLedger{effective: map[string]decimal.Decimal{}}

	// $1.00 floor drops the buy
	if orders := ComputeOrders(targets, ledger, d("100"), nil, d("1")); len(orders) != 0 {
		t.Fatalf("expected sub-minimum buy dropped, got %+v", orders)
	}
	// $0.01 floor lets it through
	orders := ComputeOrders(targets, ledger, d("100"), nil, d("0.01"))
	if len(orders) != 1 || orders[0].Side != clob.SideBuy {
		t.Fatalf("expected buy at $0.01 floor, got %+v", orders)
	}

	// Sells have no floor
	sellTargets := []TargetAllocation{
		{Market: Market{Asset: "a"}, TargetShares: d("0.5"), CurPrice: d("0.5")},
	}
	sellLedger := &fakeLedger{effective: map[string]decimal.Decimal{"a": d("1")}}
	orders = ComputeOrders(sellTargets, sellLedger, d("100"), nil, d("1"))
	if len(orders) != 1 || orders[0].Side != clob.SideSell {
		t.Fatalf("expected sub-minimum sell kept, got %+v", orders)
	}
}

func TestComputeOrdersNoBuyForExitingAsset(t *testing.T) {
	// An exiting asset is by definition absent from targets, so the diff can
	// never emit a buy for it in the same cycle.
	targets := []TargetAllocation{
		{Market: Market{Asset: "b"}, TargetShares: d("10"), CurPrice: d("0.5")},
	}
	ledger := &fakeLedger{
		effective: map[string]decimal.Decimal{"gone": d("5")},
		held:      []HeldRef{{Asset: "gone", Shares: d("5")}},
	}
	prices := map[string]decimal.Decimal{"gone": d("0.3")}

	orders := ComputeOrders(targets, ledger, d("100"), prices, d("1"))
	for _, o := range orders {
		if o.Market.Asset == "gone" && o.Side == clob.SideBuy {
			t.Fatalf("buy emitted for exiting asset: %+v", orders)
		}
	}
}
