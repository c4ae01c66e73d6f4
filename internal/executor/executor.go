// Package executor turns order intents into venue submissions and keeps the
// ledger's resting orders in sync with venue truth.
package executor

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/engine"
	"github.com/flemosr/polymarket-copytrade/internal/state"
)

// Venue is the order-venue surface the executor needs. Implemented by the
// CLOB client in live mode and by fakes in tests.
type Venue interface {
	// PlaceLimitOrder builds, signs, and posts a GTC limit order. Each call
	// re-signs, so retries never reuse a stale signature.
	PlaceLimitOrder(ctx context.Context, tokenID string, side clob.Side, price, size decimal.Decimal) (*clob.PostOrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (*clob.OrderInfo, error)
	CancelOrder(ctx context.Context, orderID string) error
	CollateralBalance(ctx context.Context) (decimal.Decimal, error)
}

// Options tunes executor pacing. Zero values take the defaults below.
type Options struct {
	// MinBalanceUSD is the balance-guard floor: if the account holds less
	// cash than this, every buy in the batch is skipped.
	MinBalanceUSD decimal.Decimal
	// RestingMaxAge is how long a resting order may sit on the book before
	// the executor cancels it.
	RestingMaxAge time.Duration
	// InterOrderDelay spaces consecutive submissions to stay under venue
	// rate limits.
	InterOrderDelay time.Duration
	// FillCheckDelay is the pause between posting an order and querying its
	// fill status.
	FillCheckDelay time.Duration
	// MaxRetries bounds transient-error retries per order.
	MaxRetries int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinBalanceUSD.Sign() <= 0 {
		o.MinBalanceUSD = decimal.NewFromInt(1)
	}
	if o.RestingMaxAge <= 0 {
		o.RestingMaxAge = 10 * time.Minute
	}
	if o.InterOrderDelay <= 0 {
		o.InterOrderDelay = 200 * time.Millisecond
	}
	if o.FillCheckDelay <= 0 {
		o.FillCheckDelay = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	return o
}

type Executor struct {
	venue Venue
	opts  Options
}

func New(venue Venue, opts Options) *Executor {
	return &Executor{venue: venue, opts: opts.withDefaults()}
}

// CheckBalance returns the account's spendable cash in dollars.
func (e *Executor) CheckBalance(ctx context.Context) (decimal.Decimal, error) {
	return e.venue.CollateralBalance(ctx)
}

// ExecuteOrders submits the batch sequentially, sells first as emitted by
// the diff. If the batch contains buys and the account balance is below the
// guard floor (or unreadable), every buy is skipped; sells still run.
func (e *Executor) ExecuteOrders(ctx context.Context, orders []engine.Order) []state.ExecutionResult {
	results := make([]state.ExecutionResult, 0, len(orders))

	hasBuys := false
	for _, o := range orders {
		if o.Side == clob.SideBuy {
			hasBuys = true
			break
		}
	}

	skipBuys := false
	if hasBuys {
		balance, err := e.venue.CollateralBalance(ctx)
		switch {
		case err != nil:
			log.Printf("[warn] balance check failed: %v, skipping all buy orders", err)
			skipBuys = true
		case balance.Cmp(e.opts.MinBalanceUSD) < 0:
			log.Printf("[warn] balance $%s below $%s, skipping all buy orders", balance.StringFixed(2), e.opts.MinBalanceUSD.StringFixed(2))
			skipBuys = true
		default:
			log.Printf("USDC balance: $%s", balance.StringFixed(2))
		}
	}

	for idx, order := range orders {
		if order.Side == clob.SideBuy && skipBuys {
			results = append(results, state.ExecutionResult{
				OrderIndex: idx,
				Status:     state.StatusSkipped,
				ErrorMsg:   "insufficient balance",
			})
			continue
		}

		results = append(results, e.executeSingle(ctx, idx, order))

		if idx+1 < len(orders) {
			sleepWithContext(ctx, e.opts.InterOrderDelay)
		}
	}

	return results
}

func failedResult(index int, msg string) state.ExecutionResult {
	return state.ExecutionResult{OrderIndex: index, Status: state.StatusFailed, ErrorMsg: msg}
}

func (e *Executor) executeSingle(ctx context.Context, index int, order engine.Order) state.ExecutionResult {
	// The venue accepts at most 2 decimals of share precision. Floor so a
	// sell can never exceed inventory.
	shares := order.Shares.Truncate(2)
	if shares.Sign() <= 0 {
		return failedResult(index, "shares truncate to zero from "+order.Shares.String())
	}
	price := order.Price.Truncate(2)
	if price.Sign() <= 0 {
		return failedResult(index, "price truncates to zero from "+order.Price.String())
	}

	log.Printf("placing %s order: %s shares @ $%s, %q (%s)",
		order.Side, shares, price, order.Market.Title, order.Market.Outcome)

	resp, err := e.postWithRetry(ctx, order.Market.Asset, order.Side, price, shares)
	if err != nil {
		return failedResult(index, err.Error())
	}
	if !resp.Success {
		msg := resp.ErrorMsg
		if msg == "" {
			msg = "status: " + resp.Status
		}
		log.Printf("[warn] order post failed: %s", msg)
		return state.ExecutionResult{
			OrderIndex: index,
			Status:     state.StatusFailed,
			OrderID:    resp.OrderID,
			ErrorMsg:   msg,
		}
	}

	orderID := resp.OrderID

	if strings.EqualFold(resp.Status, "matched") {
		cost := shares.Mul(price)
		log.Printf("order %s filled immediately (%s shares, $%s)", orderID, shares, cost.StringFixed(2))
		return state.ExecutionResult{
			OrderIndex:    index,
			Status:        state.StatusFilled,
			OrderID:       orderID,
			FilledShares:  shares,
			FilledCostUSD: cost,
		}
	}

	// Give the book a moment before classifying the order.
	sleepWithContext(ctx, e.opts.FillCheckDelay)

	info, err := e.venue.OrderStatus(ctx, orderID)
	if err != nil {
		// Post succeeded but the status query did not. Assume filled so the
		// ledger cannot re-order this size; the reseed on restart corrects
		// any overcount from venue truth.
		log.Printf("[warn] order %s status check failed: %v, assuming filled", orderID, err)
		cost := shares.Mul(price)
		return state.ExecutionResult{
			OrderIndex:    index,
			Status:        state.StatusFilled,
			OrderID:       orderID,
			FilledShares:  shares,
			FilledCostUSD: cost,
			ErrorMsg:      "status check failed: " + err.Error(),
		}
	}

	sizeMatched := parseDecimalOr(info.SizeMatched, decimal.Zero)
	originalSize := parseDecimalOr(info.OriginalSize, shares)
	fillPrice := parseDecimalOr(info.Price, price)

	switch strings.ToUpper(info.Status) {
	case "MATCHED":
		cost := sizeMatched.Mul(fillPrice)
		log.Printf("order %s fully filled (%s shares, $%s)", orderID, sizeMatched, cost.StringFixed(2))
		return state.ExecutionResult{
			OrderIndex:    index,
			Status:        state.StatusFilled,
			OrderID:       orderID,
			FilledShares:  sizeMatched,
			FilledCostUSD: cost,
		}
	case "LIVE":
		if sizeMatched.Sign() > 0 {
			cost := sizeMatched.Mul(fillPrice)
			log.Printf("order %s partially filled (%s/%s shares, $%s)", orderID, sizeMatched, originalSize, cost.StringFixed(2))
			return state.ExecutionResult{
				OrderIndex:    index,
				Status:        state.StatusPartialFill,
				OrderID:       orderID,
				FilledShares:  sizeMatched,
				FilledCostUSD: cost,
			}
		}
		log.Printf("order %s resting on book (0/%s filled)", orderID, originalSize)
		return state.ExecutionResult{
			OrderIndex: index,
			Status:     state.StatusResting,
			OrderID:    orderID,
		}
	case "CANCELED", "UNMATCHED":
		if sizeMatched.Sign() > 0 {
			cost := sizeMatched.Mul(fillPrice)
			log.Printf("order %s cancelled with partial fill (%s shares, $%s)", orderID, sizeMatched, cost.StringFixed(2))
			return state.ExecutionResult{
				OrderIndex:    index,
				Status:        state.StatusPartialFill,
				OrderID:       orderID,
				FilledShares:  sizeMatched,
				FilledCostUSD: cost,
			}
		}
		log.Printf("[warn] order %s cancelled/unmatched with no fills", orderID)
		return state.ExecutionResult{
			OrderIndex: index,
			Status:     state.StatusFailed,
			OrderID:    orderID,
			ErrorMsg:   "order " + strings.ToLower(info.Status),
		}
	default:
		// Delayed or unknown. Assume filled rather than risk duplicate
		// orders from an undercounted ledger.
		log.Printf("[warn] order %s in unexpected status %q, assuming filled", orderID, info.Status)
		cost := shares.Mul(price)
		return state.ExecutionResult{
			OrderIndex:    index,
			Status:        state.StatusFilled,
			OrderID:       orderID,
			FilledShares:  shares,
			FilledCostUSD: cost,
		}
	}
}

// postWithRetry submits with exponential backoff on transient errors. The
// venue rebuilds and re-signs on every call, so time-bound signatures stay
// fresh across attempts.
func (e *Executor) postWithRetry(ctx context.Context, tokenID string, side clob.Side, price, shares decimal.Decimal) (*clob.PostOrderResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		resp, err := e.venue.PlaceLimitOrder(ctx, tokenID, side, price, shares)
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) || attempt+1 >= e.opts.MaxRetries {
			return nil, err
		}
		delay := e.opts.BaseBackoff << uint(attempt)
		log.Printf("[warn] transient error posting order (attempt %d/%d): %v, retrying in %s",
			attempt+1, e.opts.MaxRetries, err, delay)
		sleepWithContext(ctx, delay)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("retry exhausted")
	}
	return nil, lastErr
}

// CheckRestingOrders queries each tracked resting order and resolves fills
// and cancellations into the ledger. Orders older than RestingMaxAge are
// cancelled; their terminal status is folded in on a later pass.
func (e *Executor) CheckRestingOrders(ctx context.Context, st *state.TradingState, now time.Time) {
	if len(st.RestingOrders) == 0 {
		return
	}
	log.Printf("checking %d resting order(s)", len(st.RestingOrders))

	tracked := make([]state.RestingOrder, len(st.RestingOrders))
	copy(tracked, st.RestingOrders)

	for _, resting := range tracked {
		info, err := e.venue.OrderStatus(ctx, resting.OrderID)
		if err != nil {
			// Leave it tracked, retry next cycle.
			log.Printf("[warn] resting order %s status check failed: %v", resting.OrderID, err)
			continue
		}

		sizeMatched := parseDecimalOr(info.SizeMatched, decimal.Zero)
		fillPrice := parseDecimalOr(info.Price, resting.Price)

		switch strings.ToUpper(info.Status) {
		case "MATCHED":
			log.Printf("resting order %s filled (%s shares @ $%s)", resting.OrderID, sizeMatched, fillPrice)
			st.ResolveRestingFill(resting.OrderID, sizeMatched, fillPrice)
		case "LIVE":
			if sizeMatched.Sign() > 0 {
				if delta := st.ResolveRestingPartial(resting.OrderID, sizeMatched, fillPrice); delta.Sign() > 0 {
					log.Printf("resting order %s accrued %s newly matched share(s), still live", resting.OrderID, delta)
				}
			}
			if now.Sub(resting.SubmittedAt) > e.opts.RestingMaxAge {
				log.Printf("resting order %s exceeded max age, cancelling", resting.OrderID)
				if err := e.venue.CancelOrder(ctx, resting.OrderID); err != nil {
					log.Printf("[warn] cancel of stale order %s failed: %v", resting.OrderID, err)
				}
			}
		case "CANCELED", "UNMATCHED":
			if sizeMatched.Sign() > 0 {
				log.Printf("resting order %s cancelled with partial fill (%s shares)", resting.OrderID, sizeMatched)
				st.ResolveRestingFill(resting.OrderID, sizeMatched, fillPrice)
			} else {
				log.Printf("resting order %s cancelled with no fills", resting.OrderID)
				st.ResolveRestingCancel(resting.OrderID)
			}
		default:
			log.Printf("[warn] resting order %s in unexpected status %q", resting.OrderID, info.Status)
		}
	}

	if n := len(st.RestingOrders); n > 0 {
		log.Printf("%d order(s) still resting on book", n)
	}
}

// CancelAllResting cancels every tracked resting order and releases its
// reserved budget. Used by the shutdown sequence.
func (e *Executor) CancelAllResting(ctx context.Context, st *state.TradingState) {
	if len(st.RestingOrders) == 0 {
		return
	}
	log.Printf("cancelling %d resting order(s)", len(st.RestingOrders))

	ids := make([]string, 0, len(st.RestingOrders))
	for _, r := range st.RestingOrders {
		ids = append(ids, r.OrderID)
	}
	for _, id := range ids {
		if err := e.venue.CancelOrder(ctx, id); err != nil {
			log.Printf("[warn] failed to cancel order %s: %v", id, err)
		}
		st.ResolveRestingCancel(id)
	}
}

func parseDecimalOr(s string, fallback decimal.Decimal) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// isTransientError reports whether an order submission failure is worth
// retrying: rate limiting, server errors, and network-level failures.
func isTransientError(err error) bool {
	var statusErr *clob.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"too many requests",
		"timeout",
		"timed out",
		"connection",
		"temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
