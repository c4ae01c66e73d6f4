package executor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
)

// clobVenue adapts the CLOB client to the Venue interface. Orders post as
// GTC against server time so signatures survive local clock skew.
type clobVenue struct {
	client *clob.Client

	mu   sync.Mutex
	rand *rand.Rand
}

// NewClobVenue wraps a CLOB client as a Venue.
func NewClobVenue(client *clob.Client) Venue {
	return &clobVenue{
		client: client,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (v *clobVenue) salt() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rand.Int63()
}

func (v *clobVenue) PlaceLimitOrder(ctx context.Context, tokenID string, side clob.Side, price, size decimal.Decimal) (*clob.PostOrderResult, error) {
	signed, err := v.client.CreateSignedLimitOrder(ctx, tokenID, side, price, size, v.salt)
	if err != nil {
		return nil, err
	}
	return v.client.PostSignedOrder(ctx, signed.SignedOrder, clob.OrderTypeGTC, true)
}

func (v *clobVenue) OrderStatus(ctx context.Context, orderID string) (*clob.OrderInfo, error) {
	return v.client.GetOrder(ctx, orderID, true)
}

func (v *clobVenue) CancelOrder(ctx context.Context, orderID string) error {
	_, err := v.client.CancelOrder(ctx, orderID, true)
	return err
}

func (v *clobVenue) CollateralBalance(ctx context.Context) (decimal.Decimal, error) {
	return v.client.GetCollateralBalance(ctx, true)
}
