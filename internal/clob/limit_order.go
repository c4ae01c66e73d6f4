package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderResult carries a signed order plus the tick-rounded price it was
// built at, for logging and ledger bookkeeping.
type OrderResult struct {
	SignedOrder *ordermodel.SignedOrder
	Price       string
	TickSize    string
}

// PostOrderResult mirrors the POST /order response.
type PostOrderResult struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderID"`
	Status      string   `json:"status"`
	OrderHashes []string `json:"orderHashes"`
	TakingAmt   string   `json:"takingAmount"`
	MakingAmt   string   `json:"makingAmount"`
}

// CreateSignedLimitOrder builds and signs a limit order for size shares at
// price. Price is rounded to the market's tick, size is floored to the
// venue's share precision.
func (c *Client) CreateSignedLimitOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	price decimal.Decimal,
	size decimal.Decimal,
	saltGenerator func() int64,
) (*OrderResult, error) {
	if price.Sign() <= 0 || price.Cmp(decimal.NewFromInt(1)) >= 0 {
		return nil, fmt.Errorf("price must be in (0, 1), got %s", price)
	}
	if size.Sign() <= 0 {
		return nil, fmt.Errorf("size must be > 0, got %s", size)
	}

	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	rc, ok := roundingConfigByTickSize[tickSize]
	if !ok {
		return nil, fmt.Errorf("unsupported tickSize %q", tickSize)
	}
	scale, priceDecimals, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return nil, err
	}

	priceTicks, err := decimalToUnits(price.Round(int32(priceDecimals)), priceDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if priceTicks.Sign() <= 0 {
		return nil, fmt.Errorf("price %s rounds to 0 at tick %s", price, tickSize)
	}
	sizeUnits, err := decimalToUnits(size, collateralTokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", size, err)
	}

	makerAmountUnits, takerAmountUnits, err := computeLimitOrderAmounts(side, sizeUnits, priceTicks, scale, rc)
	if err != nil {
		return nil, err
	}

	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerAmountUnits.String(),
		TakerAmount:   takerAmountUnits.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	signed, err := signOrder(c.chainID, c.privateKey, od, contract, saltGenerator)
	if err != nil {
		return nil, err
	}

	return &OrderResult{
		SignedOrder: signed,
		Price:       formatDecimalUnits(priceTicks, priceDecimals),
		TickSize:    tickSize,
	}, nil
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

// PostSignedOrder submits a signed order and returns the venue's typed
// response. A non-nil result with Success=false is a venue-side rejection,
// not a transport failure.
func (c *Client) PostSignedOrder(
	ctx context.Context,
	order *ordermodel.SignedOrder,
	orderType OrderType,
	useServerTime bool,
) (*PostOrderResult, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}

	body, err := c.buildPostOrderBody(order, orderType)
	if err != nil {
		return nil, err
	}

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}

	var resp PostOrderResult
	if err := c.doJSONBody(ctx, http.MethodPost, "/order", nil, headers, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) buildPostOrderBody(order *ordermodel.SignedOrder, orderType OrderType) ([]byte, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		DeferExec: false,
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideToString(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideToString(v *big.Int) Side {
	if v == nil {
		return SideBuy
	}
	if v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}
