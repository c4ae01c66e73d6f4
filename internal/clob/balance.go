package clob

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	balanceAllowancePath       = "/balance-allowance"
	balanceAllowanceUpdatePath = "/balance-allowance/update"
)

type balanceAllowanceResp struct {
	Balance decimalString `json:"balance"`
}

// GetCollateralBalance returns the account's spendable USDC balance in
// dollars. The venue reports it in 1e6 base units.
func (c *Client) GetCollateralBalance(ctx context.Context, useServerTime bool) (decimal.Decimal, error) {
	resp, err := c.fetchBalanceAllowance(ctx, balanceAllowancePath, useServerTime)
	if err != nil {
		return decimal.Zero, err
	}
	raw := strings.TrimSpace(string(resp.Balance))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("balance missing in response")
	}
	units, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid balance %q", raw)
	}
	return decimal.NewFromBigInt(units, -collateralTokenDecimals), nil
}

// UpdateCollateralAllowance asks the venue to refresh its cached collateral
// balance/allowance snapshot for the account.
func (c *Client) UpdateCollateralAllowance(ctx context.Context, useServerTime bool) error {
	_, err := c.fetchBalanceAllowance(ctx, balanceAllowanceUpdatePath, useServerTime)
	return err
}

func (c *Client) fetchBalanceAllowance(ctx context.Context, path string, useServerTime bool) (*balanceAllowanceResp, error) {
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not configured")
	}

	q := url.Values{}
	q.Set("asset_type", "COLLATERAL")
	q.Set("signature_type", strconv.Itoa(c.signatureTy))

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp balanceAllowanceResp
	if err := c.doJSON(ctx, http.MethodGet, path, q, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
