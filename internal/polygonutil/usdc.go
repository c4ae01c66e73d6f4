// Package polygonutil reads USDC balances and exchange allowances directly
// from Polygon, independent of the CLOB's off-chain accounting.
package polygonutil

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const USDCTokenDecimals = 6

var USDCTokenAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

var erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
var erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]

// dollarsFromUnits converts raw 1e6 token units to dollars.
func dollarsFromUnits(x *big.Int) decimal.Decimal {
	if x == nil || x.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -USDCTokenDecimals)
}

func RPCURLFromEnv() (string, error) {
	rpcURL := strings.TrimSpace(firstNonEmpty(os.Getenv("RPC_WS_URL"), os.Getenv("RPC_URL"), os.Getenv("POLYGON_WS_URL")))
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_WS_URL or RPC_URL required (set RPC_WS_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "wss") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("polygon RPC URL must be wss://... or http(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("polygon RPC URL still contains placeholder YOUR_KEY. Set RPC_WS_URL/RPC_URL to your provider URL")
	}
	return rpcURL, nil
}

// USDCBalanceAndAllowances returns the wallet's on-chain USDC balance in
// dollars plus its allowance toward each spender. Allowances set to
// max(uint256) come back as very large decimals; callers should treat
// anything above the balance as effectively unlimited.
func USDCBalanceAndAllowances(ctx context.Context, rpcURL string, owner common.Address, spenders []common.Address) (decimal.Decimal, map[common.Address]decimal.Decimal, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return decimal.Zero, nil, fmt.Errorf("polygon RPC URL missing")
	}
	if (owner == common.Address{}) {
		return decimal.Zero, nil, fmt.Errorf("owner address missing")
	}

	uniqueSpenders := make([]common.Address, 0, len(spenders))
	seen := make(map[common.Address]struct{}, len(spenders))
	for _, sp := range spenders {
		if (sp == common.Address{}) {
			continue
		}
		if _, ok := seen[sp]; ok {
			continue
		}
		seen[sp] = struct{}{}
		uniqueSpenders = append(uniqueSpenders, sp)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("dial polygon RPC: %w", err)
	}
	defer client.Close()

	callUint256 := func(to common.Address, data []byte) (*big.Int, error) {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty result")
		}
		return new(big.Int).SetBytes(out), nil
	}

	balData := make([]byte, 0, 4+32)
	balData = append(balData, erc20BalanceOfSelector...)
	balData = append(balData, common.LeftPadBytes(owner.Bytes(), 32)...)
	bal, err := callUint256(USDCTokenAddress, balData)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("usdc balanceOf(%s): %w", owner.Hex(), err)
	}

	allowances := make(map[common.Address]decimal.Decimal, len(uniqueSpenders))
	for _, sp := range uniqueSpenders {
		data := make([]byte, 0, 4+32+32)
		data = append(data, erc20AllowanceSelector...)
		data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(sp.Bytes(), 32)...)
		a, err := callUint256(USDCTokenAddress, data)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("usdc allowance(%s,%s): %w", owner.Hex(), sp.Hex(), err)
		}
		allowances[sp] = dollarsFromUnits(a)
	}

	return dollarsFromUnits(bal), allowances, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
