// Command balance prints a wallet's USDC funds from two vantage points: the
// on-chain balance and exchange allowances read straight from Polygon, and
// the spendable balance the CLOB reports for the account. --refresh asks the
// venue to rebuild its cached balance/allowance snapshot first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/polygonutil"
)

// Polymarket exchange contracts on Polygon that must hold USDC allowances.
var exchangeSpenders = []common.Address{
	common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"), // CTF Exchange
	common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a"), // NegRisk CTF Exchange
}

func main() {
	log.SetFlags(0)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[warn] .env: %v", err)
	}

	var addrFlag string
	var refreshFlag bool
	flag.StringVar(&addrFlag, "address", "", "Wallet address to check (default: FUNDER/CLOB_FUNDER or signer from PRIVATE_KEY)")
	flag.BoolVar(&refreshFlag, "refresh", false, "Ask the CLOB to refresh its balance/allowance cache first")
	flag.Parse()

	owner, ownerSrc, err := resolveOwnerAddress(addrFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if rpcURL, err := polygonutil.RPCURLFromEnv(); err != nil {
		log.Printf("[warn] skipping on-chain check: %v", err)
	} else {
		balance, allowances, err := polygonutil.USDCBalanceAndAllowances(ctx, rpcURL, owner, exchangeSpenders)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		fmt.Printf("onchain_usdc: $%s\n", balance.StringFixed(6))
		for _, sp := range exchangeSpenders {
			a := allowances[sp]
			display := "$" + a.StringFixed(6)
			if a.Cmp(balance) > 0 {
				display = "unlimited"
			}
			fmt.Printf("allowance %s: %s\n", sp.Hex(), display)
		}
	}

	clobClient, err := clobClientFromEnv()
	if err != nil {
		log.Printf("[warn] skipping CLOB check: %v", err)
		return
	}

	creds, err := clobClient.CreateOrDeriveApiKey(ctx, 0, true)
	if err != nil {
		log.Fatalf("[fatal] derive api key: %v", err)
	}
	clobClient.SetApiCreds(creds)

	if refreshFlag {
		if err := clobClient.UpdateCollateralAllowance(ctx, true); err != nil {
			log.Fatalf("[fatal] refresh balance/allowance: %v", err)
		}
		fmt.Printf("clob cache refreshed\n")
	}

	spendable, err := clobClient.GetCollateralBalance(ctx, true)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	fmt.Printf("clob_spendable: $%s\n", spendable.StringFixed(6))
}

func clobClientFromEnv() (*clob.Client, error) {
	pkHex := firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))
	if strings.TrimSpace(pkHex) == "" {
		return nil, fmt.Errorf("PRIVATE_KEY not set")
	}
	pkHex = strings.TrimSpace(strings.TrimPrefix(pkHex, "0x"))
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}

	var funder common.Address
	if envFunder := firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER")); strings.TrimSpace(envFunder) != "" {
		if !common.IsHexAddress(envFunder) {
			return nil, fmt.Errorf("invalid FUNDER/CLOB_FUNDER env %q", envFunder)
		}
		funder = common.HexToAddress(envFunder)
	}

	sigType := 0
	if env := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SIGNATURE_TYPE"), os.Getenv("SIGNATURE_TYPE"))); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return nil, fmt.Errorf("invalid signature type env %q: %w", env, err)
		}
		sigType = v
	}

	host := firstNonEmpty(os.Getenv("CLOB_URL"), "https://clob.polymarket.com")
	return clob.NewClient(host, 137, pk, funder, sigType)
}

func resolveOwnerAddress(addrFlag string) (common.Address, string, error) {
	if strings.TrimSpace(addrFlag) != "" {
		raw := strings.TrimSpace(addrFlag)
		if !common.IsHexAddress(raw) {
			return common.Address{}, "", fmt.Errorf("invalid --address %q", raw)
		}
		return common.HexToAddress(raw), "--address", nil
	}

	if envFunder := firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER")); strings.TrimSpace(envFunder) != "" {
		if !common.IsHexAddress(envFunder) {
			return common.Address{}, "", fmt.Errorf("invalid FUNDER/CLOB_FUNDER env %q", envFunder)
		}
		return common.HexToAddress(envFunder), "FUNDER", nil
	}

	if pkHex := firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")); strings.TrimSpace(pkHex) != "" {
		pkHex = strings.TrimSpace(strings.TrimPrefix(pkHex, "0x"))
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		return crypto.PubkeyToAddress(pk.PublicKey), "PRIVATE_KEY", nil
	}

	return common.Address{}, "", fmt.Errorf("wallet required: set FUNDER/CLOB_FUNDER, PRIVATE_KEY/CLOB_PRIVATE_KEY, or pass --address")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
