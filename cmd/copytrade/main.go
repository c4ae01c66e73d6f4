// Command copytrade mirrors a Polymarket trader's portfolio: it polls their
// positions and trades, diffs the desired allocation against its own ledger,
// and places (or simulates) the orders that close the gap.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/clob"
	"github.com/flemosr/polymarket-copytrade/internal/config"
	"github.com/flemosr/polymarket-copytrade/internal/dataapi"
	"github.com/flemosr/polymarket-copytrade/internal/executor"
	"github.com/flemosr/polymarket-copytrade/internal/gamma"
	"github.com/flemosr/polymarket-copytrade/internal/jsonl"
	"github.com/flemosr/polymarket-copytrade/internal/rtds"
	"github.com/flemosr/polymarket-copytrade/internal/state"
)

const polygonChainID = 137

type args struct {
	trader      string
	traderShort string
	live        bool

	budget      decimal.Decimal
	copyPct     decimal.Decimal
	maxTradePct decimal.Decimal

	configFile string
	outFile    string

	privateKeyHex string
	funder        common.Address
	signatureType int
	apiKey        string
	apiSecret     string
	apiPassphrase string
	apiNonce      uint64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[warn] .env: %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	cfg, err := config.Load(parsed.configFile)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if parsed.outFile != "" {
		cfg.Settings.OutFile = parsed.outFile
	}

	log.Printf("Copytrade → Polymarket (%s mode)", copyMode(parsed.live))
	log.Printf("Trader: %s (%s)", parsed.trader, parsed.traderShort)
	log.Printf("Budget: $%s", parsed.budget.StringFixed(2))
	log.Printf("Copy: %s%% of portfolio, max %s%% per market",
		parsed.copyPct.Mul(decimal.NewFromInt(100)).StringFixed(1),
		parsed.maxTradePct.Mul(decimal.NewFromInt(100)).StringFixed(1))
	log.Printf("Poll interval: %s", cfg.PollInterval())

	dataClient, err := dataapi.NewClient(cfg.Endpoints.DataAPIURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	gammaClient, err := gamma.NewClient(cfg.Endpoints.GammaURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	st := state.New(parsed.budget, cfg.Settings.SeenTradesCapacity)

	tradeLog, err := jsonl.Open(cfg.Settings.OutFile)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if cfg.Settings.OutFile != "" {
		log.Printf("Trade log: %s (JSONL)", cfg.Settings.OutFile)
	}
	defer func() {
		if err := tradeLog.Close(); err != nil {
			log.Printf("[warn] trade log close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	a := &app{
		dataClient:      dataClient,
		gammaClient:     gammaClient,
		st:              st,
		tradeLog:        tradeLog,
		trader:          parsed.trader,
		traderShort:     parsed.traderShort,
		live:            parsed.live,
		copyPct:         parsed.copyPct,
		maxTradePct:     parsed.maxTradePct,
		minOrderUSD:     decimal.NewFromFloat(cfg.Settings.MinOrderUSD),
		tradeFetchLimit: cfg.Settings.TradeFetchLimit,
	}

	if parsed.live {
		clobClient, err := setupClobClient(ctx, parsed, cfg.Endpoints.ClobURL)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		a.exec = executor.New(executor.NewClobVenue(clobClient), executor.Options{
			MinBalanceUSD: a.minOrderUSD,
			RestingMaxAge: cfg.RestingMaxAge(),
		})
		if err := liveStartup(ctx, a, clobClient, dataClient, parsed.budget); err != nil {
			log.Fatalf("[fatal] %v", err)
		}
	}

	// Seed the dedup set so trades from before this run never trigger a
	// cycle; the initial replication covers the current portfolio.
	trades, err := dataClient.GetTrades(ctx, parsed.trader, cfg.Settings.TradeFetchLimit)
	if err != nil {
		log.Printf("[warn] seed trade fetch failed: %v", err)
	}
	for _, tr := range trades {
		if tr.TransactionHash != "" {
			st.MarkTradeSeen(tr.TransactionHash)
		}
	}
	log.Printf("Seeded %d recent trade(s)", st.SeenTradeCount())

	a.pollCycle(ctx, true)

	nudge := rtds.WatchTrades(ctx, cfg.Endpoints.RtdsWsURL, parsed.trader, rtds.Options{})

	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	log.Printf("Watching %s...", parsed.traderShort)
	for {
		select {
		case <-ctx.Done():
			a.shutdown(parsed.trader)
			return
		case <-ticker.C:
			a.pollCycle(ctx, false)
		case _, ok := <-nudge:
			if !ok {
				// Watcher closed with the context; the ticker still drives
				// cycles until shutdown.
				nudge = nil
				continue
			}
			a.pollCycle(ctx, false)
		}
	}
}

func setupClobClient(ctx context.Context, parsed args, clobURL string) (*clob.Client, error) {
	pk, err := parsePrivateKey(parsed.privateKeyHex)
	if err != nil {
		return nil, err
	}
	clobClient, err := clob.NewClient(clobURL, polygonChainID, pk, parsed.funder, parsed.signatureType)
	if err != nil {
		return nil, err
	}

	if parsed.apiKey != "" && parsed.apiSecret != "" && parsed.apiPassphrase != "" {
		clobClient.SetApiCreds(clob.ApiKeyCreds{Key: parsed.apiKey, Secret: parsed.apiSecret, Passphrase: parsed.apiPassphrase})
	} else {
		creds, err := clobClient.CreateOrDeriveApiKey(ctx, parsed.apiNonce, true)
		if err != nil {
			return nil, fmt.Errorf("failed to create/derive api key: %w", err)
		}
		clobClient.SetApiCreds(creds)
		log.Printf("CLOB API creds ready (key=%s…)", safePrefix(creds.Key, 8))
	}
	return clobClient, nil
}

// liveStartup clears stale venue orders, reloads the account's existing
// positions into the ledger, and verifies the account can actually cover
// the configured budget.
func liveStartup(ctx context.Context, a *app, clobClient *clob.Client, dataClient *dataapi.Client, budget decimal.Decimal) error {
	res, err := clobClient.CancelAll(ctx, true)
	if err != nil {
		return fmt.Errorf("cancel stale orders: %w", err)
	}
	if n := len(res.Canceled); n > 0 {
		log.Printf("Cancelled %d stale order(s) from a previous run", n)
	}

	account := clobClient.FunderAddress().Hex()
	positions, err := dataClient.GetAllActivePositions(ctx, account)
	if err != nil {
		return fmt.Errorf("load account positions: %w", err)
	}
	holdingsValue := decimal.Zero
	for _, p := range positions {
		shares := decimal.NewFromFloat(p.Size)
		avgCost := decimal.NewFromFloat(p.AvgPrice)
		a.st.SeedHolding(p.Asset, p.Title, p.Outcome, shares, avgCost)
		holdingsValue = holdingsValue.Add(shares.Mul(decimal.NewFromFloat(p.CurPrice)))
	}
	if len(positions) > 0 {
		log.Printf("Resumed %d existing position(s) worth $%s", len(positions), holdingsValue.StringFixed(2))
	}

	cash, err := a.exec.CheckBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}
	available := cash.Add(holdingsValue)
	if available.Cmp(budget) < 0 {
		return fmt.Errorf("account holds $%s (cash $%s + positions $%s) but budget is $%s",
			available.StringFixed(2), cash.StringFixed(2), holdingsValue.StringFixed(2), budget.StringFixed(2))
	}
	log.Printf("USDC balance: $%s", cash.StringFixed(2))
	return nil
}

func parseArgs() (args, error) {
	var traderFlag string
	var dryRunFlag bool
	var liveFlag bool
	var budgetFlag float64
	var copyPctFlag float64
	var maxTradeFlag float64
	var configFlag string
	var outFlag string
	var funderFlag string
	var apiNonceFlag uint64

	signatureTypeDefault := 0
	if env := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SIGNATURE_TYPE"), os.Getenv("SIGNATURE_TYPE"))); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid signature type env %q: %w", env, err)
		}
		signatureTypeDefault = v
	}
	var signatureTypeFlag int

	flag.StringVar(&traderFlag, "trader-address", "", "Trader proxy wallet to mirror 0x... (or TRADER_ADDRESS env)")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "Simulate fills without touching the venue")
	flag.BoolVar(&liveFlag, "live", false, "Place real orders")
	flag.Float64Var(&budgetFlag, "budget", 0, "Total budget in USD")
	flag.Float64Var(&copyPctFlag, "copy-percentage", 100, "Percent of the trader's weights to copy (0-100]")
	flag.Float64Var(&maxTradeFlag, "max-trade-size", 100, "Max percent of budget in any one market (0-100]")
	flag.StringVar(&configFlag, "config", "./config.yaml", "Config file path (YAML)")
	flag.StringVar(&outFlag, "out", "", "Trade log path (JSONL; overrides config)")
	flag.StringVar(&funderFlag, "funder", "", "Funder address (proxy wallet) (default: signer)")
	flag.IntVar(&signatureTypeFlag, "signature-type", signatureTypeDefault, "Signature type: 0=EOA, 1=POLY_PROXY, 2=POLY_GNOSIS_SAFE")
	flag.Uint64Var(&apiNonceFlag, "api-nonce", 0, "Nonce for API key derive/create")

	flag.Parse()

	if dryRunFlag == liveFlag {
		return args{}, fmt.Errorf("exactly one of --dry-run or --live is required")
	}

	trader := strings.TrimSpace(traderFlag)
	if trader == "" {
		trader = strings.TrimSpace(os.Getenv("TRADER_ADDRESS"))
	}
	if trader == "" {
		return args{}, fmt.Errorf("trader required via --trader-address or TRADER_ADDRESS")
	}
	if !common.IsHexAddress(trader) {
		return args{}, fmt.Errorf("invalid trader address %q", trader)
	}
	trader = strings.ToLower(common.HexToAddress(trader).Hex())

	if budgetFlag <= 0 {
		return args{}, fmt.Errorf("--budget must be > 0, got %v", budgetFlag)
	}
	if copyPctFlag <= 0 || copyPctFlag > 100 {
		return args{}, fmt.Errorf("--copy-percentage must be in (0,100], got %v", copyPctFlag)
	}
	if maxTradeFlag <= 0 || maxTradeFlag > 100 {
		return args{}, fmt.Errorf("--max-trade-size must be in (0,100], got %v", maxTradeFlag)
	}

	parsed := args{
		trader:        trader,
		traderShort:   trader[len(trader)-6:],
		live:          liveFlag,
		budget:        decimal.NewFromFloat(budgetFlag),
		copyPct:       decimal.NewFromFloat(copyPctFlag).Div(decimal.NewFromInt(100)),
		maxTradePct:   decimal.NewFromFloat(maxTradeFlag).Div(decimal.NewFromInt(100)),
		configFile:    configFlag,
		outFile:       strings.TrimSpace(outFlag),
		signatureType: signatureTypeFlag,
		apiNonce:      apiNonceFlag,
	}

	if liveFlag {
		parsed.privateKeyHex = firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))
		if parsed.privateKeyHex == "" {
			return args{}, fmt.Errorf("--live requires a private key (set CLOB_PRIVATE_KEY or PRIVATE_KEY)")
		}

		funderRaw := strings.TrimSpace(funderFlag)
		if funderRaw == "" {
			funderRaw = strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER")))
		}
		if funderRaw != "" {
			if !common.IsHexAddress(funderRaw) {
				return args{}, fmt.Errorf("invalid funder: %q", funderRaw)
			}
			parsed.funder = common.HexToAddress(funderRaw)
		}

		parsed.apiKey = strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_API_KEY"), os.Getenv("API_KEY")))
		parsed.apiSecret = strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SECRET"), os.Getenv("SECRET")))
		parsed.apiPassphrase = strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_PASSPHRASE"), os.Getenv("PASSPHRASE")))
	}

	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func safePrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("private key missing")
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}
