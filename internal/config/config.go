package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings loaded from a YAML file with environment
// variable overrides. Secrets (private key, API creds) are env-only.
type Config struct {
	Endpoints struct {
		DataAPIURL string `yaml:"data_api_url"`
		GammaURL   string `yaml:"gamma_url"`
		ClobURL    string `yaml:"clob_url"`
		RtdsWsURL  string `yaml:"rtds_ws_url"`
	} `yaml:"endpoints"`
	Settings struct {
		PollIntervalSecs   int     `yaml:"poll_interval_secs"`
		TradeFetchLimit    int     `yaml:"trade_fetch_limit"`
		MinOrderUSD        float64 `yaml:"min_order_usd"`
		SeenTradesCapacity int     `yaml:"seen_trades_capacity"`
		RestingMaxAgeSecs  int     `yaml:"resting_max_age_secs"`
		OutFile            string  `yaml:"out_file"`
	} `yaml:"settings"`
}

// Load reads config from a YAML file (missing file is fine), then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DATA_API_URL"); v != "" {
		cfg.Endpoints.DataAPIURL = v
	}
	if v := os.Getenv("GAMMA_URL"); v != "" {
		cfg.Endpoints.GammaURL = v
	}
	if v := os.Getenv("CLOB_URL"); v != "" {
		cfg.Endpoints.ClobURL = v
	}
	if v := os.Getenv("RTDS_WS_URL"); v != "" {
		cfg.Endpoints.RtdsWsURL = v
	}
	if v := os.Getenv("POLL_INTERVAL_SECS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SECS %q: %w", v, err)
		}
		cfg.Settings.PollIntervalSecs = n
	}
	if v := os.Getenv("MIN_ORDER_USD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MIN_ORDER_USD %q: %w", v, err)
		}
		cfg.Settings.MinOrderUSD = f
	}
	if v := os.Getenv("COPYTRADE_OUT_FILE"); v != "" {
		cfg.Settings.OutFile = v
	}

	// Defaults
	if cfg.Endpoints.DataAPIURL == "" {
		cfg.Endpoints.DataAPIURL = "https://data-api.polymarket.com"
	}
	if cfg.Endpoints.GammaURL == "" {
		cfg.Endpoints.GammaURL = "https://gamma-api.polymarket.com"
	}
	if cfg.Endpoints.ClobURL == "" {
		cfg.Endpoints.ClobURL = "https://clob.polymarket.com"
	}
	if cfg.Endpoints.RtdsWsURL == "" {
		cfg.Endpoints.RtdsWsURL = "wss://ws-live-data.polymarket.com"
	}
	if cfg.Settings.PollIntervalSecs <= 0 {
		cfg.Settings.PollIntervalSecs = 10
	}
	if cfg.Settings.TradeFetchLimit <= 0 {
		cfg.Settings.TradeFetchLimit = 50
	}
	if cfg.Settings.MinOrderUSD <= 0 {
		cfg.Settings.MinOrderUSD = 1.00
	}
	if cfg.Settings.SeenTradesCapacity <= 0 {
		cfg.Settings.SeenTradesCapacity = 512
	}
	if cfg.Settings.RestingMaxAgeSecs <= 0 {
		cfg.Settings.RestingMaxAgeSecs = 600
	}
	if cfg.Settings.OutFile == "" {
		cfg.Settings.OutFile = "./out/copytrade.jsonl"
	}

	return cfg, nil
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Settings.PollIntervalSecs) * time.Second
}

// RestingMaxAge returns the resting-order max age as a duration.
func (c *Config) RestingMaxAge() time.Duration {
	return time.Duration(c.Settings.RestingMaxAgeSecs) * time.Second
}
