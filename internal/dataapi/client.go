package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultURL = "https://data-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

const positionsPageSize = 100

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("data api url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("data api url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

// Position is one row from GET /positions.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Mergeable    bool    `json:"mergeable"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	EventSlug    string  `json:"eventSlug"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	EndDate      string  `json:"endDate"`
	NegativeRisk bool    `json:"negativeRisk"`
}

// Trade is one row from GET /trades.
type Trade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
}

// GetPositions fetches one page of positions for a wallet.
func (c *Client) GetPositions(ctx context.Context, user string, limit, offset int) ([]Position, error) {
	if c == nil {
		return nil, fmt.Errorf("data api client nil")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("positions user required")
	}

	q := url.Values{}
	q.Set("user", user)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out []Position
	if err := c.getJSON(ctx, "/positions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllActivePositions pages through /positions and keeps rows that
// represent live exposure: positive current value and a price strictly
// inside (0, 1). Resolved or worthless rows are dropped.
func (c *Client) GetAllActivePositions(ctx context.Context, user string) ([]Position, error) {
	var active []Position
	for offset := 0; ; offset += positionsPageSize {
		page, err := c.GetPositions(ctx, user, positionsPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			if p.CurrentValue > 0 && p.CurPrice > 0 && p.CurPrice < 1 {
				active = append(active, p)
			}
		}
		if len(page) < positionsPageSize {
			return active, nil
		}
	}
}

// GetTrades fetches the most recent trades for a wallet, newest first.
func (c *Client) GetTrades(ctx context.Context, user string, limit int) ([]Trade, error) {
	if c == nil {
		return nil, fmt.Errorf("data api client nil")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("trades user required")
	}

	q := url.Values{}
	q.Set("user", user)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []Trade
	if err := c.getJSON(ctx, "/trades?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, pathQuery string, out any) error {
	endpoint := c.host + pathQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return fmt.Errorf("data api %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("data api decode: %w", err)
	}
	return nil
}

func readBodyLimit(r io.Reader, limit int64) string {
	if r == nil {
		return ""
	}
	if limit <= 0 {
		limit = 8 << 10
	}
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}
