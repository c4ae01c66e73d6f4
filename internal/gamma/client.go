package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// tokensPerRequest bounds the clob_token_ids query parameter length.
const tokensPerRequest = 20

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
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

// stringList handles Gamma's habit of returning lists as a JSON string that
// itself contains a JSON array.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

type market struct {
	Slug          string     `json:"slug"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	OutcomePrices stringList `json:"outcomePrices"`
}

// ResolvePrices looks up current prices for CLOB token IDs via
// GET /markets?clob_token_ids=. Each market row carries parallel
// clobTokenIds and outcomePrices arrays; prices are matched by index.
// Every requested token must resolve or an error is returned.
func (c *Client) ResolvePrices(ctx context.Context, tokenIDs []string) (map[string]decimal.Decimal, error) {
	if c == nil {
		return nil, fmt.Errorf("gamma client nil")
	}

	prices := make(map[string]decimal.Decimal, len(tokenIDs))
	pending := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return prices, nil
	}

	for start := 0; start < len(pending); start += tokensPerRequest {
		end := start + tokensPerRequest
		if end > len(pending) {
			end = len(pending)
		}
		if err := c.fetchChunk(ctx, pending[start:end], prices); err != nil {
			return nil, err
		}
	}

	var missing []string
	for _, id := range pending {
		if _, ok := prices[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gamma: no price for token(s) %s", strings.Join(missing, ","))
	}
	return prices, nil
}

func (c *Client) fetchChunk(ctx context.Context, tokenIDs []string, prices map[string]decimal.Decimal) error {
	q := url.Values{}
	q.Set("clob_token_ids", strings.Join(tokenIDs, ","))
	endpoint := c.host + "/markets?" + q.Encode()

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
		return fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var markets []market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return fmt.Errorf("gamma decode: %w", err)
	}

	for _, m := range markets {
		for i, id := range m.ClobTokenIDs {
			id = strings.TrimSpace(id)
			if id == "" || i >= len(m.OutcomePrices) {
				continue
			}
			p, err := decimal.NewFromString(strings.TrimSpace(m.OutcomePrices[i]))
			if err != nil {
				return fmt.Errorf("gamma: bad price %q for token %s (market %s): %w", m.OutcomePrices[i], id, m.Slug, err)
			}
			prices[id] = p
		}
	}
	return nil
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}
