// Package rtds watches Polymarket's real-time data socket for trade
// activity from one wallet so the poll loop can wake early instead of
// waiting out the full interval.
package rtds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://ws-live-data.polymarket.com"

const DefaultPingInterval = 5 * time.Second

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`

	// Filters is a JSON string (not an object).
	Filters string `json:"filters,omitempty"`
}

type subscribeRequest struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

// envelope matches the RTDS message frame. Payload stays raw so only
// relevant topics pay for a second decode.
type envelope struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// activityTrade is the payload of activity/trades frames.
type activityTrade struct {
	ProxyWallet     string `json:"proxyWallet"`
	TransactionHash string `json:"transactionHash"`
	Side            string `json:"side"`
	Asset           string `json:"asset"`
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	return o
}

// WatchTrades connects to the RTDS WebSocket and signals whenever wallet
// trades. Signals are coalesced to a buffered channel of one; the watcher
// reconnects with backoff until ctx ends, then closes the channel. Missed
// signals are harmless since the poll loop also runs on a timer.
func WatchTrades(ctx context.Context, url, wallet string, opts Options) <-chan struct{} {
	opts = opts.withDefaults()
	if url == "" {
		url = DefaultURL
	}
	wallet = strings.ToLower(wallet)

	nudge := make(chan struct{}, 1)

	go func() {
		defer close(nudge)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				log.Printf("[warn] rtds dial: %v", err)
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, wallet, opts.PingInterval, nudge); err != nil && ctx.Err() == nil {
				log.Printf("[warn] rtds session: %v", err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return nudge
}

func tradeSubscription(wallet string) (subscription, error) {
	filters, err := json.Marshal(map[string]string{"user": wallet})
	if err != nil {
		return subscription{}, err
	}
	return subscription{
		Topic:   "activity",
		Type:    "trades",
		Filters: string(filters),
	}, nil
}

func runSession(
	ctx context.Context,
	conn *websocket.Conn,
	wallet string,
	pingInterval time.Duration,
	nudge chan<- struct{},
) error {
	if conn == nil {
		return fmt.Errorf("rtds session: nil conn")
	}

	sub, err := tradeSubscription(wallet)
	if err != nil {
		return fmt.Errorf("rtds subscribe marshal: %w", err)
	}
	req := subscribeRequest{Action: "subscribe", Subscriptions: []subscription{sub}}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rtds subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("rtds subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
				if werr != nil {
					log.Printf("[warn] rtds ping: %v", werr)
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			// Expected during shutdown.
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rtds read: %w", err)
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}
		if string(msg) == "pong" || string(msg) == "ping" {
			continue
		}

		var m envelope
		if err := json.Unmarshal(msg, &m); err != nil {
			log.Printf("[warn] rtds json decode: %v", err)
			continue
		}

		if tradeMatchesWallet(m, wallet) {
			select {
			case nudge <- struct{}{}:
			default:
			}
		}
	}
}

// tradeMatchesWallet reports whether the frame is a trade by the watched
// wallet. The server already filters by user; the payload check guards
// against filter drift on reconnect.
func tradeMatchesWallet(m envelope, wallet string) bool {
	if m.Topic != "activity" || m.Type != "trades" {
		return false
	}
	if len(m.Payload) == 0 {
		return false
	}
	var tr activityTrade
	if err := json.Unmarshal(m.Payload, &tr); err != nil {
		return false
	}
	return strings.ToLower(tr.ProxyWallet) == wallet
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
