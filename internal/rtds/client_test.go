package rtds

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTradeSubscriptionJSONShape(t *testing.T) {
	sub, err := tradeSubscription("0xabc123")
	if err != nil {
		t.Fatalf("tradeSubscription: %v", err)
	}
	req := subscribeRequest{Action: "subscribe", Subscriptions: []subscription{sub}}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := m["action"].(string); !ok || got != "subscribe" {
		t.Fatalf("action mismatch: %#v", m["action"])
	}
	subs, ok := m["subscriptions"].([]any)
	if !ok || len(subs) != 1 {
		t.Fatalf("subscriptions mismatch: %#v", m["subscriptions"])
	}
	sub0, ok := subs[0].(map[string]any)
	if !ok {
		t.Fatalf("subscription[0] type mismatch: %#v", subs[0])
	}
	if got := sub0["topic"]; got != "activity" {
		t.Fatalf("topic mismatch: got=%#v want=%q", got, "activity")
	}
	if got := sub0["type"]; got != "trades" {
		t.Fatalf("type mismatch: got=%#v want=%q", got, "trades")
	}
	// Filters must stay a JSON string, not a nested object.
	if got := sub0["filters"]; got != `{"user":"0xabc123"}` {
		t.Fatalf("filters mismatch: got=%#v want=%q", got, `{"user":"0xabc123"}`)
	}
}

func TestTradeMatchesWallet(t *testing.T) {
	frame := func(topic, typ, payload string) envelope {
		return envelope{Topic: topic, Type: typ, Payload: json.RawMessage(payload)}
	}
	wallet := "0xabc123"

	cases := []struct {
		name string
		m    envelope
		want bool
	}{
		{"matching trade", frame("activity", "trades", `{"proxyWallet":"0xABC123","transactionHash":"0x1"}`), true},
		{"other wallet", frame("activity", "trades", `{"proxyWallet":"0xdef456"}`), false},
		{"wrong topic", frame("clob_market", "trades", `{"proxyWallet":"0xabc123"}`), false},
		{"wrong type", frame("activity", "orders_matched", `{"proxyWallet":"0xabc123"}`), false},
		{"empty payload", frame("activity", "trades", ``), false},
		{"bad payload", frame("activity", "trades", `not json`), false},
	}
	for _, tc := range cases {
		if got := tradeMatchesWallet(tc.m, wallet); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	if o.PingInterval != DefaultPingInterval {
		t.Fatalf("PingInterval: got=%s want=%s", o.PingInterval, DefaultPingInterval)
	}
	if o.BackoffMin <= 0 || o.BackoffMax <= 0 {
		t.Fatalf("backoff defaults missing: %#v", o)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	if got := nextBackoff(2*time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("got=%s want=%s", got, 3*time.Second)
	}
	if got := nextBackoff(250*time.Millisecond, 3*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got=%s want=%s", got, 500*time.Millisecond)
	}
}
