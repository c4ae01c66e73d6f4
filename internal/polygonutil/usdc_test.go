package polygonutil

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDollarsFromUnits(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		if got := dollarsFromUnits(nil); !got.IsZero() {
			t.Fatalf("got %s, want 0", got)
		}
	})

	t.Run("zero", func(t *testing.T) {
		t.Parallel()
		if got := dollarsFromUnits(big.NewInt(0)); !got.IsZero() {
			t.Fatalf("got %s, want 0", got)
		}
	})

	t.Run("negative", func(t *testing.T) {
		t.Parallel()
		if got := dollarsFromUnits(big.NewInt(-1)); !got.IsZero() {
			t.Fatalf("got %s, want 0", got)
		}
	})

	t.Run("whole_dollars", func(t *testing.T) {
		t.Parallel()
		want := decimal.RequireFromString("123.456789")
		if got := dollarsFromUnits(big.NewInt(123_456_789)); !got.Equal(want) {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("exceeds_uint64", func(t *testing.T) {
		t.Parallel()
		units, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
		got := dollarsFromUnits(units)
		want := decimal.RequireFromString("340282366920938463463374.607431768211455")
		if !got.Equal(want) {
			t.Fatalf("got %s, want %s", got, want)
		}
	})
}

func TestRPCURLFromEnv(t *testing.T) {
	t.Setenv("RPC_WS_URL", "")
	t.Setenv("RPC_URL", "")
	t.Setenv("POLYGON_WS_URL", "")
	if _, err := RPCURLFromEnv(); err == nil {
		t.Fatalf("expected error when no RPC env set")
	}

	t.Setenv("RPC_WS_URL", "ftp://nope")
	if _, err := RPCURLFromEnv(); err == nil {
		t.Fatalf("expected error for non-ws non-http scheme")
	}

	t.Setenv("RPC_WS_URL", "wss://polygon.example/YOUR_KEY")
	if _, err := RPCURLFromEnv(); err == nil {
		t.Fatalf("expected error for placeholder key")
	}

	t.Setenv("RPC_WS_URL", "wss://polygon.example/abc")
	got, err := RPCURLFromEnv()
	if err != nil {
		t.Fatalf("RPCURLFromEnv: %v", err)
	}
	if got != "wss://polygon.example/abc" {
		t.Fatalf("got %q", got)
	}
}
