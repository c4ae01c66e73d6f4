package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/flemosr/polymarket-copytrade/internal/engine"
	"github.com/flemosr/polymarket-copytrade/internal/jsonl"
	"github.com/flemosr/polymarket-copytrade/internal/state"
)

const (
	triggerInitialReplication = "initial_replication"
	triggerTradeDetected      = "trade_detected"
)

// copytradeEvent is one reconciliation cycle's full record. It goes to
// stdout as a JSON line and, when configured, to the JSONL trade log.
type copytradeEvent struct {
	Timestamp        string                  `json:"timestamp"`
	Trigger          string                  `json:"trigger"`
	Mode             string                  `json:"mode"`
	Trader           string                  `json:"trader"`
	DetectedTrades   []string                `json:"detected_trades,omitempty"`
	Orders           []engine.Order          `json:"orders"`
	ExecutionResults []state.ExecutionResult `json:"execution_results,omitempty"`
	BudgetRemaining  decimal.Decimal         `json:"budget_remaining"`
	TotalSpent       decimal.Decimal         `json:"total_spent"`
}

// exitEvent wraps the terminal summary so the trade log stays one event
// schema per line.
type exitEvent struct {
	Timestamp string            `json:"timestamp"`
	Event     string            `json:"event"`
	Mode      string            `json:"mode"`
	Trader    string            `json:"trader"`
	Summary   state.ExitSummary `json:"summary"`
}

func copyMode(live bool) string {
	if live {
		return "live"
	}
	return "dry"
}

func emitEvent(w *jsonl.Writer, ev any) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[warn] event marshal failed: %v", err)
		return
	}
	fmt.Println(string(b))

	if err := w.Write(ev); err != nil {
		log.Printf("[warn] trade log write failed: %v", err)
	}
}
