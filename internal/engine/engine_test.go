package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/paperdesk/paperdeskd/internal/bookkeeper"
	"github.com/paperdesk/paperdeskd/internal/config"
	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/internal/marketdata"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

func newDevProvider(t *testing.T) *marketdata.Provider {
	t.Helper()
	cfg := config.MarketDataConfig{
		UpstreamURL:   "http://127.0.0.1:1",
		Mode:          "development",
		QuoteTTLSec:   5,
		HistoryTTLSec: 5,
	}
	return marketdata.New(cfg, 2*time.Second)
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	books := bookkeeper.New(store)
	e := New(store, books, newDevProvider(t), 50*time.Millisecond, []string{"AAPL"})
	return e, store
}

// ════════════════════════════════════════════════════════════════════════
// Start preconditions
// ════════════════════════════════════════════════════════════════════════

func TestStart_RejectsInactiveAlgorithm(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	if _, err := store.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "0", "buy:1", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := e.Start(a.ID, "user-1", nil); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestStart_RejectsAlgorithmWithNoRules(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	if _, err := store.ToggleAlgorithm("user-1", a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := e.Start(a.ID, "user-1", nil); !errors.Is(err, ErrNoRules) {
		t.Errorf("expected ErrNoRules, got %v", err)
	}
}

func TestStart_RejectsUnknownAlgorithm(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Start("does-not-exist", "user-1", nil); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected a wrapped ErrNotFound, got %v", err)
	}
}

func TestStart_RejectsAlreadyRunning(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	if _, err := store.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "0", "buy:1", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := store.ToggleAlgorithm("user-1", a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := e.Start(a.ID, "user-1", []string{"AAPL"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer e.Stop(a.ID)

	if err := e.Start(a.ID, "user-1", []string{"AAPL"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// Start/Stop lifecycle and Running()
// ════════════════════════════════════════════════════════════════════════

func TestStartStop_UpdatesRunningSet(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	if _, err := store.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "0", "buy:1", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := store.ToggleAlgorithm("user-1", a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := e.Start(a.ID, "user-1", []string{"AAPL"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	running := e.Running()
	if len(running) != 1 || running[0] != a.ID {
		t.Errorf("expected %s to be registered running, got %v", a.ID, running)
	}

	e.Stop(a.ID)
	if len(e.Running()) != 0 {
		t.Errorf("expected empty running set after stop, got %v", e.Running())
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Stop("never-started") // must not panic or block
}

// ════════════════════════════════════════════════════════════════════════
// EvaluateOnce
// ════════════════════════════════════════════════════════════════════════

func TestEvaluateOnce_FiresRuleAndSubmitsFill(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "Always Long", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	// price > 0 always fires; a single fixed-quantity buy opens a position
	// the bookkeeper can be checked against directly.
	if _, err := store.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "0", "buy:3", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if err := e.EvaluateOnce(a.ID, "user-1", []string{"AAPL"}); err != nil {
		t.Fatalf("evaluate once: %v", err)
	}

	acct, err := store.EnsureAccount("user-1")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	pos, err := store.GetPosition(acct.ID, "AAPL")
	if err != nil {
		t.Fatalf("expected a position to be opened, got error: %v", err)
	}
	if pos.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", pos.Quantity)
	}
}

func TestEvaluateOnce_UnknownAlgorithmHasNoRulesToFire(t *testing.T) {
	e, store := newTestEngine(t)
	// EvaluateOnce only needs an account + whatever rules exist for the id;
	// an algorithm id with zero rules is a no-op, not an error.
	if err := e.EvaluateOnce("no-such-algorithm", "user-1", []string{"AAPL"}); err != nil {
		t.Fatalf("expected no error for an algorithm with no rules, got %v", err)
	}
	if _, err := store.GetAccountByUser("user-1"); err != nil {
		t.Errorf("expected EvaluateOnce to still have lazily created the account, got %v", err)
	}
}
