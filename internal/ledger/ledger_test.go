package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// ════════════════════════════════════════════════════════════════════════
// accounts
// ════════════════════════════════════════════════════════════════════════

func TestEnsureAccount_CreatesOnFirstAccess(t *testing.T) {
	s := newTestStore(t)
	acct, err := s.EnsureAccount("user-1")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if !acct.Balance.Equal(models.DefaultInitialBalance) {
		t.Errorf("expected balance seeded to default, got %s", acct.Balance)
	}

	again, err := s.EnsureAccount("user-1")
	if err != nil {
		t.Fatalf("ensure account (second call): %v", err)
	}
	if again.ID != acct.ID {
		t.Errorf("expected the same account to be returned, got %s vs %s", again.ID, acct.ID)
	}
}

func TestGetAccountByUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAccountByUser("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResetAccount_RestoresBalanceAndClearsPositions(t *testing.T) {
	s := newTestStore(t)
	acct, err := s.EnsureAccount("user-1")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if _, err := s.ApplyBuy(acct.ID, nil, "AAPL", 10, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("apply buy: %v", err)
	}
	if err := s.ResetAccount(acct.ID); err != nil {
		t.Fatalf("reset account: %v", err)
	}
	refreshed, err := s.GetAccount(acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !refreshed.Balance.Equal(refreshed.InitialBalance) {
		t.Errorf("expected balance restored, got %s vs %s", refreshed.Balance, refreshed.InitialBalance)
	}
	positions, err := s.ListPositions(acct.ID)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no positions after reset, got %d", len(positions))
	}
}

// ════════════════════════════════════════════════════════════════════════
// algorithms
// ════════════════════════════════════════════════════════════════════════

// Regression test for the foreign-key bug: trading_algorithms.user_id
// references users(id), so creating an algorithm must succeed even when no
// prior EnsureAccount call has created the users row.
func TestCreateAlgorithm_SucceedsWithoutPriorAccount(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("brand-new-user", "Momentum", "buy on breakout")
	if err != nil {
		t.Fatalf("create algorithm without a prior account: %v", err)
	}
	if a.IsActive {
		t.Error("expected a freshly created algorithm to be inactive")
	}

	fetched, err := s.GetAlgorithm("brand-new-user", a.ID)
	if err != nil {
		t.Fatalf("get algorithm: %v", err)
	}
	if fetched.Name != "Momentum" {
		t.Errorf("expected name Momentum, got %s", fetched.Name)
	}
}

func TestListAlgorithms_ScopedToUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateAlgorithm("user-1", "A", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAlgorithm("user-2", "B", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := s.ListAlgorithms("user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "A" {
		t.Errorf("expected exactly user-1's algorithm, got %+v", list)
	}
}

func TestGetAlgorithm_NotOwnedByCallerIsNotFound(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetAlgorithm("user-2", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another tenant's algorithm, got %v", err)
	}
}

func TestUpdateAlgorithm_OverwritesNameAndDescription(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "old")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := s.UpdateAlgorithm("user-1", a.ID, "B", "new")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "B" || updated.Description != "new" {
		t.Errorf("expected updated fields, got %+v", updated)
	}
}

func TestToggleAlgorithm_FlipsIsActive(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	toggled, err := s.ToggleAlgorithm("user-1", a.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !toggled.IsActive {
		t.Error("expected is_active to flip to true")
	}
	toggledAgain, err := s.ToggleAlgorithm("user-1", a.ID)
	if err != nil {
		t.Fatalf("toggle again: %v", err)
	}
	if toggledAgain.IsActive {
		t.Error("expected is_active to flip back to false")
	}
}

func TestDeleteAlgorithm_CascadesRules(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := s.DeleteAlgorithm("user-1", a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetAlgorithm("user-1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected algorithm to be gone, got %v", err)
	}
	rules, err := s.ListRules(a.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected rules to cascade-delete, got %d", len(rules))
	}
}

// ════════════════════════════════════════════════════════════════════════
// rules
// ════════════════════════════════════════════════════════════════════════

func TestCreateRule_AppendsOrderIndexWhenNil(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	first, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", nil)
	if err != nil {
		t.Fatalf("create rule 1: %v", err)
	}
	second, err := s.CreateRule(a.ID, models.RuleExit, "price", models.OpLT, "90", "sell:all", nil)
	if err != nil {
		t.Fatalf("create rule 2: %v", err)
	}
	if first.OrderIndex != 0 || second.OrderIndex != 1 {
		t.Errorf("expected order_index 0 then 1, got %d then %d", first.OrderIndex, second.OrderIndex)
	}
}

func TestListRules_SortedByOrderIndex(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	second := 1
	first := 0
	if _, err := s.CreateRule(a.ID, models.RuleExit, "price", models.OpLT, "90", "sell:all", &second); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", &first); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	rules, err := s.ListRules(a.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 2 || rules[0].RuleType != models.RuleEntry || rules[1].RuleType != models.RuleExit {
		t.Errorf("expected entry rule before exit rule, got %+v", rules)
	}
}

func TestUpdateRule_Overwrites(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	r, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", nil)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	updated, err := s.UpdateRule(a.ID, r.ID, models.RuleExit, "rsi", models.OpLT, "30", "sell:all", 5)
	if err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if updated.RuleType != models.RuleExit || updated.ConditionField != "rsi" || updated.OrderIndex != 5 {
		t.Errorf("expected rule fields overwritten, got %+v", updated)
	}
}

func TestDeleteRule_RemovesOnlyThatRule(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	r1, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", nil)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.CreateRule(a.ID, models.RuleExit, "price", models.OpLT, "90", "sell:all", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := s.DeleteRule(a.ID, r1.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	rules, err := s.ListRules(a.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].RuleType != models.RuleExit {
		t.Errorf("expected only the exit rule to survive, got %+v", rules)
	}
}

func TestCountRules(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	n, err := s.CountRules(a.ID)
	if err != nil {
		t.Fatalf("count rules: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rules, got %d", n)
	}
	if _, err := s.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "100", "buy:max", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	n, err = s.CountRules(a.ID)
	if err != nil {
		t.Fatalf("count rules: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 rule, got %d", n)
	}
}

// ════════════════════════════════════════════════════════════════════════
// backtests
// ════════════════════════════════════════════════════════════════════════

func TestCreateBacktest_StartsRunning(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := s.CreateBacktest("user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}
	if b.Status != models.BacktestRunning {
		t.Errorf("expected status running, got %s", b.Status)
	}

	fetched, err := s.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if !fetched.InitialCapital.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected initial capital 10000, got %s", fetched.InitialCapital)
	}
}

func TestCompleteBacktest_TransitionsToComplete(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := s.CreateBacktest("user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}
	b.FinalCapital = decimal.NewFromInt(11000)
	b.TotalReturn = decimal.NewFromInt(1000)
	b.TotalReturnPercent = decimal.NewFromInt(10)
	b.WinRate = decimal.NewFromInt(60)
	b.MaxDrawdown = decimal.NewFromInt(5)
	b.SharpeRatio = decimal.NewFromFloat(1.2)
	if err := s.CompleteBacktest(b.ID, b, `{"trades":[]}`); err != nil {
		t.Fatalf("complete backtest: %v", err)
	}
	fetched, err := s.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if fetched.Status != models.BacktestComplete {
		t.Errorf("expected status complete, got %s", fetched.Status)
	}
	if fetched.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if !fetched.FinalCapital.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("expected final capital 11000, got %s", fetched.FinalCapital)
	}
}

func TestFailBacktest_TransitionsToFailed(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := s.CreateBacktest("user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}
	if err := s.FailBacktest(b.ID, "no bars in range"); err != nil {
		t.Fatalf("fail backtest: %v", err)
	}
	fetched, err := s.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if fetched.Status != models.BacktestFailed {
		t.Errorf("expected status failed, got %s", fetched.Status)
	}
	if fetched.Error != "no bars in range" {
		t.Errorf("expected error message preserved, got %q", fetched.Error)
	}
}

func TestListBacktestsForAlgorithm_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.CreateBacktest("user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("create backtest 1: %v", err)
	}
	if _, err := s.CreateBacktest("user-1", a.ID, "MSFT", start, end, decimal.NewFromInt(5000)); err != nil {
		t.Fatalf("create backtest 2: %v", err)
	}
	list, err := s.ListBacktestsForAlgorithm("user-1", a.ID)
	if err != nil {
		t.Fatalf("list backtests: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backtests, got %d", len(list))
	}
	if list[0].Symbol != "MSFT" {
		t.Errorf("expected the later MSFT backtest first, got %s", list[0].Symbol)
	}
}
