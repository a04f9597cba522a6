// Package engine implements the Live Execution Engine (§4.5): one
// recurring per-algorithm task that polls quotes, evaluates rules in
// order, and submits fills to the Bookkeeper.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/bookkeeper"
	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/internal/marketdata"
	"github.com/paperdesk/paperdeskd/internal/rules"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// Errors returned by Start, per §4.5.
var (
	ErrAlreadyRunning = errors.New("engine: algorithm already running")
	ErrNotActive      = errors.New("engine: algorithm is not active")
	ErrNoRules        = errors.New("engine: algorithm has no rules")
)

// runningAlgorithm is the process-local task handle for one running
// algorithm, tracked in Engine.running (§5: "running_algorithms is a
// process-local mapping... mutating operations MUST be serialized by a
// single mutex").
type runningAlgorithm struct {
	cancel    context.CancelFunc
	done      chan struct{}
	lastCheck time.Time
	mu        sync.Mutex
}

// Engine owns the in-memory registry of running algorithms and drives
// their recurring ticks.
type Engine struct {
	store   *ledger.Store
	books   *bookkeeper.Bookkeeper
	market  *marketdata.Provider
	tick    time.Duration
	symbols []string

	mu      sync.Mutex
	running map[string]*runningAlgorithm
}

// New constructs an Engine. tickPeriod and defaultSymbols come from
// config.EngineConfig.
func New(store *ledger.Store, books *bookkeeper.Bookkeeper, market *marketdata.Provider, tickPeriod time.Duration, defaultSymbols []string) *Engine {
	return &Engine{
		store:   store,
		books:   books,
		market:  market,
		tick:    tickPeriod,
		symbols: defaultSymbols,
		running: make(map[string]*runningAlgorithm),
	}
}

// Start validates and registers algorithmID's recurring task, performing
// one immediate EvaluateOnce before returning (§4.5).
func (e *Engine) Start(algorithmID, userID string, symbols []string) error {
	e.mu.Lock()
	if _, ok := e.running[algorithmID]; ok {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	algo, err := e.store.GetAlgorithm(userID, algorithmID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("engine: %w", err)
		}
		return err
	}
	if !algo.IsActive {
		return ErrNotActive
	}
	n, err := e.store.CountRules(algorithmID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRules
	}
	if len(symbols) == 0 {
		symbols = e.symbols
	}

	ctx, cancel := context.WithCancel(context.Background())
	ra := &runningAlgorithm{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if _, ok := e.running[algorithmID]; ok {
		e.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	e.running[algorithmID] = ra
	e.mu.Unlock()

	e.evaluateOnceSafe(algorithmID, userID, symbols, ra)
	go e.loop(ctx, algorithmID, userID, symbols, ra)

	return nil
}

// Stop cancels algorithmID's recurring task and clears its registry
// entry. Idempotent.
func (e *Engine) Stop(algorithmID string) {
	e.mu.Lock()
	ra, ok := e.running[algorithmID]
	if ok {
		delete(e.running, algorithmID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	ra.cancel()
	<-ra.done
}

// Shutdown cancels every registered algorithm's task and waits for each to
// drain its in-flight evaluation, bounded by ctx's deadline (§5: "Process
// shutdown cancels all timers and drains in-flight evaluations with a
// bounded deadline"). It clears the registry as each algorithm confirms it
// has stopped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ras := make(map[string]*runningAlgorithm, len(e.running))
	for id, ra := range e.running {
		ras[id] = ra
	}
	e.mu.Unlock()

	for id, ra := range ras {
		ra.cancel()
		select {
		case <-ra.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
	}
	return nil
}

// Running returns the set of currently registered algorithm identifiers.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.running))
	for id := range e.running {
		out = append(out, id)
	}
	return out
}

func (e *Engine) loop(ctx context.Context, algorithmID, userID string, symbols []string, ra *runningAlgorithm) {
	defer close(ra.done)
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluateOnceSafe(algorithmID, userID, symbols, ra)
		}
	}
}

// evaluateOnceSafe wraps EvaluateOnce with panic recovery, per §4.5:
// "A panic MUST be caught and logged; the task continues on the next
// tick."
func (e *Engine) evaluateOnceSafe(algorithmID, userID string, symbols []string, ra *runningAlgorithm) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: algorithm %s panicked during evaluate_once: %v", algorithmID, r)
		}
	}()
	if err := e.EvaluateOnce(algorithmID, userID, symbols); err != nil {
		log.Printf("engine: algorithm %s evaluate_once error: %v", algorithmID, err)
	}
	ra.mu.Lock()
	ra.lastCheck = time.Now().UTC()
	ra.mu.Unlock()
}

// EvaluateOnce runs one tick of the rule engine for algorithmID against
// symbols, per §4.5's procedure. Errors fetching quotes or applying
// fills are logged and swallowed by the caller (evaluateOnceSafe); this
// method itself returns the first hard error encountered setting up the
// tick (e.g. failing to load the account), since those indicate a
// misconfigured algorithm rather than a transient market condition.
func (e *Engine) EvaluateOnce(algorithmID, userID string, symbols []string) error {
	ctx := context.Background()
	account, err := e.store.EnsureAccount(userID)
	if err != nil {
		return fmt.Errorf("engine: load account: %w", err)
	}
	ruleSet, err := e.store.ListRules(algorithmID)
	if err != nil {
		return fmt.Errorf("engine: load rules: %w", err)
	}

	quotes := e.market.GetMultipleQuotes(ctx, symbols)
	for symbol, quote := range quotes {
		if err := e.evaluateSymbol(algorithmID, account.ID, symbol, quote, ruleSet); err != nil {
			log.Printf("engine: algorithm %s symbol %s: %v", algorithmID, symbol, err)
		}
	}
	return nil
}

func (e *Engine) evaluateSymbol(algorithmID, accountID, symbol string, quote *models.Quote, ruleSet []models.Rule) error {
	account, err := e.store.GetAccount(accountID)
	if err != nil {
		return err
	}
	mctx := rules.FromQuote(quote, mustFloat(account.Balance))

	pos, err := e.store.GetPosition(accountID, symbol)
	switch {
	case err == nil:
		mctx.Position = positionContextFromQuote(pos, quote.Price)
	case errors.Is(err, ledger.ErrNotFound):
		// no position — left nil, per §4.3
	default:
		return err
	}

	for _, rule := range ruleSet {
		if !rules.Evaluate(rule, mctx) {
			continue
		}
		intent, err := rules.Execute(rule.Action, mctx)
		if err != nil {
			log.Printf("engine: algorithm %s rule %s: %v", algorithmID, rule.ID, err)
			continue
		}
		if intent.Quantity <= 0 {
			continue
		}
		algoID := algorithmID
		if err := e.submit(accountID, &algoID, symbol, intent, quote); err != nil {
			log.Printf("engine: algorithm %s rule %s fill error: %v", algorithmID, rule.ID, err)
			continue
		}
		// A later rule in the same tick must see the ledger state this
		// fill produced (§4.5), so refresh balance/position before the
		// next rule evaluates.
		account, err = e.store.GetAccount(accountID)
		if err != nil {
			return err
		}
		mctx.Balance = mustFloat(account.Balance)
		pos, err = e.store.GetPosition(accountID, symbol)
		if errors.Is(err, ledger.ErrNotFound) {
			mctx.Position = nil
		} else if err == nil {
			mctx.Position = positionContextFromQuote(pos, quote.Price)
		} else {
			return err
		}
	}
	return nil
}

// positionContextFromQuote builds a PositionContext whose unrealized P/L
// fields are derived from the live quote price rather than pos's
// persisted (and possibly stale) current_price, so "position.unrealizedPL"
// / "position.unrealizedPLPercent" condition_fields (§3) reflect this
// tick's market data rather than the last recompute_market_values run.
func positionContextFromQuote(pos *models.Position, quotePrice decimal.Decimal) *rules.PositionContext {
	qty := decimal.NewFromInt(pos.Quantity)
	marketValue := quotePrice.Mul(qty)
	cost := pos.AveragePrice.Mul(qty)
	unrealizedPL := marketValue.Sub(cost)
	unrealizedPLPercent := decimal.Zero
	if cost.IsPositive() {
		unrealizedPLPercent = unrealizedPL.Div(cost).Mul(decimal.NewFromInt(100))
	}
	return &rules.PositionContext{
		Quantity:            float64(pos.Quantity),
		AveragePrice:        mustFloat(pos.AveragePrice),
		UnrealizedPL:        mustFloat(unrealizedPL),
		UnrealizedPLPercent: mustFloat(unrealizedPLPercent),
	}
}

func (e *Engine) submit(accountID string, algoID *string, symbol string, intent *rules.Intent, quote *models.Quote) error {
	if intent.Verb == rules.VerbBuy {
		_, err := e.books.Buy(accountID, algoID, symbol, intent.Quantity, quote.Price)
		return err
	}
	_, err := e.books.Sell(accountID, algoID, symbol, intent.Quantity, quote.Price)
	return err
}

func mustFloat(d interface{ Float64() (float64, bool) }) float64 {
	v, _ := d.Float64()
	return v
}
