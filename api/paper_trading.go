package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/bookkeeper"
	"github.com/paperdesk/paperdeskd/internal/engine"
	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, account)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	positions, err := s.store.ListPositions(account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	orders, err := s.store.ListOrders(account.ID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, orders)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	txs, err := s.store.ListTransactions(account.ID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, txs)
}

// handleGetPortfolio refreshes mark-to-market values against live quotes
// before returning account + positions, per §4.2's recompute_market_values.
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	positions, err := s.store.ListPositions(account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(positions) > 0 {
		symbols := make([]string, len(positions))
		for i, p := range positions {
			symbols[i] = p.Symbol
		}
		quotes := s.market.GetMultipleQuotes(ctx, symbols)
		prices := make(map[string]decimal.Decimal, len(quotes))
		for symbol, q := range quotes {
			if q != nil {
				prices[symbol] = q.Price
			}
		}
		if len(prices) > 0 {
			if err := s.books.RecomputeMarketValues(account.ID, prices); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		account, err = s.store.GetAccount(account.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		positions, err = s.store.ListPositions(account.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeOK(w, map[string]any{
		"account":   account,
		"positions": positions,
	})
}

type placeOrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     models.OrderSide `json:"side"`
	Quantity int64            `json:"quantity"`
	Type     models.OrderType `json:"type,omitempty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = models.Market
	}

	ctx := r.Context()
	quote, err := s.market.GetQuote(ctx, req.Symbol)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if errs := bookkeeper.ValidateManualOrder(req.Symbol, req.Side, req.Type, req.Quantity, quote.Price); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, errs[0])
		return
	}

	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var fill *ledger.FillResult
	if req.Side == models.Buy {
		fill, err = s.books.Buy(account.ID, nil, req.Symbol, req.Quantity, quote.Price)
	} else {
		fill, err = s.books.Sell(account.ID, nil, req.Symbol, req.Quantity, quote.Price)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInsufficientShares) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeCreated(w, map[string]any{
		"order":       fill.Order,
		"transaction": fill.Transaction,
		"balance":     fill.Balance,
	})
}

func (s *Server) handleResetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.books.Reset(account.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	account, err = s.store.GetAccount(account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, account)
}

type startAlgorithmRequest struct {
	Symbols []string `json:"symbols,omitempty"`
}

func (s *Server) handleStartAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req startAlgorithmRequest
	_ = decodeJSON(r, &req) // empty body is valid — start with default symbols

	if err := s.engine.Start(id, userIDFrom(r), req.Symbols); err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotActive), errors.Is(err, engine.ErrNoRules):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeOK(w, map[string]string{"started": id})
}

func (s *Server) handleStopAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.engine.Stop(id)
	writeOK(w, map[string]string{"stopped": id})
}

func (s *Server) handleRunningAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.Running())
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
