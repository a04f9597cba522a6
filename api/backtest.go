package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

type runBacktestRequest struct {
	AlgorithmID    string `json:"algorithmId"`
	Symbol         string `json:"symbol"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	InitialCapital string `json:"initialCapital,omitempty"`
	Interval       string `json:"interval,omitempty"`
}

// handleRunBacktest creates a Backtest row in status=running and launches
// the replay in the background, per §1C's supplemented async-run-then-poll
// pattern; the response is the just-created record, not the final metrics.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req runBacktestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AlgorithmID == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "algorithmId and symbol are required")
		return
	}

	userID := userIDFrom(r)
	if _, err := s.store.GetAlgorithm(userID, req.AlgorithmID); err != nil {
		writeNotFoundOr500(w, err)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate; use YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate; use YYYY-MM-DD")
		return
	}

	initialCapital := models.DefaultInitialBalance
	if req.InitialCapital != "" {
		v, err := decimal.NewFromString(req.InitialCapital)
		if err != nil || v.Sign() <= 0 {
			writeError(w, http.StatusBadRequest, "initialCapital must be a positive number")
			return
		}
		initialCapital = v
	}

	interval := models.Interval(req.Interval)
	if interval == "" {
		interval = models.Interval1d
	}

	bt, err := s.store.CreateBacktest(userID, req.AlgorithmID, req.Symbol, start, end, initialCapital)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.bt.Run(context.Background(), bt.ID, userID, req.AlgorithmID, req.Symbol, start, end, initialCapital, interval)

	writeCreated(w, bt)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bt, err := s.store.GetBacktest(userIDFrom(r), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, bt)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	algorithmID := chi.URLParam(r, "algorithmID")
	bts, err := s.store.ListBacktestsForAlgorithm(userIDFrom(r), algorithmID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, bts)
}
