package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	quote, err := s.market.GetQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, quote)
}

type multiQuoteRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleMultiQuote(w http.ResponseWriter, r *http.Request) {
	var req multiQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}
	quotes := s.market.GetMultipleQuotes(r.Context(), req.Symbols)
	writeOK(w, quotes)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	rng := models.Range(r.URL.Query().Get("range"))
	if rng == "" {
		rng = models.Range3Mo
	}
	interval := models.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = models.Interval1d
	}

	bars, err := s.market.GetHistorical(r.Context(), symbol, rng, interval)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, bars)
}
