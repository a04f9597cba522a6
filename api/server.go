// Package api provides the HTTP REST API server for paperdeskd: algorithm
// and rule CRUD, paper-trading account/order/position/transaction reads
// and manual order placement, stock quote/history reads, and backtest
// submission/polling (§6).
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paperdesk/paperdeskd/internal/backtest"
	"github.com/paperdesk/paperdeskd/internal/bookkeeper"
	"github.com/paperdesk/paperdeskd/internal/config"
	"github.com/paperdesk/paperdeskd/internal/engine"
	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/internal/marketdata"
)

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config

	store  *ledger.Store
	books  *bookkeeper.Bookkeeper
	market *marketdata.Provider
	engine *engine.Engine
	bt     *backtest.Engine
}

// NewServer wires the Ledger Store, Bookkeeper, Market Data Provider,
// Live Execution Engine, and Backtest Engine behind a chi router,
// following the teacher's buildRouter/NewServer split.
func NewServer(cfg *config.Config) (*Server, error) {
	store, err := ledger.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	books := bookkeeper.New(store)
	market := marketdata.New(cfg.MarketData, cfg.Engine.QuoteTimeout())
	eng := engine.New(store, books, market, cfg.Engine.TickPeriod(), cfg.Engine.DefaultSymbols)
	bt := backtest.New(store, market)

	srv := &Server{
		cfg:    cfg,
		store:  store,
		books:  books,
		market: market,
		engine: eng,
		bt:     bt,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close releases the Ledger Store's underlying database connection.
func (s *Server) Close() error {
	return s.store.Close()
}

// ListenAndServe starts the HTTP server with graceful shutdown, mirroring
// the teacher's signal-driven shutdown sequence.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-done
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.engine.Shutdown(ctx); err != nil {
		log.Printf("engine shutdown: %v", err)
	}

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.Server.CORSOrigins) > 0 {
		origins = s.cfg.Server.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Auth.JWTSecret))

		r.Route("/algorithms", func(r chi.Router) {
			r.Get("/", s.handleListAlgorithms)
			r.Post("/", s.handleCreateAlgorithm)
			r.Get("/{id}", s.handleGetAlgorithm)
			r.Put("/{id}", s.handleUpdateAlgorithm)
			r.Delete("/{id}", s.handleDeleteAlgorithm)
			r.Patch("/{id}/toggle", s.handleToggleAlgorithm)

			r.Post("/{id}/rules", s.handleCreateRule)
			r.Put("/{id}/rules/{ruleID}", s.handleUpdateRule)
			r.Delete("/{id}/rules/{ruleID}", s.handleDeleteRule)
		})

		r.Route("/paper-trading", func(r chi.Router) {
			r.Get("/account", s.handleGetAccount)
			r.Get("/positions", s.handleGetPositions)
			r.Get("/orders", s.handleGetOrders)
			r.Get("/transactions", s.handleGetTransactions)
			r.Get("/portfolio", s.handleGetPortfolio)
			r.Post("/orders", s.handlePlaceOrder)
			r.Post("/account/reset", s.handleResetAccount)
			r.Post("/algorithms/{id}/start", s.handleStartAlgorithm)
			r.Post("/algorithms/{id}/stop", s.handleStopAlgorithm)
			r.Get("/algorithms/running", s.handleRunningAlgorithms)
		})

		r.Route("/stocks", func(r chi.Router) {
			r.Get("/quote/{symbol}", s.handleQuote)
			r.Post("/quotes", s.handleMultiQuote)
			r.Get("/history/{symbol}", s.handleHistory)
		})

		r.Route("/backtest", func(r chi.Router) {
			r.Post("/run", s.handleRunBacktest)
			r.Get("/{id}", s.handleGetBacktest)
			r.Get("/algorithm/{algorithmID}", s.handleListBacktests)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status": "ok",
		},
	})
}

// APIResponse is the standard JSON envelope for every handler.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func writeCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
