package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketedge/qtrader/internal/analytics"
	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/dashboard"
	"github.com/marketedge/qtrader/internal/decisionlog"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/storage"
	"github.com/shopspring/decimal"
)

// Server holds all dependencies for the dashboard's read-only HTTP API.
type Server struct {
	store    *storage.Store
	symbols  []string
	cfg      *config.Config
	logger   *log.Logger
	hub      *clientHub
	listener *dashboard.EventListener
}

func main() {
	port := flag.String("port", "8081", "dashboard server port")
	flag.Parse()

	logger := log.New(os.Stdout, "[dashboard] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	dbURL := cfg.DashboardDatabaseURL
	if dbURL == "" {
		dbURL = cfg.DatabaseURL
	}

	store, err := storage.Open(context.Background(), dbURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	hub := newClientHub(logger)

	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		store:   store,
		symbols: cfg.Symbols,
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
	}

	eventListener := dashboard.NewEventListener(dbURL, server.broadcastDecisionEvent, logger)
	server.listener = eventListener

	go hub.Run()
	logger.Println("dashboard hub: started")

	eventListener.Start(ctx)
	logger.Println("event listener: started")

	go server.startPeriodicBroadcast(ctx)
	logger.Println("periodic broadcast: started")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/bankroll", server.handleBankroll)
	mux.HandleFunc("/api/metrics", server.handleMetrics)
	mux.HandleFunc("/api/positions/open", server.handlePositionsOpen)
	mux.HandleFunc("/api/charts/equity", server.handleChartsEquity)
	mux.HandleFunc("/api/status", server.handleStatus)
	mux.HandleFunc("/api/decisions/recent", server.handleDecisionsRecent)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ws", server.handleWebSocket)

	httpServer := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		server.logger.Printf("dashboard API starting on port %s", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.logger.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	server.logger.Println("shutting down dashboard server...")
	cancel()
	time.Sleep(100 * time.Millisecond)

	eventListener.Stop()
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		server.logger.Printf("shutdown error: %v", err)
	}

	hub.Shutdown()
	server.logger.Println("dashboard server stopped")
}

// latestPrices fetches the most recent stored close per symbol, used as the
// mark price for Bankroll's unrealized P&L.
func (s *Server) latestPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(s.symbols))
	for _, symbol := range s.symbols {
		latest, err := s.store.GetLatestBarTime(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if latest.IsZero() {
			continue
		}
		bars, err := s.store.GetBars(ctx, symbol, latest, latest)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			prices[symbol] = decimal.NewFromFloat(bars[len(bars)-1].Close)
		}
	}
	return prices, nil
}

// handleBankroll returns the current bankroll summary across every traded
// symbol.
func (s *Server) handleBankroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	prices, err := s.latestPrices(ctx)
	if err != nil {
		s.logger.Printf("failed to load latest prices: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load prices")
		return
	}

	roll, err := s.store.Ledger(decimal.NewFromFloat(s.cfg.StartingCash)).Bankroll(ctx, prices)
	if err != nil {
		s.logger.Printf("failed to compute bankroll: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to compute bankroll")
		return
	}

	s.respondJSON(w, http.StatusOK, bankrollResponse(roll))
}

func bankrollResponse(roll ledger.Bankroll) BankrollResponse {
	f := func(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }
	return BankrollResponse{
		Cash:            f(roll.Cash),
		OpenCostBasis:   f(roll.OpenCostBasis),
		OpenMarketValue: f(roll.OpenMarketValue),
		UnrealizedPnL:   f(roll.UnrealizedPnL),
		RealizedPnL:     f(roll.RealizedPnL),
		TotalPnL:        f(roll.TotalPnL),
		NetWorth:        f(roll.NetWorth),
		ROIPercent:      f(roll.ROIPercent),
		WinRatePercent:  f(roll.WinRatePercent),
		Timestamp:       time.Now(),
	}
}

// handleMetrics returns one symbol's performance report.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	trades, err := s.store.Ledger(decimal.NewFromFloat(s.cfg.StartingCash)).Trades(r.Context(), symbol)
	if err != nil {
		s.logger.Printf("failed to get trades for %s: %v", symbol, err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}

	report := analytics.Analyze(trades, s.cfg.StartingCash)
	s.respondJSON(w, http.StatusOK, metricsResponse(symbol, report))
}

func metricsResponse(symbol string, report *analytics.PerformanceReport) MetricsResponse {
	return MetricsResponse{
		Symbol:        symbol,
		TotalTrades:   report.TotalTrades,
		WinningTrades: report.WinningTrades,
		LosingTrades:  report.LosingTrades,
		WinRate:       report.WinRate,
		TotalPnL:      report.TotalPnL,
		AvgPnL:        report.AveragePnL,
		GrossProfit:   report.GrossProfit,
		GrossLoss:     report.GrossLoss,
		MaxDrawdown:   report.MaxDrawdown,
		SharpeRatio:   report.SharpeRatio,
		ProfitFactor:  report.ProfitFactor,
		Timestamp:     time.Now(),
	}
}

// handlePositionsOpen returns every open lot across the traded universe.
func (s *Server) handlePositionsOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	ldgr := s.store.Ledger(decimal.NewFromFloat(s.cfg.StartingCash))

	var positions []PositionResponse
	for _, symbol := range s.symbols {
		trades, err := ldgr.Trades(ctx, symbol)
		if err != nil {
			s.logger.Printf("failed to get trades for %s: %v", symbol, err)
			s.respondError(w, http.StatusInternalServerError, "failed to fetch positions")
			return
		}
		for _, t := range trades {
			if t.Action != ledger.ActionBuy || t.Status != ledger.StatusOpen {
				continue
			}
			qty, _ := t.Quantity.Float64()
			price, _ := t.Price.Float64()
			positions = append(positions, PositionResponse{
				ID: t.ID, Symbol: t.Symbol, Quantity: int64(qty), Price: price, OpenedAt: t.OpenedAt,
			})
		}
	}

	s.respondJSON(w, http.StatusOK, PositionsResponse{Positions: positions, Timestamp: time.Now()})
}

// handleChartsEquity returns one symbol's equity curve for charting.
func (s *Server) handleChartsEquity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	trades, err := s.store.Ledger(decimal.NewFromFloat(s.cfg.StartingCash)).Trades(r.Context(), symbol)
	if err != nil {
		s.logger.Printf("failed to get trades for %s: %v", symbol, err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}

	curve := analytics.EquityCurve(trades, s.cfg.StartingCash)
	points := make([]EquityCurvePoint, len(curve))
	for i, p := range curve {
		points[i] = EquityCurvePoint{Date: p.Date, Equity: p.Equity, Drawdown: p.Drawdown}
	}

	s.respondJSON(w, http.StatusOK, EquityCurveResponse{Symbol: symbol, Points: points, Timestamp: time.Now()})
}

// handleStatus reports whether the trading loop's configured universe is
// reachable.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.store.Ping(r.Context()); err != nil {
		s.respondJSON(w, http.StatusOK, StatusResponse{
			IsRunning: false, Symbols: s.symbols, Message: fmt.Sprintf("database unreachable: %v", err), Timestamp: time.Now(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, StatusResponse{
		IsRunning: true, Symbols: s.symbols,
		Message:   fmt.Sprintf("%d symbols configured", len(s.symbols)),
		Timestamp: time.Now(),
	})
}

// handleDecisionsRecent returns the most recent decision events for a
// symbol.
func (s *Server) handleDecisionsRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	events, err := s.store.Recent(r.Context(), symbol, 50)
	if err != nil {
		s.logger.Printf("failed to get decision events for %s: %v", symbol, err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch decision events")
		return
	}

	s.respondJSON(w, http.StatusOK, DecisionEventsResponse{
		Symbol: symbol, Events: decisionEventResponses(events), Timestamp: time.Now(),
	})
}

func decisionEventResponses(events []decisionlog.Event) []DecisionEventResponse {
	out := make([]DecisionEventResponse, len(events))
	for i, e := range events {
		values := make(map[string]float64, len(e.ActionValues))
		for action, v := range e.ActionValues {
			values[string(action)] = v
		}
		out[i] = DecisionEventResponse{
			ID: e.ID, Symbol: e.Symbol, Timestamp: e.Timestamp, Action: string(e.Action),
			Executed: e.Executed, Exploring: e.Exploring, Refused: e.Refused,
			RefusalReason: string(e.RefusalReason), Rationale: e.Rationale,
			ActionValues: values, Reward: e.Reward,
		}
	}
	return out
}

// handleHealth returns a liveness check for the process itself.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: http.StatusText(status), Message: message, Code: status, Timestamp: time.Now(),
	})
}
