// Package api provides the HTTP API for observing and trading in the
// simulated economy.
// GET endpoints are public (read-only observation).
// Admin POST endpoints require a bearer token.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/tradeworld/internal/engine"
	"github.com/talgya/tradeworld/internal/events"
	"github.com/talgya/tradeworld/internal/market"
	"github.com/talgya/tradeworld/internal/persistence"
)

const (
	defaultMaxStreams = 16
	defaultLimit      = 50
	maxLimit          = 500
)

// Server serves the economy over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional; enables stored event queries
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	MaxStreams   int // concurrent websocket subscribers
	StreamBuffer int
	OrderLimit   *RateLimiter

	streams int32
	srv     *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	orders := s.OrderLimit
	if orders == nil {
		orders = NewRateLimiter(120, time.Minute)
	}

	mux := http.NewServeMux()

	// Public observation.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/v1/market/{id}", s.handleMarketDetail)
	mux.HandleFunc("GET /api/v1/market/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/v1/ledger", s.handleLedger)
	mux.HandleFunc("GET /api/v1/conditions", s.handleConditions)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Trading.
	mux.HandleFunc("POST /api/v1/orders", RateLimitMiddleware(orders, s.handlePlaceOrder))
	mux.HandleFunc("POST /api/v1/orders/cancel", RateLimitMiddleware(orders, s.handleCancelOrder))

	// Admin control plane.
	mux.HandleFunc("POST /api/v1/admin/event", s.adminOnly(s.handleTriggerEvent))
	mux.HandleFunc("POST /api/v1/admin/cycle", s.adminOnly(s.handleForceCycle))
	mux.HandleFunc("POST /api/v1/admin/save", s.adminOnly(s.handleSave))

	return withCORS(s.CORSOrigins, mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// withCORS echoes the Origin header back for listed origins only and
// answers preflight requests itself.
func withCORS(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorized compares the bearer token in constant time.
func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no TRADEWORLD_API_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.Sim.Now()
	perf := s.Sim.PerformanceMetrics()
	status := map[string]any{
		"name":        "tradeworld",
		"tick":        s.Sim.TickCount(),
		"ticks":       humanize.Comma(int64(s.Sim.TickCount())),
		"sim_time":    engine.SimTime(now),
		"time":        now,
		"markets":     len(s.Sim.MarketIDs()),
		"healthy":     perf.Healthy,
		"subscribers": s.Sim.Hub().Subscribers(),
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	ids := s.Sim.MarketIDs()
	out := make([]market.Stats, 0, len(ids))
	for _, id := range ids {
		st, err := s.Sim.MarketStats(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, out)
}

// handleMarketDetail returns the richest stats the market offers.
func (s *Server) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch id {
	case "capital":
		writeJSON(w, s.Sim.Capital().CapitalStats())
		return
	case "assets":
		writeJSON(w, s.Sim.Assets().AssetStats())
		return
	case "labor":
		writeJSON(w, s.Sim.Labor().LaborStats())
		return
	}
	if c, ok := s.Sim.Commodity(id); ok {
		writeJSON(w, c.Conditions())
		return
	}
	http.Error(w, "market not found", http.StatusNotFound)
}

// handleTrades returns a market's newest executions, oldest first.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	trades, err := s.Sim.RecentTrades(r.PathValue("id"), limit)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, trades)
}

// handleLedger returns lifetime cash-flow totals and the newest entries.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	l := s.Sim.Ledger()
	writeJSON(w, map[string]any{
		"totals": l.Totals(),
		"recent": l.Recent(limit),
	})
}

// parseLimit reads ?limit, defaulting and capping it. It writes the 400
// itself when the value is malformed.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.EconomicConditions())
}

// handleEvents returns recent events from memory, or from the database
// with ?source=stored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("source") == "stored" {
		if s.DB == nil {
			http.Error(w, "no database configured", http.StatusServiceUnavailable)
			return
		}
		recs, err := s.DB.RecentEvents(r.Context(), limit)
		if err != nil {
			slog.Error("stored events query failed", "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, recs)
		return
	}

	writeJSON(w, map[string]any{
		"recent":     s.Sim.RecentEvents(limit),
		"pending":    s.Sim.PendingEvents(),
		"statistics": s.Sim.EventStatistics(),
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.PerformanceMetrics())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot())
}

type orderRequest struct {
	Market   string  `json:"market"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Owner    string  `json:"owner"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		id  market.OrderID
		err error
	)
	switch req.Side {
	case "buy":
		id, err = s.Sim.AddBuyOrder(req.Market, req.Quantity, req.Price, req.Owner)
	case "sell":
		id, err = s.Sim.AddSellOrder(req.Market, req.Quantity, req.Price, req.Owner)
	default:
		http.Error(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"market": req.Market, "order_id": id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Market  string         `json:"market"`
		OrderID market.OrderID `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ok, err := s.Sim.CancelOrder(req.Market, req.OrderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"cancelled": ok})
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrUnknownMarket):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, market.ErrInvalidOrder):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Severity string `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cat, err := events.ParseCategory(req.Category)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sev, err := events.ParseSeverity(req.Severity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev, err := s.Sim.TriggerEvent(cat, sev)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("event triggered via API", "id", ev.ID, "name", ev.Name)
	writeJSON(w, ev)
}

func (s *Server) handleForceCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cycle events.Cycle `json:"cycle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Sim.ForceCycle(req.Cycle); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("cycle forced via API", "cycle", req.Cycle)
	writeJSON(w, s.Sim.EconomicConditions())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !s.Sim.Save(r.Context()) {
		http.Error(w, "save failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"saved": true, "tick": s.Sim.TickCount()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
