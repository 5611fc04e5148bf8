// Package dashboard serves a read-only JSON API over the position ledger,
// allocator snapshot, and reconciliation state. It never mutates the ledger.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// Server exposes the dashboard HTTP API.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	gateway   broker.Gateway
	allocator *allocator.Allocator
	engine    *reconcile.Engine
	logger    *logrus.Logger
	addr      string
	authToken string
}

// Config holds dashboard server settings.
type Config struct {
	Addr      string
	AuthToken string
}

// PositionView is the API projection of a ledger position.
type PositionView struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Structure     string    `json:"structure"`
	Status        string    `json:"status"`
	EntryDate     time.Time `json:"entry_date"`
	Expiration    time.Time `json:"expiration"`
	DTE           int       `json:"dte"`
	EntryCredit   float64   `json:"entry_credit,omitempty"`
	EntryCost     float64   `json:"entry_cost,omitempty"`
	Quantity      int       `json:"quantity"`
	MaxRisk       float64   `json:"max_risk"`
	MarketValue   float64   `json:"ib_market_value"`
	UnrealizedPnL float64   `json:"ib_unrealized_pnl"`
	SyncWarning   string    `json:"ib_warning,omitempty"`
}

// NewServer creates the dashboard server and wires its routes.
func NewServer(cfg Config, store storage.Interface, gateway broker.Gateway, alloc *allocator.Allocator, engine *reconcile.Engine, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		gateway:   gateway,
		allocator: alloc,
		engine:    engine,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/position/{id}", s.handleGetPosition)
	s.router.Get("/api/snapshot", s.handleGetSnapshot)
	s.router.Get("/api/statistics", s.handleGetStatistics)
	s.router.Get("/api/reconciliation", s.handleGetReconciliation)
	s.router.Get("/api/account", s.handleGetAccount)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.storage.GetAllPositions()
	if r.URL.Query().Get("status") == "open" {
		positions = s.storage.GetOpenPositions()
	}

	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, toView(&positions[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, found := s.storage.GetPositionByID(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toView(&position))
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, _ *http.Request) {
	today := time.Now().UTC().Format("2006-01-02")
	snapshot := s.allocator.Snapshot(s.storage.GetAllPositions(), s.storage.GetDailyDeployed(today))
	s.writeJSON(w, snapshot)
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.GetStatistics())
}

func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	diff, err := s.engine.Diff(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Reconciliation diff failed")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"clean":       diff.Clean(),
		"matched":     len(diff.Matched),
		"mismatched":  diff.Mismatched,
		"local_only":  ids(diff.LocalOnly),
		"broker_only": diff.BrokerOnly,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := s.gateway.AccountSummary(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Account summary failed")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func toView(pos *models.Position) PositionView {
	return PositionView{
		ID:            pos.ID,
		Symbol:        pos.Symbol,
		Structure:     string(pos.Structure),
		Status:        string(pos.Status),
		EntryDate:     pos.EntryDate,
		Expiration:    pos.Expiration,
		DTE:           pos.DTE(time.Now().UTC()),
		EntryCredit:   pos.EntryCredit,
		EntryCost:     pos.EntryCost,
		Quantity:      pos.Quantity,
		MaxRisk:       pos.MaxRisk,
		MarketValue:   pos.BrokerMarketValue,
		UnrealizedPnL: pos.BrokerUnrealizedPnL,
		SyncWarning:   pos.SyncWarning,
	}
}

func ids(positions []models.Position) []string {
	out := make([]string, len(positions))
	for i := range positions {
		out[i] = positions[i].ID
	}
	return out
}
