package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"giftarb/internal/database"
	"giftarb/internal/model"
)

// Store is the read side of the repository the feed exposes.
type Store interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	RecentDeals(ctx context.Context, limit int) ([]model.Deal, error)
	ListOpportunities(ctx context.Context, filter database.OpportunityFilter) ([]model.Opportunity, error)
}

const (
	defaultDealLimit = 20
	maxLimit         = 500
	requestTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server exposes the HTTP API and the websocket endpoint.
type Server struct {
	store  Store
	hub    *Hub
	ranges []model.PriceRange
	logger *slog.Logger
	ctx    context.Context
}

// NewServer creates a server. ctx bounds the lifetime of websocket pumps.
func NewServer(ctx context.Context, logger *slog.Logger, store Store, hub *Hub, ranges []model.PriceRange) *Server {
	return &Server{store: store, hub: hub, ranges: ranges, logger: logger, ctx: ctx}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/opportunities", s.handleOpportunities)
		r.Get("/deals", s.handleDeals)
		r.Get("/settings", s.handleSettings)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("FeedServer: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("feed shutdown: %w", err)
		}
		s.logger.Info("FeedServer: stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("feed server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().UTC(),
	})
}

// handleOpportunities lists stored opportunities.
// Query params: range, sort (profit|end_time), limit
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.OpportunityFilter{
		PriceRange: q.Get("range"),
		SortBy:     q.Get("sort"),
	}

	if filter.PriceRange != "" && filter.PriceRange != model.OtherRange {
		if _, ok := model.FindRange(filter.PriceRange, s.ranges); !ok {
			respondError(w, http.StatusBadRequest, "unknown price range")
			return
		}
	}
	switch filter.SortBy {
	case "", database.SortByProfit, database.SortByEndTime:
	default:
		respondError(w, http.StatusBadRequest, "sort must be profit or end_time")
		return
	}
	limit, ok := parseLimit(q.Get("limit"), 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	filter.Limit = limit

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	opps, err := s.store.ListOpportunities(ctx, filter)
	if err != nil {
		s.logger.Error("FeedServer: failed to list opportunities", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"count":         len(opps),
	})
}

// handleDeals lists recent deals. Query params: limit
func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"), defaultDealLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	deals, err := s.store.RecentDeals(ctx, limit)
	if err != nil {
		s.logger.Error("FeedServer: failed to list deals", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list deals")
		return
	}
	if deals == nil {
		deals = []model.Deal{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deals": deals,
		"count": len(deals),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Error("FeedServer: failed to load settings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("FeedServer: websocket upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn, s.hub, s.logger)
	if !s.hub.Register(c) {
		conn.Close()
		return
	}

	go c.writePump(s.ctx)
	go c.readPump(s.ctx)
}

func parseLimit(raw string, fallback int) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
