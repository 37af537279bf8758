// Package api serves the health/status HTTP endpoint. It exposes whether
// scans are fresh, whether the bot is in observe-only mode, the tier-2
// lane state, and the current portfolio.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/engine"
)

// StatusProvider supplies the engine state for the status endpoint.
type StatusProvider interface {
	Snapshot() engine.Snapshot
}

// Server runs the health HTTP endpoint.
type Server struct {
	cfg        config.HealthConfig
	provider   StatusProvider
	staleAfter time.Duration
	server     *http.Server
	logger     *slog.Logger
}

// NewServer builds the server and its routes.
func NewServer(cfg config.HealthConfig, staleAfter time.Duration, provider StatusProvider, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		provider:   provider,
		staleAfter: staleAfter,
		logger:     logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("health server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// healthResponse is the liveness payload. Status degrades when no scan has
// completed within the staleness threshold; a freshly started bot with no
// scan yet reports healthy with mode "initializing".
type healthResponse struct {
	Status           string    `json:"status"`
	Mode             string    `json:"mode"`
	LastScan         time.Time `json:"last_scan,omitempty"`
	MinutesSinceScan float64   `json:"minutes_since_scan,omitempty"`
	OpenTrades       int       `json:"open_trades"`
	TradesToday      int       `json:"trades_today"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()

	resp := healthResponse{
		Status:        "healthy",
		Mode:          snap.Mode,
		LastScan:      snap.LastScan,
		OpenTrades:    snap.OpenTrades,
		TradesToday:   snap.TradesToday,
		UptimeSeconds: snap.UptimeSeconds,
	}
	code := http.StatusOK
	if !snap.LastScan.IsZero() {
		resp.MinutesSinceScan = time.Since(snap.LastScan).Minutes()
		if time.Since(snap.LastScan) > s.staleAfter {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("status encode failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
