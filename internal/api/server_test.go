package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/engine"
	"polymarket-predictor/pkg/types"
)

type fakeProvider struct {
	snap engine.Snapshot
}

func (f fakeProvider) Snapshot() engine.Snapshot { return f.snap }

func testServer(snap engine.Snapshot, staleAfter time.Duration) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(config.HealthConfig{Enabled: true, Port: 0}, staleAfter, fakeProvider{snap: snap}, logger)
}

func TestHealthFresh(t *testing.T) {
	t.Parallel()

	s := testServer(engine.Snapshot{
		LastScan:    time.Now().UTC(),
		Mode:        "active",
		OpenTrades:  3,
		TradesToday: 2,
	}, 30*time.Minute)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Mode != "active" {
		t.Errorf("mode = %q, want active", resp.Mode)
	}
	if resp.OpenTrades != 3 || resp.TradesToday != 2 {
		t.Errorf("counts = %d open / %d today, want 3 / 2", resp.OpenTrades, resp.TradesToday)
	}
}

func TestHealthStale(t *testing.T) {
	t.Parallel()

	s := testServer(engine.Snapshot{LastScan: time.Now().UTC().Add(-2 * time.Hour)}, 30*time.Minute)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.MinutesSinceScan < 119 {
		t.Errorf("minutes_since_scan = %.1f, want ~120", resp.MinutesSinceScan)
	}
}

func TestHealthNoScanYet(t *testing.T) {
	t.Parallel()

	// A freshly started bot has no scan yet and must not report stale.
	s := testServer(engine.Snapshot{}, 30*time.Minute)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 before first scan", rr.Code)
	}
}

func TestStatusExposesEngineState(t *testing.T) {
	t.Parallel()

	snap := engine.Snapshot{
		LastScan:         time.Now().UTC(),
		Mode:             "observe_only",
		Tier2Active:      true,
		Model:            "test-model",
		ParseFailures24h: 2,
		Portfolio:        &types.Portfolio{TotalEquity: 2100, CashBalance: 1900},
	}
	s := testServer(snap, 30*time.Minute)
	rr := httptest.NewRecorder()
	s.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got engine.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Tier2Active || got.Mode != "observe_only" || got.Model != "test-model" || got.ParseFailures24h != 2 {
		t.Errorf("snapshot round trip = %+v", got)
	}
	if got.Portfolio == nil || got.Portfolio.TotalEquity != 2100 {
		t.Errorf("portfolio = %+v", got.Portfolio)
	}
}
