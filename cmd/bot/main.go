// Polymarket Predictor — an automated trader for Polymarket binary
// prediction markets. It scans markets on a schedule, gathers news and
// social signals, asks a language model for a probability estimate,
// corrects that estimate with learned calibration state, and trades only
// when the corrected edge clears the fee-adjusted threshold.
//
// Architecture:
//
//	main.go                 — entry point: config, wiring, SIGINT/SIGTERM
//	engine/                 — orchestrator: cron jobs, scan fan-out, tier-2 burst lane
//	signals/                — news (RSS) and social collectors, order-book signal
//	llm/                    — probability estimation client + prompt builder
//	learning/               — calibration, per-market-type performance, signal tracking
//	decision/               — edge, Kelly sizing, clusters, ranking, risk gate
//	execution/              — paper/live fills, resolution poller, adverse sweeper
//	polymarket/             — Gamma discovery, CLOB books/orders, WS price feed
//	store/                  — SQLite persistence for every decision and outcome
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-predictor/internal/api"
	"polymarket-predictor/internal/classify"
	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/decision"
	"polymarket-predictor/internal/engine"
	"polymarket-predictor/internal/execution"
	"polymarket-predictor/internal/learning"
	"polymarket-predictor/internal/llm"
	"polymarket-predictor/internal/polymarket"
	"polymarket-predictor/internal/signals"
	"polymarket-predictor/internal/store"
)

// streamedPriceMaxAge is how stale a WebSocket price may be before the
// adverse sweeper falls back to the REST API.
const streamedPriceMaxAge = 2 * time.Minute

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PREDICTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer st.Close()

	sources, err := config.LoadKnownSources(cfg.Signals.SourcesPath)
	if err != nil {
		logger.Error("failed to load known sources", "error", err)
		os.Exit(1)
	}
	feeds, err := config.LoadFeeds(cfg.Signals.FeedsPath)
	if err != nil {
		logger.Error("failed to load feeds", "error", err)
		os.Exit(1)
	}
	classifier := classify.New(sources)

	learningSvc, err := learning.NewService(st, logger)
	if err != nil {
		logger.Error("failed to load learning state", "error", err)
		os.Exit(1)
	}

	gamma := polymarket.NewGammaClient(cfg.API, logger)
	clob := polymarket.NewCLOBClient(cfg.API, logger)
	feed := polymarket.NewPriceFeed(cfg.API.WSMarketURL, logger)
	cached := polymarket.NewCachedMarkets(gamma, feed, streamedPriceMaxAge, logger)

	lm := llm.NewClient(cfg.LM, st, logger)

	deps := engine.Deps{
		Markets:  gamma,
		Books:    clob,
		LM:       lm,
		News:     signals.NewNewsCollector(feeds.Feeds, classifier, logger),
		Social:   signals.NewSocialCollector(cfg.Signals, classifier, logger),
		Learning: learningSvc,
		Gate:     decision.NewGate(cfg, st, logger),
		Executor: execution.NewExecutor(cfg.Live, clob, st, logger),
		Resolver: execution.NewPoller(gamma, st, learningSvc, logger),
		Adverse:  execution.NewSweeper(cached, st, logger),
		Tracker:  cached,
		Store:    st,
	}

	eng, err := engine.New(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("price feed stopped", "error", err)
		}
	}()
	go cached.Run(ctx)

	var apiServer *api.Server
	if cfg.Health.Enabled {
		apiServer = api.NewServer(cfg.Health, cfg.Schedule.StaleAfter, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("health server failed", "error", err)
			}
		}()
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	mode := "paper"
	if cfg.Live {
		mode = "live"
	}
	logger.Info("polymarket predictor started",
		"mode", mode,
		"model", cfg.LM.Model,
		"tier1_interval", cfg.Tier1.ScanInterval,
		"bankroll", cfg.Trading.InitialBankroll,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop health server", "error", err)
		}
	}
	cancel()
	feed.Close()
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
