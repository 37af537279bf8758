// Package store persists all trader state in a single SQLite database:
// trade records, experiment runs, learning state, portfolio, API costs,
// and operational logs. Migrations are versioned and applied on open.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Sentinel errors for consistency failures callers are expected to handle.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrNoExperiment = errors.New("store: no current experiment run")
)

// Store wraps the SQLite connection. All methods are safe for concurrent
// use; SQLite serializes writers and busy_timeout covers contention.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	s.logger.Info("database opened", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS experiment_runs (
				run_id              TEXT PRIMARY KEY,
				started_at          TEXT NOT NULL,
				ended_at            TEXT,
				config_snapshot     TEXT NOT NULL DEFAULT '{}',
				description         TEXT NOT NULL DEFAULT '',
				model_used          TEXT NOT NULL,
				include_in_learning INTEGER NOT NULL DEFAULT 1,
				total_trades        INTEGER NOT NULL DEFAULT 0,
				total_pnl           REAL NOT NULL DEFAULT 0,
				avg_brier           REAL NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS model_swaps (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp              TEXT NOT NULL,
				old_model              TEXT NOT NULL,
				new_model              TEXT NOT NULL,
				reason                 TEXT NOT NULL DEFAULT '',
				experiment_run_started TEXT NOT NULL REFERENCES experiment_runs(run_id)
			);

			CREATE TABLE IF NOT EXISTS trade_records (
				record_id                TEXT PRIMARY KEY,
				experiment_run           TEXT NOT NULL REFERENCES experiment_runs(run_id),
				timestamp                TEXT NOT NULL,
				model_used               TEXT NOT NULL,
				market_id                TEXT NOT NULL,
				market_question          TEXT NOT NULL,
				market_type              TEXT NOT NULL,
				resolution_window_hours  REAL NOT NULL,
				resolution_time          TEXT NOT NULL,
				tier                     INTEGER NOT NULL,
				raw_probability          REAL NOT NULL,
				raw_confidence           REAL NOT NULL,
				reasoning                TEXT NOT NULL DEFAULT '',
				signal_tags              TEXT NOT NULL DEFAULT '[]',
				headline_only_signal     INTEGER NOT NULL DEFAULT 0,
				calibration_adjustment   REAL NOT NULL DEFAULT 0,
				market_type_adjustment   REAL NOT NULL DEFAULT 0,
				signal_weight_adjustment REAL NOT NULL DEFAULT 0,
				adjusted_probability     REAL NOT NULL,
				adjusted_confidence      REAL NOT NULL,
				market_price_at_decision REAL NOT NULL,
				orderbook_depth_usd      REAL NOT NULL DEFAULT 0,
				fee_rate                 REAL NOT NULL,
				calculated_edge          REAL NOT NULL,
				trade_score              REAL NOT NULL DEFAULT 0,
				action                   TEXT NOT NULL,
				skip_reason              TEXT NOT NULL DEFAULT '',
				position_size_usd        REAL NOT NULL DEFAULT 0,
				kelly_fraction_used      REAL NOT NULL DEFAULT 0,
				cluster_id               TEXT NOT NULL DEFAULT '',
				actual_outcome           INTEGER,
				pnl                      REAL,
				brier_raw                REAL,
				brier_adjusted           REAL,
				resolved_at              TEXT,
				unrealized_adverse_move  REAL,
				voided                   INTEGER NOT NULL DEFAULT 0,
				void_reason              TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_trades_market ON trade_records(market_id);
			CREATE INDEX IF NOT EXISTS idx_trades_ts ON trade_records(timestamp);
			CREATE INDEX IF NOT EXISTS idx_trades_open
				ON trade_records(resolution_time)
				WHERE action != 'SKIP' AND actual_outcome IS NULL AND voided = 0;
			CREATE INDEX IF NOT EXISTS idx_trades_headline
				ON trade_records(timestamp)
				WHERE headline_only_signal = 1;

			CREATE TABLE IF NOT EXISTS calibration_state (
				bucket_low REAL PRIMARY KEY,
				state_json TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS market_type_performance (
				market_type TEXT PRIMARY KEY,
				state_json  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS signal_trackers (
				tracker_key TEXT PRIMARY KEY,
				state_json  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS portfolio (
				id             INTEGER PRIMARY KEY CHECK (id = 1),
				cash_balance   REAL NOT NULL,
				total_equity   REAL NOT NULL,
				total_pnl      REAL NOT NULL,
				peak_equity    REAL NOT NULL,
				max_drawdown   REAL NOT NULL,
				positions_json TEXT NOT NULL DEFAULT '[]',
				updated_at     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS api_costs (
				date     TEXT NOT NULL,
				service  TEXT NOT NULL,
				calls    INTEGER NOT NULL DEFAULT 0,
				cost_usd REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (date, service)
			);

			CREATE TABLE IF NOT EXISTS daily_mode_log (
				date                  TEXT PRIMARY KEY,
				mode                  TEXT NOT NULL,
				trades_before_observe INTEGER NOT NULL DEFAULT 0,
				est_calls_saved       INTEGER NOT NULL DEFAULT 0,
				logged_at             TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS parse_failures (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp   TEXT NOT NULL,
				market_id   TEXT NOT NULL,
				model_used  TEXT NOT NULL,
				attempts    INTEGER NOT NULL,
				last_error  TEXT NOT NULL DEFAULT '',
				raw_excerpt TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_parse_failures_ts ON parse_failures(timestamp);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Info("applied migration v1")
	}

	return nil
}
