package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"polymarket-predictor/pkg/types"
)

// StartRun ends any current run and opens a new one. Returns the new run.
func (s *Store) StartRun(model, description string, configSnapshot map[string]string, includeInLearning bool) (*types.ExperimentRun, error) {
	now := time.Now()
	if cur, err := s.CurrentRun(); err == nil {
		if err := s.EndRun(cur.RunID); err != nil {
			return nil, err
		}
	} else if err != ErrNoExperiment {
		return nil, err
	}

	snapshot, err := json.Marshal(configSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}

	// The timestamp is for humans; the uuid suffix keeps runs started in
	// the same second from colliding.
	run := &types.ExperimentRun{
		RunID:             fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8]),
		StartedAt:         now,
		ConfigSnapshot:    configSnapshot,
		Description:       description,
		ModelUsed:         model,
		IncludeInLearning: includeInLearning,
	}
	_, err = s.db.Exec(`INSERT INTO experiment_runs
		(run_id, started_at, config_snapshot, description, model_used, include_in_learning)
		VALUES (?,?,?,?,?,?)`,
		run.RunID, fmtTime(run.StartedAt), string(snapshot), description, model, boolInt(includeInLearning))
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.logger.Info("experiment run started", "run_id", run.RunID, "model", model)
	return run, nil
}

// EndRun closes a run and writes its final stats (trade count, total pnl,
// average adjusted Brier over executed trades).
func (s *Store) EndRun(runID string) error {
	var trades int
	var pnl, brier sql.NullFloat64
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(pnl), AVG(brier_adjusted)
		FROM trade_records
		WHERE experiment_run = ? AND action != 'SKIP' AND voided = 0`, runID).
		Scan(&trades, &pnl, &brier)
	if err != nil {
		return fmt.Errorf("end run stats: %w", err)
	}

	res, err := s.db.Exec(`UPDATE experiment_runs
		SET ended_at = ?, total_trades = ?, total_pnl = ?, avg_brier = ?
		WHERE run_id = ? AND ended_at IS NULL`,
		fmtTime(time.Now()), trades, pnl.Float64, brier.Float64, runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("experiment run ended", "run_id", runID, "trades", trades, "pnl", pnl.Float64)
	return nil
}

// CurrentRun returns the single open run, or ErrNoExperiment.
func (s *Store) CurrentRun() (*types.ExperimentRun, error) {
	row := s.db.QueryRow(`SELECT run_id, started_at, ended_at, config_snapshot, description,
		model_used, include_in_learning, total_trades, total_pnl, avg_brier
		FROM experiment_runs WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoExperiment
	}
	return run, err
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(runID string) (*types.ExperimentRun, error) {
	row := s.db.QueryRow(`SELECT run_id, started_at, ended_at, config_snapshot, description,
		model_used, include_in_learning, total_trades, total_pnl, avg_brier
		FROM experiment_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// SetRunLearningIncluded flips whether a run's records feed learning.
// Callers should rebuild learning state afterward.
func (s *Store) SetRunLearningIncluded(runID string, included bool) error {
	res, err := s.db.Exec(`UPDATE experiment_runs SET include_in_learning = ? WHERE run_id = ?`,
		boolInt(included), runID)
	if err != nil {
		return fmt.Errorf("set run learning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSwap writes a model swap audit row.
func (s *Store) RecordSwap(ev *types.ModelSwapEvent) error {
	_, err := s.db.Exec(`INSERT INTO model_swaps (timestamp, old_model, new_model, reason, experiment_run_started)
		VALUES (?,?,?,?,?)`,
		fmtTime(ev.Timestamp), ev.OldModel, ev.NewModel, ev.Reason, ev.ExperimentRunStarted)
	if err != nil {
		return fmt.Errorf("record swap: %w", err)
	}
	return nil
}

func scanRun(row scanner) (*types.ExperimentRun, error) {
	var (
		run              types.ExperimentRun
		started, snap    string
		ended            sql.NullString
		include          int
	)
	err := row.Scan(&run.RunID, &started, &ended, &snap, &run.Description,
		&run.ModelUsed, &include, &run.TotalTrades, &run.TotalPnL, &run.AvgBrier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		run.EndedAt = &t
	}
	run.IncludeInLearning = include != 0
	if err := json.Unmarshal([]byte(snap), &run.ConfigSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal config snapshot: %w", err)
	}
	return &run, nil
}
