package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// The three learning components persist their state as JSON documents keyed
// by bucket / market type / tracker key. The store is agnostic to the shape;
// the learning package owns (de)serialization of the state structs.

const (
	calibrationUpsert = `INSERT INTO calibration_state (bucket_low, state_json, updated_at) VALUES (?,?,?)
		ON CONFLICT(bucket_low) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	marketTypeUpsert = `INSERT INTO market_type_performance (market_type, state_json, updated_at) VALUES (?,?,?)
		ON CONFLICT(market_type) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	signalTrackerUpsert = `INSERT INTO signal_trackers (tracker_key, state_json, updated_at) VALUES (?,?,?)
		ON CONFLICT(tracker_key) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
)

// StateWriter is the write surface for learning state. Both *Store (each
// call its own write) and the transactional writer passed to
// SaveLearningState satisfy it.
type StateWriter interface {
	SaveCalibrationBucket(bucketLow float64, state any) error
	SaveMarketTypeState(marketType string, state any) error
	SaveSignalTracker(key string, state any) error
	ResetLearningState() error
}

// SaveLearningState runs fn against a writer whose writes commit as a single
// transaction. A crash or error mid-sequence leaves the previous state
// intact instead of a half-updated mix of the three layers.
func (s *Store) SaveLearningState(fn func(StateWriter) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin learning state tx: %w", err)
	}
	if err := fn(txStateWriter{tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit learning state: %w", err)
	}
	return nil
}

// SaveCalibrationBucket upserts one calibration bucket's state.
func (s *Store) SaveCalibrationBucket(bucketLow float64, state any) error {
	return saveState(s.db, calibrationUpsert, bucketLow, state)
}

// LoadCalibrationBuckets returns bucket_low -> raw state JSON.
func (s *Store) LoadCalibrationBuckets() (map[float64]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT bucket_low, state_json FROM calibration_state`)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	defer rows.Close()

	out := make(map[float64]json.RawMessage)
	for rows.Next() {
		var low float64
		var raw string
		if err := rows.Scan(&low, &raw); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		out[low] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

// SaveMarketTypeState upserts one market type's performance state.
func (s *Store) SaveMarketTypeState(marketType string, state any) error {
	return saveState(s.db, marketTypeUpsert, marketType, state)
}

// LoadMarketTypeStates returns market_type -> raw state JSON.
func (s *Store) LoadMarketTypeStates() (map[string]json.RawMessage, error) {
	return s.loadKeyed(`SELECT market_type, state_json FROM market_type_performance`)
}

// SaveSignalTracker upserts one (tier, info type, market type) tracker.
func (s *Store) SaveSignalTracker(key string, state any) error {
	return saveState(s.db, signalTrackerUpsert, key, state)
}

// LoadSignalTrackers returns tracker_key -> raw state JSON.
func (s *Store) LoadSignalTrackers() (map[string]json.RawMessage, error) {
	return s.loadKeyed(`SELECT tracker_key, state_json FROM signal_trackers`)
}

// ResetLearningState clears all three learning tables ahead of a rebuild.
func (s *Store) ResetLearningState() error {
	return resetLearning(s.db)
}

// txStateWriter issues the same writes against one open transaction.
type txStateWriter struct {
	tx *sql.Tx
}

func (w txStateWriter) SaveCalibrationBucket(bucketLow float64, state any) error {
	return saveState(w.tx, calibrationUpsert, bucketLow, state)
}

func (w txStateWriter) SaveMarketTypeState(marketType string, state any) error {
	return saveState(w.tx, marketTypeUpsert, marketType, state)
}

func (w txStateWriter) SaveSignalTracker(key string, state any) error {
	return saveState(w.tx, signalTrackerUpsert, key, state)
}

func (w txStateWriter) ResetLearningState() error {
	return resetLearning(w.tx)
}

// execer is the common Exec surface of *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func saveState(db execer, query string, key any, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if _, err := db.Exec(query, key, string(raw), fmtTime(time.Now())); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func resetLearning(db execer) error {
	for _, table := range []string{"calibration_state", "market_type_performance", "signal_trackers"} {
		if _, err := db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) loadKeyed(query string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}
