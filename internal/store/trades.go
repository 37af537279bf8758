package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"polymarket-predictor/pkg/types"
)

const timeFormat = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

const tradeColumns = `record_id, experiment_run, timestamp, model_used,
	market_id, market_question, market_type, resolution_window_hours, resolution_time, tier,
	raw_probability, raw_confidence, reasoning, signal_tags, headline_only_signal,
	calibration_adjustment, market_type_adjustment, signal_weight_adjustment,
	adjusted_probability, adjusted_confidence,
	market_price_at_decision, orderbook_depth_usd, fee_rate, calculated_edge, trade_score,
	action, skip_reason, position_size_usd, kelly_fraction_used, cluster_id,
	actual_outcome, pnl, brier_raw, brier_adjusted, resolved_at, unrealized_adverse_move,
	voided, void_reason`

// tradeColumnsQualified prefixes every column with the trade_records alias
// for queries that join tables sharing column names (model_used lives in
// both trade_records and experiment_runs).
var tradeColumnsQualified = func() string {
	cols := strings.Split(tradeColumns, ",")
	for i, c := range cols {
		cols[i] = "t." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}()

// InsertRecord writes a new trade record. The record's experiment run must
// exist (enforced by the foreign key).
func (s *Store) InsertRecord(r *types.TradeRecord) error {
	tags, err := json.Marshal(r.SignalTags)
	if err != nil {
		return fmt.Errorf("marshal signal tags: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO trade_records (`+tradeColumns+`) VALUES
		(?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?, ?,?,?, ?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?, ?,?)`,
		r.RecordID, r.ExperimentRun, fmtTime(r.Timestamp), r.ModelUsed,
		r.MarketID, r.MarketQuestion, string(r.MarketType), r.ResolutionWindowHours, fmtTime(r.ResolutionTime), r.Tier,
		r.RawProbability, r.RawConfidence, r.Reasoning, string(tags), boolInt(r.HeadlineOnlySignal),
		r.CalibrationAdjustment, r.MarketTypeAdjustment, r.SignalWeightAdjustment,
		r.AdjustedProbability, r.AdjustedConfidence,
		r.MarketPriceAtDecision, r.OrderbookDepthUSD, r.FeeRate, r.CalculatedEdge, r.TradeScore,
		string(r.Action), r.SkipReason, r.PositionSizeUSD, r.KellyFractionUsed, r.ClusterID,
		nullBool(r.ActualOutcome), nullFloat(r.PnL), nullFloat(r.BrierRaw), nullFloat(r.BrierAdjusted),
		nullTime(r.ResolvedAt), nullFloat(r.UnrealizedAdverseMove),
		boolInt(r.Voided), r.VoidReason)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// GetRecord fetches one record by ID. Returns ErrNotFound if absent.
func (s *Store) GetRecord(recordID string) (*types.TradeRecord, error) {
	row := s.db.QueryRow(`SELECT `+tradeColumns+` FROM trade_records WHERE record_id = ?`, recordID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// MarkResolved writes the resolution outcome onto an open record.
func (s *Store) MarkResolved(recordID string, outcome bool, pnl, brierRaw, brierAdjusted float64, at time.Time) error {
	res, err := s.db.Exec(`UPDATE trade_records
		SET actual_outcome = ?, pnl = ?, brier_raw = ?, brier_adjusted = ?, resolved_at = ?
		WHERE record_id = ? AND actual_outcome IS NULL`,
		boolInt(outcome), pnl, brierRaw, brierAdjusted, fmtTime(at), recordID)
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSkipResolved records the outcome and counterfactual Brier scores on a
// skipped record. Skips carry no pnl.
func (s *Store) MarkSkipResolved(recordID string, outcome bool, brierRaw, brierAdjusted float64, at time.Time) error {
	res, err := s.db.Exec(`UPDATE trade_records
		SET actual_outcome = ?, brier_raw = ?, brier_adjusted = ?, resolved_at = ?
		WHERE record_id = ? AND actual_outcome IS NULL`,
		boolInt(outcome), brierRaw, brierAdjusted, fmtTime(at), recordID)
	if err != nil {
		return fmt.Errorf("mark skip resolved: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// VoidRecord marks a record void with a reason. Returns the record so the
// caller can reverse portfolio effects and trigger a learning rebuild.
func (s *Store) VoidRecord(recordID, reason string) (*types.TradeRecord, error) {
	rec, err := s.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Voided {
		return nil, fmt.Errorf("record %s already voided", recordID)
	}
	_, err = s.db.Exec(`UPDATE trade_records SET voided = 1, void_reason = ? WHERE record_id = ?`,
		reason, recordID)
	if err != nil {
		return nil, fmt.Errorf("void record: %w", err)
	}
	rec.Voided = true
	rec.VoidReason = reason
	return rec, nil
}

// UpdateAdverseMove persists the current adverse fraction for an open
// record. The value is overwritten each sweep, decreases included, so a
// recovered position stops counting toward the cooldown streak.
func (s *Store) UpdateAdverseMove(recordID string, fraction float64) error {
	_, err := s.db.Exec(`UPDATE trade_records SET unrealized_adverse_move = ? WHERE record_id = ?`,
		fraction, recordID)
	if err != nil {
		return fmt.Errorf("update adverse move: %w", err)
	}
	return nil
}

// OpenRecords returns executed, unresolved, non-voided records ordered by
// resolution time (soonest first).
func (s *Store) OpenRecords() ([]*types.TradeRecord, error) {
	return s.queryRecords(`SELECT ` + tradeColumns + ` FROM trade_records
		WHERE action != 'SKIP' AND actual_outcome IS NULL AND voided = 0
		ORDER BY resolution_time ASC`)
}

// UnresolvedRecords returns all unresolved, non-voided records, skips
// included, for counterfactual resolution scoring.
func (s *Store) UnresolvedRecords() ([]*types.TradeRecord, error) {
	return s.queryRecords(`SELECT ` + tradeColumns + ` FROM trade_records
		WHERE actual_outcome IS NULL AND voided = 0
		ORDER BY resolution_time ASC`)
}

// ResolvedForLearning returns every resolved, non-voided record belonging to
// a learning-included experiment run, in resolution order. This is the
// replay source for learning-state rebuilds.
func (s *Store) ResolvedForLearning() ([]*types.TradeRecord, error) {
	return s.queryRecords(`SELECT ` + tradeColumnsQualified + ` FROM trade_records t
		JOIN experiment_runs e ON e.run_id = t.experiment_run
		WHERE t.actual_outcome IS NOT NULL AND t.voided = 0 AND e.include_in_learning = 1
		ORDER BY t.resolved_at ASC`)
}

// ExecutedCountSince counts executed (non-skip, non-voided) records for a
// tier since the given time.
func (s *Store) ExecutedCountSince(tier int, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trade_records
		WHERE tier = ? AND action != 'SKIP' AND voided = 0 AND timestamp >= ?`,
		tier, fmtTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("executed count: %w", err)
	}
	return n, nil
}

// AdverseCount walks the non-skip trades in the window newest first and
// returns the length of the consecutive adverse run: a resolved loss, or an
// open position whose last recorded adverse move exceeds the threshold. The
// walk stops at the first non-adverse trade, so one good outcome resets the
// streak.
func (s *Store) AdverseCount(since time.Time, threshold float64) (int, error) {
	recs, err := s.queryRecords(`SELECT `+tradeColumns+` FROM trade_records
		WHERE action != 'SKIP' AND voided = 0 AND timestamp >= ?
		ORDER BY timestamp DESC`, fmtTime(since))
	if err != nil {
		return 0, fmt.Errorf("adverse count: %w", err)
	}

	n := 0
	for _, r := range recs {
		lost := r.PnL != nil && *r.PnL < 0
		adverse := r.UnrealizedAdverseMove != nil && *r.UnrealizedAdverseMove > threshold
		if !lost && !adverse {
			break
		}
		n++
	}
	return n, nil
}

// RealizedPnLSince sums pnl of resolved, non-voided trades resolved at or
// after the given time.
func (s *Store) RealizedPnLSince(since time.Time) (float64, error) {
	var pnl sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(pnl) FROM trade_records
		WHERE pnl IS NOT NULL AND voided = 0 AND resolved_at >= ?`,
		fmtTime(since)).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("realized pnl: %w", err)
	}
	return pnl.Float64, nil
}

// DayStats summarizes one UTC day of records for the daily summary job.
type DayStats struct {
	Scanned       int
	Executed      int
	Skipped       int
	Resolved      int
	RealizedPnL   float64
	AvgBrierRaw   float64
	AvgBrierAdj   float64
	ParseFailures int
}

// StatsForDay aggregates record counts and scores for the UTC day starting
// at dayStart.
func (s *Store) StatsForDay(dayStart time.Time) (*DayStats, error) {
	dayEnd := dayStart.Add(24 * time.Hour)
	st := &DayStats{}

	err := s.db.QueryRow(`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN action != 'SKIP' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SKIP' THEN 1 ELSE 0 END), 0)
		FROM trade_records WHERE voided = 0 AND timestamp >= ? AND timestamp < ?`,
		fmtTime(dayStart), fmtTime(dayEnd)).Scan(&st.Scanned, &st.Executed, &st.Skipped)
	if err != nil {
		return nil, fmt.Errorf("day stats decisions: %w", err)
	}

	var pnl, brierRaw, brierAdj sql.NullFloat64
	err = s.db.QueryRow(`SELECT COUNT(*), SUM(pnl), AVG(brier_raw), AVG(brier_adjusted)
		FROM trade_records
		WHERE voided = 0 AND resolved_at IS NOT NULL AND resolved_at >= ? AND resolved_at < ?`,
		fmtTime(dayStart), fmtTime(dayEnd)).Scan(&st.Resolved, &pnl, &brierRaw, &brierAdj)
	if err != nil {
		return nil, fmt.Errorf("day stats resolutions: %w", err)
	}
	st.RealizedPnL = pnl.Float64
	st.AvgBrierRaw = brierRaw.Float64
	st.AvgBrierAdj = brierAdj.Float64

	err = s.db.QueryRow(`SELECT COUNT(*) FROM parse_failures WHERE timestamp >= ? AND timestamp < ?`,
		fmtTime(dayStart), fmtTime(dayEnd)).Scan(&st.ParseFailures)
	if err != nil {
		return nil, fmt.Errorf("day stats parse failures: %w", err)
	}
	return st, nil
}

// RecordParseFailure logs an exhausted-retries response parse failure.
func (s *Store) RecordParseFailure(marketID, model string, attempts int, lastErr, rawExcerpt string) error {
	if len(rawExcerpt) > 500 {
		rawExcerpt = rawExcerpt[:500]
	}
	_, err := s.db.Exec(`INSERT INTO parse_failures (timestamp, market_id, model_used, attempts, last_error, raw_excerpt)
		VALUES (?,?,?,?,?,?)`,
		fmtTime(time.Now()), marketID, model, attempts, lastErr, rawExcerpt)
	if err != nil {
		return fmt.Errorf("record parse failure: %w", err)
	}
	return nil
}

// ParseFailuresSince counts parse failures at or after the given time.
func (s *Store) ParseFailuresSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM parse_failures WHERE timestamp >= ?`,
		fmtTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("parse failures since: %w", err)
	}
	return n, nil
}

// LogObserveOnly records the first observe-only transition of a UTC day.
// Subsequent calls for the same day are no-ops.
func (s *Store) LogObserveOnly(day time.Time, tradesBefore, estCallsSaved int) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO daily_mode_log (date, mode, trades_before_observe, est_calls_saved, logged_at)
		VALUES (?,?,?,?,?)`,
		day.UTC().Format("2006-01-02"), "observe_only", tradesBefore, estCallsSaved, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log observe only: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(query string, args ...any) ([]*types.TradeRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []*types.TradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*types.TradeRecord, error) {
	var (
		r                                      types.TradeRecord
		ts, resTime, marketType, action, tags  string
		headline, voided                       int
		outcome                                sql.NullInt64
		pnl, brierRaw, brierAdj, adverse       sql.NullFloat64
		resolvedAt                             sql.NullString
	)
	err := row.Scan(&r.RecordID, &r.ExperimentRun, &ts, &r.ModelUsed,
		&r.MarketID, &r.MarketQuestion, &marketType, &r.ResolutionWindowHours, &resTime, &r.Tier,
		&r.RawProbability, &r.RawConfidence, &r.Reasoning, &tags, &headline,
		&r.CalibrationAdjustment, &r.MarketTypeAdjustment, &r.SignalWeightAdjustment,
		&r.AdjustedProbability, &r.AdjustedConfidence,
		&r.MarketPriceAtDecision, &r.OrderbookDepthUSD, &r.FeeRate, &r.CalculatedEdge, &r.TradeScore,
		&action, &r.SkipReason, &r.PositionSizeUSD, &r.KellyFractionUsed, &r.ClusterID,
		&outcome, &pnl, &brierRaw, &brierAdj, &resolvedAt, &adverse,
		&voided, &r.VoidReason)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan trade record: %w", err)
	}

	r.Timestamp = parseTime(ts)
	r.ResolutionTime = parseTime(resTime)
	r.MarketType = types.MarketType(marketType)
	r.Action = types.Side(action)
	r.HeadlineOnlySignal = headline != 0
	r.Voided = voided != 0
	if err := json.Unmarshal([]byte(tags), &r.SignalTags); err != nil {
		return nil, fmt.Errorf("unmarshal signal tags: %w", err)
	}
	if outcome.Valid {
		v := outcome.Int64 != 0
		r.ActualOutcome = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		r.PnL = &v
	}
	if brierRaw.Valid {
		v := brierRaw.Float64
		r.BrierRaw = &v
	}
	if brierAdj.Valid {
		v := brierAdj.Float64
		r.BrierAdjusted = &v
	}
	if resolvedAt.Valid {
		v := parseTime(resolvedAt.String)
		r.ResolvedAt = &v
	}
	if adverse.Valid {
		v := adverse.Float64
		r.UnrealizedAdverseMove = &v
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
