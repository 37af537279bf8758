package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"polymarket-predictor/pkg/types"
)

// SavePortfolio upserts the single portfolio row.
func (s *Store) SavePortfolio(p *types.Portfolio) error {
	positions, err := json.Marshal(p.OpenPositions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO portfolio (id, cash_balance, total_equity, total_pnl, peak_equity, max_drawdown, positions_json, updated_at)
		VALUES (1,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			cash_balance = excluded.cash_balance,
			total_equity = excluded.total_equity,
			total_pnl = excluded.total_pnl,
			peak_equity = excluded.peak_equity,
			max_drawdown = excluded.max_drawdown,
			positions_json = excluded.positions_json,
			updated_at = excluded.updated_at`,
		p.CashBalance, p.TotalEquity, p.TotalPnL, p.PeakEquity, p.MaxDrawdown,
		string(positions), fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}

// LoadPortfolio reads the portfolio row. Returns ErrNotFound when the
// database is fresh; the caller seeds the initial bankroll.
func (s *Store) LoadPortfolio() (*types.Portfolio, error) {
	var (
		p         types.Portfolio
		positions string
		updated   string
	)
	err := s.db.QueryRow(`SELECT cash_balance, total_equity, total_pnl, peak_equity, max_drawdown, positions_json, updated_at
		FROM portfolio WHERE id = 1`).
		Scan(&p.CashBalance, &p.TotalEquity, &p.TotalPnL, &p.PeakEquity, &p.MaxDrawdown, &positions, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if err := json.Unmarshal([]byte(positions), &p.OpenPositions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return &p, nil
}

// AddAPICost accumulates call count and cost for (today, service).
func (s *Store) AddAPICost(day time.Time, service string, calls int, costUSD float64) error {
	_, err := s.db.Exec(`INSERT INTO api_costs (date, service, calls, cost_usd) VALUES (?,?,?,?)
		ON CONFLICT(date, service) DO UPDATE SET
			calls = calls + excluded.calls,
			cost_usd = cost_usd + excluded.cost_usd`,
		day.UTC().Format("2006-01-02"), service, calls, costUSD)
	if err != nil {
		return fmt.Errorf("add api cost: %w", err)
	}
	return nil
}

// APISpendToday returns the total cost across services for a UTC day.
func (s *Store) APISpendToday(day time.Time) (float64, error) {
	var cost sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(cost_usd) FROM api_costs WHERE date = ?`,
		day.UTC().Format("2006-01-02")).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("api spend today: %w", err)
	}
	return cost.Float64, nil
}
