package store

import (
	"database/sql"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// InsertBudgetPeriod persists a new accumulator window.
func (db *DB) InsertBudgetPeriod(b *model.BudgetPeriod) error {
	_, err := db.Exec(`
		INSERT INTO budget_tracking (id, kind, period_start, period_end, budget_limit, spent)
		VALUES (?,?,?,?,?,?)`,
		b.ID, string(b.Kind), formatTime(b.PeriodStart), formatTime(b.PeriodEnd), b.Limit, b.Spent,
	)
	if err != nil {
		return &StoreError{Op: "insert budget period", Err: err}
	}
	return nil
}

// CurrentBudgetPeriod returns the most recent period of the given kind
// whose window contains atStr, or nil if none exists.
func (db *DB) CurrentBudgetPeriod(kind model.BudgetPeriodKind, atStr string) (*model.BudgetPeriod, error) {
	row := db.QueryRow(`
		SELECT id, kind, period_start, period_end, budget_limit, spent
		FROM budget_tracking
		WHERE kind = ? AND period_start <= ? AND period_end > ?
		ORDER BY period_start DESC LIMIT 1`, string(kind), atStr, atStr)

	var b model.BudgetPeriod
	var k, start, end string
	err := row.Scan(&b.ID, &k, &start, &end, &b.Limit, &b.Spent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "query current budget period", Err: err}
	}

	b.Kind = model.BudgetPeriodKind(k)
	if b.PeriodStart, err = parseTime(start); err != nil {
		return nil, &StoreError{Op: "parse budget period_start", Err: err}
	}
	if b.PeriodEnd, err = parseTime(end); err != nil {
		return nil, &StoreError{Op: "parse budget period_end", Err: err}
	}
	return &b, nil
}

// AddSpend increments a budget period's spent total.
func (db *DB) AddSpend(id string, delta float64) error {
	_, err := db.Exec(`UPDATE budget_tracking SET spent = spent + ? WHERE id = ?`, delta, id)
	if err != nil {
		return &StoreError{Op: "add spend", Err: err}
	}
	return nil
}
