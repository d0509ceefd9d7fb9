package model

import "time"

// BudgetPeriodKind is the rollover cadence for a BudgetPeriod accumulator.
type BudgetPeriodKind string

const (
	BudgetPeriodDaily   BudgetPeriodKind = "daily"
	BudgetPeriodWeekly  BudgetPeriodKind = "weekly"
	BudgetPeriodMonthly BudgetPeriodKind = "monthly"
)

// BudgetStatus is the tri-state warning level reported for a session or
// aggregate spend against its limit.
type BudgetStatus string

const (
	BudgetOK        BudgetStatus = "OK"
	BudgetWarning   BudgetStatus = "WARNING"
	BudgetExhausted BudgetStatus = "EXHAUSTED"
)

// BudgetPeriod is a rolling accumulator of estimated/actual spend across
// sandbox sessions, scoped to a kind of rollover window (spec.md §3
// "BudgetPeriod").
type BudgetPeriod struct {
	ID          string           `json:"id"`
	Kind        BudgetPeriodKind `json:"kind"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Limit       float64          `json:"limit"`
	Spent       float64          `json:"spent"`
}

// Status reports the warning tier for spent against thresholds expressed
// as fractions of Limit (e.g. [0.8, 1.0]).
func (b *BudgetPeriod) Status(thresholds []float64) BudgetStatus {
	if b.Limit <= 0 {
		return BudgetOK
	}
	ratio := b.Spent / b.Limit
	status := BudgetOK
	for _, t := range thresholds {
		if ratio >= t {
			if t >= 1.0 {
				status = BudgetExhausted
			} else if status == BudgetOK {
				status = BudgetWarning
			}
		}
	}
	return status
}

// Remaining returns the unspent portion of the budget, floored at zero.
func (b *BudgetPeriod) Remaining() float64 {
	r := b.Limit - b.Spent
	if r < 0 {
		return 0
	}
	return r
}
