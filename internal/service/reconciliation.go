package service

import (
	"fmt"
	"strings"

	"cashdesk/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is one cent.
var DefaultTolerance = decimal.New(1, -2)

// Reconciliation is the outcome of comparing counted cash with the ledger.
type Reconciliation struct {
	Matched bool
	// Difference is real - theoretical; zero when matched.
	Difference decimal.Decimal
	Status     model.SessionStatus
	// Note is the audit line appended to the closure notes, empty when matched.
	Note string
}

// Reconcile is a pure function: a difference strictly below tolerance is a
// match and is recorded as zero. An exact count always matches.
func Reconcile(theoretical, real, tolerance decimal.Decimal) Reconciliation {
	diff := real.Sub(theoretical)
	if diff.IsZero() || diff.Abs().LessThan(tolerance) {
		return Reconciliation{Matched: true, Difference: decimal.Zero, Status: model.SessionClosed}
	}
	return Reconciliation{
		Matched:    false,
		Difference: diff,
		Status:     model.SessionDiscrepancy,
		Note:       discrepancyNote(diff),
	}
}

func discrepancyNote(diff decimal.Decimal) string {
	s := diff.StringFixed(2)
	if diff.IsPositive() {
		s = "+" + s
	}
	return fmt.Sprintf("[DISCREPANCY DETECTED: %s]", s)
}

// appendNote joins free-text notes with a single space.
func appendNote(notes, note string) string {
	notes = strings.TrimSpace(notes)
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + " " + note
}
