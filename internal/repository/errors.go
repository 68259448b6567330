package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrVersionConflict     = errors.New("concurrent update conflict")
	ErrTransient           = errors.New("transient storage fault")
	ErrDuplicate           = errors.New("duplicate record")
	ErrActiveSessionExists = errors.New("store already has an active session")
	ErrReversalExists      = errors.New("movement already reversed")
	ErrCustodyExists       = errors.New("movement already has a custody record")
	ErrAlreadyStamped      = errors.New("invoice already stamped")
	ErrStateChanged        = errors.New("record state changed")
)

// Constraint names from migrations/000001_init.up.sql.
const (
	constraintActiveStore   = "ux_cash_sessions_active_store"
	constraintReversal      = "ux_cash_movements_reversal"
	constraintCustodyMoveID = "ux_custody_records_movement"
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the package's sentinels so callers never
// need to import pgconn or gorm.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintActiveStore:
				return ErrActiveSessionExists
			case constraintReversal:
				return ErrReversalExists
			case constraintCustodyMoveID:
				return ErrCustodyExists
			}
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Code)
		}
	}
	return err
}
