package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a cash session.
type SessionStatus string

const (
	SessionOpen        SessionStatus = "OPEN"
	SessionClosed      SessionStatus = "CLOSED"
	SessionDiscrepancy SessionStatus = "DISCREPANCY"
)

// CashSession is one store's cash drawer for one business day (the "caja").
// TheoreticalBalance is maintained incrementally by every accepted movement
// and is never rebuilt by replaying the ledger.
type CashSession struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StoreID            string          `gorm:"type:varchar(64);not null;index"`
	OperatorID         string          `gorm:"type:varchar(64);not null"`
	InitialBalance     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TheoreticalBalance decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	// RealBalance and Difference are only set at closure.
	RealBalance  *decimal.Decimal `gorm:"type:decimal(12,2)"`
	Difference   *decimal.Decimal `gorm:"type:decimal(12,2)"`
	Status       SessionStatus    `gorm:"type:varchar(20);not null;default:'OPEN'"`
	ClosureNotes string           `gorm:"not null;default:''"`
	ClosedBy     *string          `gorm:"type:varchar(64)"`
	// A DISCREPANCY session keeps the store's drawer blocked until a
	// supervisor settles it.
	SettledAt       *time.Time
	SettledBy       *string `gorm:"type:varchar(64)"`
	SettlementNotes *string
	Version         int64 `gorm:"not null;default:0"`
	OpenedAt        time.Time
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}

func (CashSession) TableName() string { return "cash_sessions" }

// IsActive reports whether the session still occupies the store's single
// drawer slot: OPEN, or DISCREPANCY not yet settled.
func (s *CashSession) IsActive() bool {
	switch s.Status {
	case SessionOpen:
		return true
	case SessionDiscrepancy:
		return s.SettledAt == nil
	default:
		return false
	}
}

// AcceptsMovements reports whether the ledger may append to this session.
// Unsettled discrepancies stay writable so adjusting entries can be posted.
func (s *CashSession) AcceptsMovements() bool { return s.IsActive() }
