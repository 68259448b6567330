package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction carries the sign of a movement; amounts are always positive.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// Opposite returns the direction that cancels d.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// MovementKind classifies the business event behind a movement.
type MovementKind string

const (
	KindSale         MovementKind = "sale"
	KindPurchase     MovementKind = "purchase"
	KindReturn       MovementKind = "return"
	KindPawn         MovementKind = "pawn"
	KindPawnInterest MovementKind = "pawn-interest"
	KindAdjustment   MovementKind = "adjustment"
	KindManualIn     MovementKind = "manual-in"
	KindManualOut    MovementKind = "manual-out"
	KindReversal     MovementKind = "reversal"
)

// kindDirections pins the direction of kinds whose cash effect is fixed.
// Kinds mapped to "" accept either direction.
var (
	kindsMu        sync.RWMutex
	kindDirections = map[MovementKind]Direction{
		KindSale:         DirectionIn,
		KindPurchase:     DirectionOut,
		KindReturn:       DirectionOut,
		KindPawn:         DirectionOut,
		KindPawnInterest: DirectionIn,
		KindAdjustment:   "",
		KindManualIn:     DirectionIn,
		KindManualOut:    DirectionOut,
		KindReversal:     "",
	}
)

// RegisterMovementKind adds a kind to the closed set. fixed may be "" when the
// kind accepts both directions. Registering an existing kind is an error.
func RegisterMovementKind(kind MovementKind, fixed Direction) error {
	if kind == "" {
		return fmt.Errorf("movement kind must not be empty")
	}
	if fixed != "" && !fixed.Valid() {
		return fmt.Errorf("invalid direction %q for kind %q", fixed, kind)
	}
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, ok := kindDirections[kind]; ok {
		return fmt.Errorf("movement kind %q already registered", kind)
	}
	kindDirections[kind] = fixed
	return nil
}

// MovementKinds returns the registered kinds in lexical order.
func MovementKinds() []MovementKind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]MovementKind, 0, len(kindDirections))
	for k := range kindDirections {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k MovementKind) Valid() bool {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	_, ok := kindDirections[k]
	return ok
}

// Allows reports whether a movement of kind k may flow in direction d.
func (k MovementKind) Allows(d Direction) bool {
	kindsMu.RLock()
	fixed, ok := kindDirections[k]
	kindsMu.RUnlock()
	if !ok || !d.Valid() {
		return false
	}
	return fixed == "" || fixed == d
}

// PaymentMethod is how the money changed hands.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentTransfer     PaymentMethod = "transfer"
	PaymentMobileWallet PaymentMethod = "mobile-wallet"
	PaymentVoucher      PaymentMethod = "voucher"
	PaymentMixed        PaymentMethod = "mixed"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentMobileWallet, PaymentVoucher, PaymentMixed:
		return true
	}
	return false
}

// Movement is an immutable entry in the cash ledger.
// Corrections are new compensating movements, never updates or deletes.
// InvoiceID is the single exception: it may go from nil to a value once.
type Movement struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SessionID     uuid.UUID       `gorm:"type:uuid;index;not null"`
	Kind          MovementKind    `gorm:"type:varchar(32);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Direction     Direction       `gorm:"type:varchar(3);not null"`
	PaymentMethod PaymentMethod   `gorm:"type:varchar(20);not null"`
	OperatorID    string          `gorm:"type:varchar(64);not null"`
	StoreID       string          `gorm:"type:varchar(64);not null"`
	// OriginID references the sale, purchase or pawn behind the movement;
	// for reversals it holds the reversed movement's id.
	OriginID    string  `gorm:"type:varchar(128);not null;default:''"`
	Description string  `gorm:"not null;default:''"`
	InvoiceID   *string `gorm:"type:varchar(64)"`
	RecordedAt  time.Time
}

func (Movement) TableName() string { return "cash_movements" }

// SignedAmount is the movement's effect on the theoretical balance.
func (m *Movement) SignedAmount() decimal.Decimal {
	if m.Direction == DirectionOut {
		return m.Amount.Neg()
	}
	return m.Amount
}

// MovementTotal is one GROUP BY row of a session's ledger.
type MovementTotal struct {
	Kind          MovementKind
	PaymentMethod PaymentMethod
	Direction     Direction
	Total         decimal.Decimal
	Count         int64
}
