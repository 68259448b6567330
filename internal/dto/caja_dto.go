package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type AbrirCajaRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance" validate:"min=0"`
}

type CierreCajaRequest struct {
	// RealBalance is the physically counted cash. Zero is a valid count.
	RealBalance decimal.Decimal `json:"real_balance" validate:"min=0"`
	Notes       string          `json:"notes"        validate:"max=2000"`
}

type SaldarDescuadreRequest struct {
	Notes string `json:"notes" validate:"required,min=3,max=2000"`
}

// MovimientoRequest carries an optional client-generated id that doubles as
// the idempotency key for retried submissions.
type MovimientoRequest struct {
	ID            string          `json:"id"             validate:"omitempty,uuid"`
	SessionID     string          `json:"session_id"     validate:"required,uuid"`
	Kind          string          `json:"kind"           validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"      validate:"required,oneof=IN OUT"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
	OriginID      string          `json:"origin_id"      validate:"max=128"`
	Description   string          `json:"description"    validate:"max=500"`
}

type ContraasientoRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SesionCajaResponse struct {
	ID                 string           `json:"id"`
	StoreID            string           `json:"store_id"`
	OperatorID         string           `json:"operator_id"`
	InitialBalance     decimal.Decimal  `json:"initial_balance"`
	TheoreticalBalance decimal.Decimal  `json:"theoretical_balance"`
	RealBalance        *decimal.Decimal `json:"real_balance"`
	Difference         *decimal.Decimal `json:"difference"`
	Status             string           `json:"status"`
	ClosureNotes       string           `json:"closure_notes"`
	ClosedBy           *string          `json:"closed_by"`
	SettledAt          *string          `json:"settled_at"`
	SettledBy          *string          `json:"settled_by"`
	SettlementNotes    *string          `json:"settlement_notes"`
	OpenedAt           string           `json:"opened_at"`
	ClosedAt           *string          `json:"closed_at"`
}

type MovimientoResponse struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"`
	PaymentMethod string          `json:"payment_method"`
	OperatorID    string          `json:"operator_id"`
	StoreID       string          `json:"store_id"`
	OriginID      string          `json:"origin_id"`
	Description   string          `json:"description"`
	InvoiceID     *string         `json:"invoice_id"`
	RecordedAt    string          `json:"recorded_at"`
}

type CierreCajaResponse struct {
	Session    SesionCajaResponse `json:"session"`
	Matched    bool               `json:"matched"`
	Difference decimal.Decimal    `json:"difference"`
}

type TotalPorClave struct {
	Key   string          `json:"key"`
	In    decimal.Decimal `json:"in"`
	Out   decimal.Decimal `json:"out"`
	Net   decimal.Decimal `json:"net"`
	Count int64           `json:"count"`
}

type ReporteCajaResponse struct {
	Session          SesionCajaResponse `json:"session"`
	TotalIn          decimal.Decimal    `json:"total_in"`
	TotalOut         decimal.Decimal    `json:"total_out"`
	MovementCount    int64              `json:"movement_count"`
	PorMetodoPago    []TotalPorClave    `json:"by_payment_method"`
	PorTipo          []TotalPorClave    `json:"by_kind"`
	CustodyOpenCount int                `json:"custody_open_count"`
}

type HistorialCajaResponse struct {
	Data  []SesionCajaResponse `json:"data"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

type FacturaResponse struct {
	MovementID string `json:"movement_id"`
	Status     string `json:"status"` // queued
}
