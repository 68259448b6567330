package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

// Evidence references are checked by the service, not by tags: missing
// evidence is a compliance refusal with its own error, not a form error.
type CustodiaRequest struct {
	MovementID          string   `json:"movement_id"           validate:"required,uuid"`
	ClientID            string   `json:"client_id"             validate:"required,max=128"`
	ItemIDs             []string `json:"item_ids"              validate:"required,min=1,dive,required"`
	IdentityDocumentRef string   `json:"identity_document_ref"`
	ItemPhotoRefs       []string `json:"item_photo_refs"`
	Observations        string   `json:"observations"          validate:"max=2000"`
}

// CompraRequest registers a buy-back: the purchase OUT movement and its
// custody record are written together.
type CompraRequest struct {
	ID                  string          `json:"id"                    validate:"omitempty,uuid"`
	SessionID           string          `json:"session_id"            validate:"required,uuid"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentMethod       string          `json:"payment_method"        validate:"required"`
	ClientID            string          `json:"client_id"             validate:"required,max=128"`
	ItemIDs             []string        `json:"item_ids"              validate:"required,min=1,dive,required"`
	IdentityDocumentRef string          `json:"identity_document_ref"`
	ItemPhotoRefs       []string        `json:"item_photo_refs"`
	Observations        string          `json:"observations"          validate:"max=2000"`
	Description         string          `json:"description"           validate:"max=500"`
}

type IncidenciaRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CustodiaResponse struct {
	ID                  string   `json:"id"`
	MovementID          string   `json:"movement_id"`
	SessionID           string   `json:"session_id"`
	StoreID             string   `json:"store_id"`
	ClientID            string   `json:"client_id"`
	ItemIDs             []string `json:"item_ids"`
	IdentityDocumentRef string   `json:"identity_document_ref"`
	ItemPhotoRefs       []string `json:"item_photo_refs"`
	Status              string   `json:"status"`
	Observations        string   `json:"observations"`
	CustodyEndDate      string   `json:"custody_end_date"`
	SentToAuthorityDate *string  `json:"sent_to_authority_date"`
	ReleasedAt          *string  `json:"released_at"`
	ReleasedBy          *string  `json:"released_by"`
	IncidentAt          *string  `json:"incident_at"`
	CreatedAt           string   `json:"created_at"`
}

type CompraResponse struct {
	Movement MovimientoResponse `json:"movement"`
	Custody  CustodiaResponse   `json:"custody"`
}

type BandejaItem struct {
	CustodiaResponse
	DaysRemaining   int  `json:"days_remaining"`
	ReadyForRelease bool `json:"ready_for_release"`
}

type BandejaResponse struct {
	Data  []BandejaItem `json:"data"`
	Total int           `json:"total"`
}
