package service

import "errors"

// Caller-correctable validation and state errors. None of them are retried.
var (
	ErrInvalidSession         = errors.New("session does not accept movements")
	ErrInvalidAmount          = errors.New("amount must be strictly positive")
	ErrInvalidMovement        = errors.New("invalid movement")
	ErrSessionAlreadyOpen     = errors.New("store already has an open session")
	ErrSessionNotOpen         = errors.New("session is not open")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionNotDiscrepancy  = errors.New("session has no pending discrepancy")
	ErrMovementNotFound       = errors.New("movement not found")
	ErrAlreadyReversed        = errors.New("movement already reversed")
	ErrInvoiceAlreadyStamped  = errors.New("movement already has an invoice")
	ErrMissingLegalEvidence   = errors.New("identity document and at least one item photo are required")
	ErrCustodyNotFound        = errors.New("custody record not found")
	ErrCustodyExists          = errors.New("movement already has a custody record")
	ErrCustodyNotElapsed      = errors.New("custody period has not elapsed")
	ErrCustodyIncident        = errors.New("custody record is flagged as incident")
	ErrCustodyReleased        = errors.New("custody record already released")
	ErrAlreadySentToAuthority = errors.New("custody record already reported to the authority")
	ErrForbiddenStore         = errors.New("operator is not bound to this store")
)

// ErrStorageUnavailable is the one transient fault surfaced to callers:
// storage timed out or the balance update kept losing its race. The caller
// may retry with the same movement id.
var ErrStorageUnavailable = errors.New("storage unavailable, try again")

// ErrInvalidCustodyInput covers custody data that is malformed but not a
// compliance refusal: missing client or items, or a blank incident reason.
var ErrInvalidCustodyInput = errors.New("custody record requires a client, at least one item and a reason where applicable")
