package handler

import (
	"errors"
	"net/http"

	"cashdesk/internal/apierror"
	"cashdesk/internal/middleware"
	"cashdesk/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps service sentinels to HTTP status codes. Order matters only
// for errors that wrap more than one sentinel; ErrStorageUnavailable is last
// so a wrapped domain error wins.
var errorTable = []errorMapping{
	{service.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{service.ErrInvalidMovement, http.StatusUnprocessableEntity, "invalid_movement"},
	{service.ErrInvalidCustodyInput, http.StatusUnprocessableEntity, "invalid_custody_input"},
	{service.ErrMissingLegalEvidence, http.StatusUnprocessableEntity, "missing_legal_evidence"},

	{service.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{service.ErrMovementNotFound, http.StatusNotFound, "movement_not_found"},
	{service.ErrCustodyNotFound, http.StatusNotFound, "custody_not_found"},

	{service.ErrInvalidSession, http.StatusConflict, "invalid_session"},
	{service.ErrSessionAlreadyOpen, http.StatusConflict, "session_already_open"},
	{service.ErrSessionNotOpen, http.StatusConflict, "session_not_open"},
	{service.ErrSessionNotDiscrepancy, http.StatusConflict, "session_not_discrepancy"},
	{service.ErrAlreadyReversed, http.StatusConflict, "already_reversed"},
	{service.ErrInvoiceAlreadyStamped, http.StatusConflict, "invoice_already_stamped"},
	{service.ErrCustodyExists, http.StatusConflict, "custody_exists"},
	{service.ErrCustodyNotElapsed, http.StatusConflict, "custody_not_elapsed"},
	{service.ErrCustodyIncident, http.StatusConflict, "custody_incident"},
	{service.ErrCustodyReleased, http.StatusConflict, "custody_released"},
	{service.ErrAlreadySentToAuthority, http.StatusConflict, "already_sent_to_authority"},

	{service.ErrForbiddenStore, http.StatusForbidden, "forbidden_store"},

	{service.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
}

// respondError writes the mapped status. Unknown errors become a bare 500 and
// are logged; their text never reaches the client.
func respondError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
				log.Warn().Err(err).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("storage unavailable")
				c.JSON(m.status, apierror.WithCode(m.code, m.err.Error()))
				return
			}
			c.JSON(m.status, apierror.WithCode(m.code, err.Error()))
			return
		}
	}
	_ = c.Error(err)
}
