package handler

import (
	"net/http"
	"reflect"
	"strconv"
	"time"

	"cashdesk/internal/apierror"
	"cashdesk/internal/dto"
	"cashdesk/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode(apierror.CodeBadRequest, "JSON invalido: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		for _, fe := range err.(validator.ValidationErrors) {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// uuidParam parses a path parameter, writing 400 on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode(apierror.CodeBadRequest, name+" invalido"))
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses an optional body id; "" is uuid.Nil. Validation tags
// have already rejected malformed values.
func optionalUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, _ := uuid.Parse(s)
	return id
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}

// ── Mapping ──────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toSesionResponse(s *model.CashSession) dto.SesionCajaResponse {
	return dto.SesionCajaResponse{
		ID:                 s.ID.String(),
		StoreID:            s.StoreID,
		OperatorID:         s.OperatorID,
		InitialBalance:     s.InitialBalance,
		TheoreticalBalance: s.TheoreticalBalance,
		RealBalance:        s.RealBalance,
		Difference:         s.Difference,
		Status:             string(s.Status),
		ClosureNotes:       s.ClosureNotes,
		ClosedBy:           s.ClosedBy,
		SettledAt:          formatTimePtr(s.SettledAt),
		SettledBy:          s.SettledBy,
		SettlementNotes:    s.SettlementNotes,
		OpenedAt:           formatTime(s.OpenedAt),
		ClosedAt:           formatTimePtr(s.ClosedAt),
	}
}

func toMovimientoResponse(m *model.Movement) dto.MovimientoResponse {
	return dto.MovimientoResponse{
		ID:            m.ID.String(),
		SessionID:     m.SessionID.String(),
		Kind:          string(m.Kind),
		Amount:        m.Amount,
		Direction:     string(m.Direction),
		PaymentMethod: string(m.PaymentMethod),
		OperatorID:    m.OperatorID,
		StoreID:       m.StoreID,
		OriginID:      m.OriginID,
		Description:   m.Description,
		InvoiceID:     m.InvoiceID,
		RecordedAt:    formatTime(m.RecordedAt),
	}
}

func toCustodiaResponse(r *model.CustodyRecord) dto.CustodiaResponse {
	return dto.CustodiaResponse{
		ID:                  r.ID.String(),
		MovementID:          r.MovementID.String(),
		SessionID:           r.SessionID.String(),
		StoreID:             r.StoreID,
		ClientID:            r.ClientID,
		ItemIDs:             []string(r.ItemIDs),
		IdentityDocumentRef: r.IdentityDocumentRef,
		ItemPhotoRefs:       []string(r.ItemPhotoRefs),
		Status:              string(r.Status),
		Observations:        r.Observations,
		CustodyEndDate:      formatTime(r.CustodyEndDate),
		SentToAuthorityDate: formatTimePtr(r.SentToAuthorityDate),
		ReleasedAt:          formatTimePtr(r.ReleasedAt),
		ReleasedBy:          r.ReleasedBy,
		IncidentAt:          formatTimePtr(r.IncidentAt),
		CreatedAt:           formatTime(r.CreatedAt),
	}
}
