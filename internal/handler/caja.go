package handler

import (
	"net/http"

	"cashdesk/internal/dto"
	"cashdesk/internal/middleware"
	"cashdesk/internal/model"
	"cashdesk/internal/service"

	"github.com/gin-gonic/gin"
)

type CajaHandler struct {
	sessions  service.CajaService
	ledger    service.LedgerService
	reversals service.ReversalService
	invoices  service.InvoiceService
}

func NewCajaHandler(
	sessions service.CajaService,
	ledger service.LedgerService,
	reversals service.ReversalService,
	invoices service.InvoiceService,
) *CajaHandler {
	return &CajaHandler{sessions: sessions, ledger: ledger, reversals: reversals, invoices: invoices}
}

// Abrir godoc
// @Summary Abre una nueva sesion de caja para la tienda del operador
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.AbrirCajaRequest true "Saldo inicial"
// @Success 201 {object} dto.SesionCajaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/abrir [post]
func (h *CajaHandler) Abrir(c *gin.Context) {
	var req dto.AbrirCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sess, err := h.sessions.Open(c.Request.Context(), middleware.GetIdentity(c), req.InitialBalance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSesionResponse(sess))
}

// Activa godoc
// @Summary Sesion activa de la tienda (OPEN o DISCREPANCY sin saldar)
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SesionCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/activa [get]
func (h *CajaHandler) Activa(c *gin.Context) {
	sess, err := h.sessions.GetActive(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSesionResponse(sess))
}

// Historial godoc
// @Summary Historial paginado de sesiones de la tienda
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param page query int false "Pagina" default(1)
// @Param limit query int false "Tamaño de pagina" default(20)
// @Success 200 {object} dto.HistorialCajaResponse
// @Router /v1/caja/historial [get]
func (h *CajaHandler) Historial(c *gin.Context) {
	page, limit := queryInt(c, "page", 1), queryInt(c, "limit", 20)
	res, err := h.sessions.History(c.Request.Context(), middleware.GetIdentity(c), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	data := make([]dto.SesionCajaResponse, 0, len(res.Sessions))
	for i := range res.Sessions {
		data = append(data, toSesionResponse(&res.Sessions[i]))
	}
	c.JSON(http.StatusOK, dto.HistorialCajaResponse{Data: data, Total: res.Total, Page: res.Page, Limit: res.Limit})
}

// Obtener godoc
// @Summary Obtiene una sesion de caja
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.SesionCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id} [get]
func (h *CajaHandler) Obtener(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSesionResponse(sess))
}

// Reporte godoc
// @Summary Totales de la sesion por metodo de pago y por tipo
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.ReporteCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/reporte [get]
func (h *CajaHandler) Reporte(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sum, err := h.sessions.Summary(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.ReporteCajaResponse{
		Session:          toSesionResponse(sum.Session),
		TotalIn:          sum.TotalIn,
		TotalOut:         sum.TotalOut,
		MovementCount:    sum.MovementCount,
		PorMetodoPago:    toTotales(sum.ByPaymentMethod),
		PorTipo:          toTotales(sum.ByKind),
		CustodyOpenCount: sum.OpenCustody,
	}
	c.JSON(http.StatusOK, resp)
}

func toTotales(in []service.KeyTotal) []dto.TotalPorClave {
	out := make([]dto.TotalPorClave, 0, len(in))
	for _, t := range in {
		out = append(out, dto.TotalPorClave{Key: t.Key, In: t.In, Out: t.Out, Net: t.Net(), Count: t.Count})
	}
	return out
}

// Movimientos godoc
// @Summary Lista los movimientos de una sesion en orden de registro
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {array} dto.MovimientoResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/movimientos [get]
func (h *CajaHandler) Movimientos(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	movs, err := h.ledger.ListBySession(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]dto.MovimientoResponse, 0, len(movs))
	for i := range movs {
		out = append(out, toMovimientoResponse(&movs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// Cierre godoc
// @Summary Cierra la sesion comparando el efectivo contado con el saldo teorico
// @Description Un descuadre no es un error: la sesion queda en DISCREPANCY.
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Param body body dto.CierreCajaRequest true "Efectivo contado"
// @Success 200 {object} dto.CierreCajaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/{id}/cierre [post]
func (h *CajaHandler) Cierre(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CierreCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	res, err := h.sessions.Close(c.Request.Context(), middleware.GetIdentity(c), id, req.RealBalance, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CierreCajaResponse{
		Session:    toSesionResponse(res.Session),
		Matched:    res.Matched,
		Difference: res.Difference,
	})
}

// Saldar godoc
// @Summary Salda un descuadre y libera la tienda para abrir una nueva sesion
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Param body body dto.SaldarDescuadreRequest true "Notas del supervisor"
// @Success 200 {object} dto.SesionCajaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/{id}/saldar [post]
func (h *CajaHandler) Saldar(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.SaldarDescuadreRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sess, err := h.sessions.SettleDiscrepancy(c.Request.Context(), middleware.GetIdentity(c), id, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSesionResponse(sess))
}

// RegistrarMovimiento godoc
// @Summary Registra un movimiento de caja
// @Description El campo id es opcional y actua como clave de idempotencia.
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.MovimientoRequest true "Movimiento"
// @Success 201 {object} dto.MovimientoResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/movimientos [post]
func (h *CajaHandler) RegistrarMovimiento(c *gin.Context) {
	var req dto.MovimientoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	m, err := h.ledger.Append(c.Request.Context(), middleware.GetIdentity(c), service.MovementDraft{
		ID:            optionalUUID(req.ID),
		SessionID:     optionalUUID(req.SessionID),
		Kind:          model.MovementKind(req.Kind),
		Amount:        req.Amount,
		Direction:     model.Direction(req.Direction),
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		OriginID:      req.OriginID,
		Description:   req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMovimientoResponse(m))
}

// Contraasiento godoc
// @Summary Registra el contraasiento de un movimiento
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID del movimiento original"
// @Param body body dto.ContraasientoRequest true "Motivo"
// @Success 201 {object} dto.MovimientoResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/movimientos/{id}/contraasiento [post]
func (h *CajaHandler) Contraasiento(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ContraasientoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	m, err := h.reversals.CounterMovement(c.Request.Context(), middleware.GetIdentity(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMovimientoResponse(m))
}

// Factura godoc
// @Summary Solicita la emision de factura para un movimiento
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID del movimiento"
// @Success 202 {object} dto.FacturaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/movimientos/{id}/factura [post]
func (h *CajaHandler) Factura(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.invoices.Request(c.Request.Context(), middleware.GetIdentity(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.FacturaResponse{MovementID: id.String(), Status: "queued"})
}
