package handler

import (
	"net/http"

	"cashdesk/internal/dto"
	"cashdesk/internal/middleware"
	"cashdesk/internal/model"
	"cashdesk/internal/service"

	"github.com/gin-gonic/gin"
)

type CustodyHandler struct{ svc service.CustodyService }

func NewCustodyHandler(svc service.CustodyService) *CustodyHandler { return &CustodyHandler{svc: svc} }

// Crear godoc
// @Summary Crea la ficha legal de custodia para un movimiento de compra existente
// @Tags custodia
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CustodiaRequest true "Ficha legal"
// @Success 201 {object} dto.CustodiaResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/custodia [post]
func (h *CustodyHandler) Crear(c *gin.Context) {
	var req dto.CustodiaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), middleware.GetIdentity(c), service.CreateCustodyInput{
		MovementID: optionalUUID(req.MovementID),
		ClientID:   req.ClientID,
		ItemIDs:    req.ItemIDs,
		Evidence: service.Evidence{
			IdentityDocumentRef: req.IdentityDocumentRef,
			ItemPhotoRefs:       req.ItemPhotoRefs,
		},
		Observations: req.Observations,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCustodiaResponse(rec))
}

// Compra godoc
// @Summary Registra una compra a particular: salida de caja y ficha legal en una sola operacion
// @Tags custodia
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CompraRequest true "Compra"
// @Success 201 {object} dto.CompraResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/custodia/compras [post]
func (h *CustodyHandler) Compra(c *gin.Context) {
	var req dto.CompraRequest
	if !bindAndValidate(c, &req) {
		return
	}
	m, rec, err := h.svc.RegisterPurchase(c.Request.Context(), middleware.GetIdentity(c), service.RegisterPurchaseInput{
		MovementID:    optionalUUID(req.ID),
		SessionID:     optionalUUID(req.SessionID),
		Amount:        req.Amount,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		ClientID:      req.ClientID,
		ItemIDs:       req.ItemIDs,
		Evidence: service.Evidence{
			IdentityDocumentRef: req.IdentityDocumentRef,
			ItemPhotoRefs:       req.ItemPhotoRefs,
		},
		Observations: req.Observations,
		Description:  req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CompraResponse{
		Movement: toMovimientoResponse(m),
		Custody:  toCustodiaResponse(rec),
	})
}

// Bandeja godoc
// @Summary Bandeja legal: fichas en custodia o con incidencia, por fecha de fin
// @Tags custodia
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.BandejaResponse
// @Router /v1/custodia/bandeja [get]
func (h *CustodyHandler) Bandeja(c *gin.Context) {
	entries, err := h.svc.Inbox(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	data := make([]dto.BandejaItem, 0, len(entries))
	for i := range entries {
		data = append(data, dto.BandejaItem{
			CustodiaResponse: toCustodiaResponse(&entries[i].Record),
			DaysRemaining:    entries[i].DaysRemaining,
			ReadyForRelease:  entries[i].ReadyForRelease,
		})
	}
	c.JSON(http.StatusOK, dto.BandejaResponse{Data: data, Total: len(data)})
}

// Obtener godoc
// @Summary Obtiene una ficha legal
// @Tags custodia
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de ficha"
// @Success 200 {object} dto.CustodiaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/custodia/{id} [get]
func (h *CustodyHandler) Obtener(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCustodiaResponse(rec))
}

// Liberar godoc
// @Summary Libera la pieza para la venta una vez cumplido el plazo de custodia
// @Tags custodia
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de ficha"
// @Success 200 {object} dto.CustodiaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/custodia/{id}/liberar [post]
func (h *CustodyHandler) Liberar(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.Release(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCustodiaResponse(rec))
}

// Incidencia godoc
// @Summary Marca la ficha con incidencia; bloquea la liberacion
// @Tags custodia
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de ficha"
// @Param body body dto.IncidenciaRequest true "Motivo"
// @Success 200 {object} dto.CustodiaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/custodia/{id}/incidencia [post]
func (h *CustodyHandler) Incidencia(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.IncidenciaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	rec, err := h.svc.FlagIncident(c.Request.Context(), middleware.GetIdentity(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCustodiaResponse(rec))
}

// Autoridad godoc
// @Summary Registra el envio de la ficha a la autoridad
// @Tags custodia
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de ficha"
// @Success 200 {object} dto.CustodiaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/custodia/{id}/autoridad [post]
func (h *CustodyHandler) Autoridad(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.MarkSentToAuthority(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCustodiaResponse(rec))
}
