package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cashdesk/internal/config"
	"cashdesk/internal/dto"
	"cashdesk/internal/middleware"
	"cashdesk/internal/model"
	"cashdesk/internal/repository/memory"
	"cashdesk/internal/router"
	"cashdesk/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var (
	operatorA   = model.Identity{OperatorID: "op-1", StoreID: "store-A", Role: middleware.RoleOperator}
	operatorB   = model.Identity{OperatorID: "op-9", StoreID: "store-B", Role: middleware.RoleOperator}
	supervisorA = model.Identity{OperatorID: "sup-1", StoreID: "store-A", Role: middleware.RoleSupervisor}
)

type queueSpy struct {
	mu  sync.Mutex
	ids []string
}

func (q *queueSpy) EnqueueInvoice(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type testServer struct {
	engine *gin.Engine
	queue  *queueSpy
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	queue := &queueSpy{}
	ledger := service.NewLedgerService(store)
	svc := router.Services{
		Caja:         service.NewCajaService(store, store),
		Ledger:       ledger,
		Reversals:    service.NewReversalService(store, ledger),
		Invoices:     service.NewInvoiceService(ledger, queue),
		Custody:      service.NewCustodyService(store, store),
		BreakerState: func() string { return "closed" },
	}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	cfg := &config.Config{Env: "test", JWTSecret: secret}
	return &testServer{engine: router.New(cfg, nil, nil, svc, done), queue: queue}
}

func (s *testServer) do(t *testing.T, who *model.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		tok, err := middleware.IssueToken(secret, *who, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) open(t *testing.T, who model.Identity, initial string) dto.SesionCajaResponse {
	t.Helper()
	w := s.do(t, &who, http.MethodPost, "/v1/caja/abrir", map[string]any{"initial_balance": initial})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.SesionCajaResponse](t, w)
}

func (s *testServer) sale(t *testing.T, who model.Identity, sessionID, amount string) dto.MovimientoResponse {
	t.Helper()
	w := s.do(t, &who, http.MethodPost, "/v1/caja/movimientos", map[string]any{
		"session_id": sessionID, "kind": "sale", "amount": amount,
		"direction": "IN", "payment_method": "cash",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.MovimientoResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(t, nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "disabled", body["db"])
	assert.Equal(t, "closed", body["invoice_issuer"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	s := newServer(t)

	w := s.do(t, nil, http.MethodGet, "/v1/caja/activa", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/caja/activa", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	guest := model.Identity{OperatorID: "x", StoreID: "store-A", Role: "guest"}
	w = s.do(t, &guest, http.MethodGet, "/v1/caja/activa", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCajaLifecycle(t *testing.T) {
	s := newServer(t)

	sess := s.open(t, operatorA, "100.00")
	assert.Equal(t, "OPEN", sess.Status)
	assert.Equal(t, "store-A", sess.StoreID)

	w := s.do(t, &operatorA, http.MethodPost, "/v1/caja/abrir", map[string]any{"initial_balance": "0"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "session_already_open", decode[map[string]any](t, w)["code"])

	s.sale(t, operatorA, sess.ID, "50.00")

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/activa", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "150", decode[dto.SesionCajaResponse](t, w).TheoreticalBalance.String())

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/"+sess.ID+"/movimientos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]dto.MovimientoResponse](t, w), 1)

	w = s.do(t, &operatorA, http.MethodPost, "/v1/caja/"+sess.ID+"/cierre", map[string]any{"real_balance": "150.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closure := decode[dto.CierreCajaResponse](t, w)
	assert.True(t, closure.Matched)
	assert.Equal(t, "CLOSED", closure.Session.Status)

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/"+sess.ID+"/reporte", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[dto.ReporteCajaResponse](t, w).MovementCount)

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/historial?page=1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[dto.HistorialCajaResponse](t, w).Total)

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/historial?page=0&limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[dto.HistorialCajaResponse](t, w)
	assert.Equal(t, 1, hist.Page)
	assert.Equal(t, 20, hist.Limit)
}

func TestCajaDiscrepancyNeedsSupervisor(t *testing.T) {
	s := newServer(t)
	sess := s.open(t, operatorA, "100")

	w := s.do(t, &operatorA, http.MethodPost, "/v1/caja/"+sess.ID+"/cierre", map[string]any{"real_balance": "90"})
	require.Equal(t, http.StatusOK, w.Code)
	closure := decode[dto.CierreCajaResponse](t, w)
	assert.False(t, closure.Matched)
	assert.Equal(t, "DISCREPANCY", closure.Session.Status)
	assert.Contains(t, closure.Session.ClosureNotes, "[DISCREPANCY DETECTED: -10.00]")

	// The drawer stays blocked until a supervisor settles.
	w = s.do(t, &operatorA, http.MethodPost, "/v1/caja/abrir", map[string]any{"initial_balance": "0"})
	assert.Equal(t, http.StatusConflict, w.Code)

	settle := map[string]any{"notes": "counted twice, shortfall confirmed"}
	w = s.do(t, &operatorA, http.MethodPost, "/v1/caja/"+sess.ID+"/saldar", settle)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, &supervisorA, http.MethodPost, "/v1/caja/"+sess.ID+"/saldar", settle)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	s.open(t, operatorA, "0")
}

func TestMovimientoValidation(t *testing.T) {
	s := newServer(t)
	sess := s.open(t, operatorA, "0")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"malformed session", map[string]any{"session_id": "x", "kind": "sale", "amount": "1", "direction": "IN", "payment_method": "cash"}, http.StatusUnprocessableEntity},
		{"bad direction", map[string]any{"session_id": sess.ID, "kind": "sale", "amount": "1", "direction": "SIDEWAYS", "payment_method": "cash"}, http.StatusUnprocessableEntity},
		{"zero amount", map[string]any{"session_id": sess.ID, "kind": "sale", "amount": "0", "direction": "IN", "payment_method": "cash"}, http.StatusUnprocessableEntity},
		{"sale going out", map[string]any{"session_id": sess.ID, "kind": "sale", "amount": "1", "direction": "OUT", "payment_method": "cash"}, http.StatusUnprocessableEntity},
		{"unknown session", map[string]any{"session_id": "6f1c1a2e-2b9d-4c59-9a53-2f0a2d0b7d11", "kind": "sale", "amount": "1", "direction": "IN", "payment_method": "cash"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, &operatorA, http.MethodPost, "/v1/caja/movimientos", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	w := s.do(t, &operatorA, http.MethodPost, "/v1/caja/movimientos", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCajaStoreScoping(t *testing.T) {
	s := newServer(t)
	sess := s.open(t, operatorA, "10")

	w := s.do(t, &operatorB, http.MethodGet, "/v1/caja/"+sess.ID, nil)
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, w.Code)

	w = s.do(t, &operatorB, http.MethodPost, "/v1/caja/movimientos", map[string]any{
		"session_id": sess.ID, "kind": "sale", "amount": "1", "direction": "IN", "payment_method": "cash",
	})
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, w.Code)
}

func TestContraasientoAndFactura(t *testing.T) {
	s := newServer(t)
	sess := s.open(t, operatorA, "0")
	m := s.sale(t, operatorA, sess.ID, "30")

	w := s.do(t, &operatorA, http.MethodPost, "/v1/caja/movimientos/"+m.ID+"/factura", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "queued", decode[dto.FacturaResponse](t, w).Status)
	assert.Equal(t, []string{m.ID}, s.queue.ids)

	reason := map[string]any{"reason": "wrong amount keyed"}
	w = s.do(t, &operatorA, http.MethodPost, "/v1/caja/movimientos/"+m.ID+"/contraasiento", reason)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, &supervisorA, http.MethodPost, "/v1/caja/movimientos/"+m.ID+"/contraasiento", reason)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rev := decode[dto.MovimientoResponse](t, w)
	assert.Equal(t, "OUT", rev.Direction)
	assert.Equal(t, m.ID, rev.OriginID)

	w = s.do(t, &supervisorA, http.MethodPost, "/v1/caja/movimientos/"+m.ID+"/contraasiento", reason)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, &operatorA, http.MethodGet, "/v1/caja/activa", nil)
	assert.True(t, decode[dto.SesionCajaResponse](t, w).TheoreticalBalance.IsZero())

	w = s.do(t, &operatorA, http.MethodPost, "/v1/caja/movimientos/not-a-uuid/factura", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustodia(t *testing.T) {
	s := newServer(t)
	sess := s.open(t, operatorA, "500")

	purchase := map[string]any{
		"session_id": sess.ID, "amount": "120", "payment_method": "cash",
		"client_id": "client-7", "item_ids": []string{"ring-18k"},
		"identity_document_ref": "evidence://dni/123", "item_photo_refs": []string{"evidence://photo/1"},
	}
	w := s.do(t, &operatorA, http.MethodPost, "/v1/custodia/compras", purchase)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	compra := decode[dto.CompraResponse](t, w)
	assert.Equal(t, "OUT", compra.Movement.Direction)
	assert.Equal(t, "CUSTODY", compra.Custody.Status)

	noEvidence := map[string]any{
		"session_id": sess.ID, "amount": "50", "payment_method": "cash",
		"client_id": "client-8", "item_ids": []string{"chain"},
	}
	w = s.do(t, &operatorA, http.MethodPost, "/v1/custodia/compras", noEvidence)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_legal_evidence", decode[map[string]any](t, w)["code"])

	w = s.do(t, &operatorA, http.MethodGet, "/v1/custodia/bandeja", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[dto.BandejaResponse](t, w)
	require.Equal(t, 1, inbox.Total)
	assert.False(t, inbox.Data[0].ReadyForRelease)
	assert.Equal(t, 15, inbox.Data[0].DaysRemaining)

	id := compra.Custody.ID
	w = s.do(t, &operatorA, http.MethodPost, "/v1/custodia/"+id+"/liberar", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "custody_not_elapsed", decode[map[string]any](t, w)["code"])

	w = s.do(t, &operatorA, http.MethodPost, "/v1/custodia/"+id+"/autoridad", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, &supervisorA, http.MethodPost, "/v1/custodia/"+id+"/autoridad", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode[dto.CustodiaResponse](t, w).SentToAuthorityDate)

	w = s.do(t, &operatorA, http.MethodPost, "/v1/custodia/"+id+"/incidencia", map[string]any{"reason": "police hold"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "INCIDENT", decode[dto.CustodiaResponse](t, w).Status)

	w = s.do(t, &operatorB, http.MethodGet, "/v1/custodia/"+id, nil)
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, w.Code)
}
