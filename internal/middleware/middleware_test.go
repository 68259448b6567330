package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cashdesk/internal/middleware"
	"cashdesk/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "mw-secret"

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func protected(roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/p", middleware.JWTAuth(secret), middleware.RequireRole(roles...), func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		c.String(http.StatusOK, id.OperatorID+"@"+id.StoreID)
	})
	return r
}

func bearer(t *testing.T, id model.Identity, ttl time.Duration) *http.Request {
	t.Helper()
	tok, err := middleware.IssueToken(secret, id, ttl)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestJWTAuth(t *testing.T) {
	r := protected(middleware.RoleOperator)
	op := model.Identity{OperatorID: "op-1", StoreID: "store-A", Role: middleware.RoleOperator}

	w := serve(r, bearer(t, op, time.Hour))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-1@store-A", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, bearer(t, op, -time.Minute)).Code, "expired")
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/p", nil)).Code)

	noStore := model.Identity{OperatorID: "op-1", Role: middleware.RoleOperator}
	assert.Equal(t, http.StatusForbidden, serve(r, bearer(t, noStore, time.Hour)).Code)

	sup := model.Identity{OperatorID: "sup-1", StoreID: "store-A", Role: middleware.RoleSupervisor}
	assert.Equal(t, http.StatusForbidden, serve(r, bearer(t, sup, time.Hour)).Code, "role not allowed")
}

func TestJWTAuth_RejectsOtherAlgorithms(t *testing.T) {
	r := protected(middleware.RoleOperator)
	claims := middleware.JWTClaims{OperatorID: "op-1", StoreID: "store-A", Role: middleware.RoleOperator}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	other, err := middleware.IssueToken("another-secret", model.Identity{OperatorID: "op-1", StoreID: "store-A", Role: middleware.RoleOperator}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestJWTAuth_EmptySecretRejectsEverything(t *testing.T) {
	_, err := middleware.IssueToken("", model.Identity{OperatorID: "x", StoreID: "any"}, time.Hour)
	assert.Error(t, err)

	claims := middleware.JWTClaims{OperatorID: "x", StoreID: "any", Role: middleware.RoleSupervisor,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(""))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/p", middleware.JWTAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestRateLimiter(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	r := gin.New()
	r.Use(middleware.RateLimiter(3, time.Hour, done))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Buckets are per client IP.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(middleware.CORS([]string{"https://pos.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://pos.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://pos.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	open := gin.New()
	open.Use(middleware.CORS(nil))
	open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = serve(open, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDAndErrorHandling(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(), middleware.ErrorHandler())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	r.GET("/err", func(c *gin.Context) { _ = c.Error(assert.AnError) })

	req := httptest.NewRequest(http.MethodGet, "/err", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "internal_error")
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}
