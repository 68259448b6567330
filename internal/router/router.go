package router

import (
	"time"

	"cashdesk/internal/config"
	"cashdesk/internal/handler"
	"cashdesk/internal/metrics"
	"cashdesk/internal/middleware"
	"cashdesk/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Services is everything the HTTP layer calls into. The composition root in
// cmd/server builds it; tests build it over the in-memory store.
type Services struct {
	Caja      service.CajaService
	Ledger    service.LedgerService
	Reversals service.ReversalService
	Invoices  service.InvoiceService
	Custody   service.CustodyService

	Metrics *metrics.Metrics
	// Registry serves /metrics when non-nil.
	Registry *prometheus.Registry
	// BreakerState reports the invoice issuer circuit state on /health.
	BreakerState func() string
}

// New returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
// done stops the rate limiter's purge loop.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, svc Services, done <-chan struct{}) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(svc.Metrics))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute, done)) // 1000 req/min per IP

	cajaH := handler.NewCajaHandler(svc.Caja, svc.Ledger, svc.Reversals, svc.Invoices)
	custodyH := handler.NewCustodyHandler(svc.Custody)

	// Public
	r.GET("/health", handler.Health(db, rdb, svc.BreakerState))
	if svc.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{})))
	}

	anyRole := middleware.RequireRole(middleware.RoleOperator, middleware.RoleSupervisor)
	supervisor := middleware.RequireRole(middleware.RoleSupervisor)

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		caja := v1.Group("/caja", anyRole)
		{
			caja.POST("/abrir", cajaH.Abrir)
			caja.GET("/activa", cajaH.Activa)
			caja.GET("/historial", cajaH.Historial)
			caja.GET("/:id", cajaH.Obtener)
			caja.GET("/:id/reporte", cajaH.Reporte)
			caja.GET("/:id/movimientos", cajaH.Movimientos)
			caja.POST("/:id/cierre", cajaH.Cierre)
			caja.POST("/:id/saldar", supervisor, cajaH.Saldar)

			caja.POST("/movimientos", cajaH.RegistrarMovimiento)
			caja.POST("/movimientos/:id/contraasiento", supervisor, cajaH.Contraasiento)
			caja.POST("/movimientos/:id/factura", cajaH.Factura)
		}

		cust := v1.Group("/custodia", anyRole)
		{
			cust.POST("", custodyH.Crear)
			cust.POST("/compras", custodyH.Compra)
			cust.GET("/bandeja", custodyH.Bandeja)
			cust.GET("/:id", custodyH.Obtener)
			cust.POST("/:id/liberar", custodyH.Liberar)
			cust.POST("/:id/incidencia", custodyH.Incidencia)
			cust.POST("/:id/autoridad", supervisor, custodyH.Autoridad)
		}
	}

	// Swagger UI, only outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
