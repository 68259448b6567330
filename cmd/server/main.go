package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashdesk/internal/config"
	"cashdesk/internal/infra"
	"cashdesk/internal/metrics"
	"cashdesk/internal/repository"
	"cashdesk/internal/router"
	"cashdesk/internal/service"
	"cashdesk/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: pretty in development, JSON in production
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	loc, _ := cfg.Location()
	tolerance, _ := cfg.Tolerance()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if cfg.AutoMigrate {
		if err := infra.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	// ── Infrastructure ───────────────────────────────────────────────────────
	issuer := infra.NewInvoiceClient(cfg.InvoiceIssuerURL)
	mailer := infra.NewMailer(cfg)
	dispatcher := worker.NewDispatcher(rdb)

	// ── Repositories ─────────────────────────────────────────────────────────
	cajaRepo := repository.NewCajaRepository(db)
	custodyRepo := repository.NewCustodyRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	opts := []service.Option{
		service.WithLocation(loc),
		service.WithTolerance(tolerance),
		service.WithMetrics(m),
		service.WithLocker(infra.NewStoreLocker(rdb)),
		service.WithNotifier(worker.NewDiscrepancyNotifier(dispatcher, cfg.DiscrepancyAlertEmail)),
	}
	ledgerSvc := service.NewLedgerService(cajaRepo, opts...)
	svc := router.Services{
		Caja:         service.NewCajaService(cajaRepo, custodyRepo, opts...),
		Ledger:       ledgerSvc,
		Reversals:    service.NewReversalService(cajaRepo, ledgerSvc),
		Invoices:     service.NewInvoiceService(ledgerSvc, dispatcher),
		Custody:      service.NewCustodyService(cajaRepo, custodyRepo, opts...),
		Metrics:      m,
		Registry:     reg,
		BreakerState: issuer.State,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Worker handlers are wired here (composition root) so that the pool
	// has full access to the infrastructure.
	pool := worker.NewPool(rdb)
	pool.Handle(worker.QueueInvoice, worker.NewInvoiceWorker(issuer, cajaRepo, ledgerSvc, m).Process)
	pool.Handle(worker.QueueEmail, worker.NewEmailWorker(mailer).Process)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(cfg, db, rdb, svc, ctx.Done()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx, cfg.WorkerPoolSize)
		return nil
	})
	g.Go(func() error {
		worker.RunReplayCron(gctx, worker.ReplayCronConfig{RDB: rdb, BreakerState: issuer.State})
		return nil
	})
	g.Go(func() error {
		log.Info().Msgf("cashdesk listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}
