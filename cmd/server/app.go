package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consejo-social/veeduria/internal/api"
	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/auth"
	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/db"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	"github.com/consejo-social/veeduria/internal/resource/catalog"
	"github.com/consejo-social/veeduria/internal/services"
	"github.com/consejo-social/veeduria/internal/storage"
	_ "github.com/consejo-social/veeduria/internal/storage/local"
	_ "github.com/consejo-social/veeduria/internal/storage/s3"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

const (
	shutdownTimeout      = 10 * time.Second
	metricsServerTimeout = 10 * time.Second
)

// app owns everything serve needs. closers run in reverse order.
type app struct {
	cfg     *config.Config
	router  http.Handler
	bg      *api.BackgroundServices
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	secret, err := auth.SecretFromEnv(cfg.Server.IsProduction())
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, database)
	slog.Info("connected to database", "host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name)

	if err := telemetry.RegisterDBStats(prometheus.DefaultRegisterer, database.DB, cfg.Database.Name); err != nil {
		slog.Warn("database pool metrics disabled", "error", err)
	}
	if err := migrate(database.DB, "up"); err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	if b, ok := store.(interface{ EnsureBucket(context.Context) error }); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}

	readCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if c, ok := readCache.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shippers)

	var sink audit.Shipper
	if shippers.Len() > 0 {
		sink = shippers
	}
	writer := audit.NewWriter(database, repositories.NewAuditRepository(database), sink, cfg.Audit.RetentionFloorDays)

	created, err := services.NewAuthService(database, tokens, writer).BootstrapAdmin(ctx, cfg.Auth.BootstrapAdmin)
	if err != nil {
		return nil, fmt.Errorf("bootstrap administrator: %w", err)
	}
	if created {
		slog.Info("bootstrap administrator created", "email", cfg.Auth.BootstrapAdmin.Email)
	}

	a.router, a.bg = api.NewRouter(cfg, api.Dependencies{
		DB:       database,
		Registry: catalog.New(),
		Storage:  store,
		Cache:    readCache,
		Audit:    writer,
		Tokens:   tokens,
	})
	return a, nil
}

// serve blocks until ctx is canceled or a listener fails, then drains
// in-flight requests and stops the background services.
func (a *app) serve(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:         a.cfg.Server.GetAddress(),
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}}
	// the scrape endpoint stays off the public listener and its rate limits
	if m := a.cfg.Telemetry.Metrics; m.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf(":%d", m.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  metricsServerTimeout,
			WriteTimeout: metricsServerTimeout,
		})
	}

	tls := a.cfg.Security.TLS
	failed := make(chan error, len(servers))
	for i, srv := range servers {
		go func() {
			var err error
			if i == 0 && tls.Enabled {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if !errors.Is(err, http.ErrServerClosed) {
				failed <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}()
	}
	slog.Info("server started",
		"addr", servers[0].Addr,
		"environment", a.cfg.Server.Environment,
		"storage", a.cfg.Storage.DefaultBackend,
		"cache", a.cfg.Cache.Backend,
		"metrics", a.cfg.Telemetry.Metrics.Enabled,
		"tls", tls.Enabled)

	var serveErr error
	select {
	case serveErr = <-failed:
	case <-ctx.Done():
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	a.bg.Shutdown()

	if err := errors.Join(append([]error{serveErr}, errs...)...); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
