// Package api implements the gateway's HTTP surface as thin Echo handlers
// over the domain services.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/hybrid"
	"github.com/vortexdb/vortex/internal/ingest"
	"github.com/vortexdb/vortex/internal/jobs"
	"github.com/vortexdb/vortex/internal/metrics"
	"github.com/vortexdb/vortex/internal/security"
	"github.com/vortexdb/vortex/internal/users"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

// Server wraps the Echo router and every domain service a handler needs.
type Server struct {
	echo *echo.Echo

	store    vectorstore.Client
	encoders encoders.Set
	hybrid   *hybrid.Pipeline
	ingest   *ingest.Service
	jobs     *jobs.Engine
	users    *users.Store
	jwt      []byte
	log      *zap.Logger
	access   *access.Control
}

// Config wires the Server's collaborators.
type Config struct {
	Store       vectorstore.Client
	Encoders    encoders.Set
	Hybrid      *hybrid.Pipeline
	Ingest      *ingest.Service
	Jobs        *jobs.Engine
	Users       *users.Store
	JWTSecret   []byte
	Security    *security.Middleware
	Log         *zap.Logger
	ShutdownSec int
}

// New constructs the Server and registers every route in the HTTP surface.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(metricsMiddleware)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s := &Server{
		echo:     e,
		store:    cfg.Store,
		encoders: cfg.Encoders,
		hybrid:   cfg.Hybrid,
		ingest:   cfg.Ingest,
		jobs:     cfg.Jobs,
		users:    cfg.Users,
		jwt:      cfg.JWTSecret,
		log:      cfg.Log,
		access:   access.New(),
	}

	var secMW echo.MiddlewareFunc
	if cfg.Security != nil {
		secMW = cfg.Security.Handler()
	} else {
		secMW = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	e.POST("/auth/login", s.handleLogin, secMW)
	e.GET("/health", s.handleHealth, secMW)
	e.GET("/health/status", s.handleHealthStatus, secMW)

	e.POST("/query/hybrid", s.handleQueryHybrid, secMW)
	e.POST("/query/keyword", s.handleQueryKeyword, secMW)

	e.POST("/crud/upsert", s.handleCrudUpsert, secMW)
	e.POST("/crud/upsert_batch", s.handleCrudUpsertBatch, secMW)
	e.PATCH("/crud/update", s.handleCrudUpdate, secMW)
	e.DELETE("/crud/delete", s.handleCrudDelete, secMW)

	e.POST("/batch/ingest", s.handleBatchIngest, secMW)
	e.POST("/batch/upsert_batch", s.handleBatchIngest, secMW)
	e.GET("/batch/jobs/status/:id", s.handleJobStatus, secMW)
	e.GET("/batch/jobs/list", s.handleJobList, secMW)

	e.POST("/admin/collections/create", s.handleAdminCollectionCreate, secMW)
	e.POST("/admin/collections/delete", s.handleAdminCollectionDelete, secMW)
	e.GET("/admin/collections/list", s.handleAdminCollectionList, secMW)
	e.POST("/admin/snapshot/create", s.handleAdminSnapshotCreate, secMW)
	e.GET("/admin/snapshot/list", s.handleAdminSnapshotList, secMW)
	e.POST("/admin/snapshot/restore", s.handleAdminSnapshotRestore, secMW)
	e.POST("/admin/snapshot/delete", s.handleAdminSnapshotDelete, secMW)
	e.POST("/admin/bm25/retrain", s.handleAdminBM25Retrain, secMW)
	e.POST("/admin/cache/clear", s.handleAdminCacheClear, secMW)
	e.POST("/admin/reset_db", s.handleAdminResetDB, secMW)

	return s
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// metricsMiddleware records request counts and latency by route and
// status, scraped via the /metrics endpoint registered in New.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		timer := metrics.NewTimer()
		err := next(c)
		route := c.Path()
		if route == "" {
			route = "unknown"
		}
		timer.ObserveVec(metrics.RequestDuration, route)
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Response().Status)).Inc()
		return err
	}
}

// Start serves HTTP on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	}
}
