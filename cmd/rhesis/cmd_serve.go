package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhesis-ai/rhesis/internal/api"
	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/db"
	"github.com/rhesis-ai/rhesis/internal/db/migrations"
	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/service"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket hub and (optionally) an embedded worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply pending migrations on startup")

	return cmd
}

func serve(ctx context.Context, skipMigrate bool) error { //nolint:funlen // top-level wiring.
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, log := a.cfg, a.log

	if !skipMigrate {
		if err := db.RunMigrations(ctx, a.pool, log, migrations.FS); err != nil {
			return err
		}
	}
	schema := db.NewSchemaChecker(a.pool)
	if err := schema.CheckSchema(ctx); err != nil {
		return err
	}
	roles := db.NewRoleChecker(a.pool)
	if err := roles.CheckRole(ctx); err != nil {
		return err
	}

	hub := ws.NewHub(log)
	auditWorker := service.NewAuditWorker(a.audit, log, auditQueueSize)

	issuer := auth.NewIssuer(cfg.JWTSecret.Value(), cfg.JWTIssuer)
	records := middleware.NewCachedTokenRecords(ctx, a.tokens, cfg.TokenCacheTTL)
	tokenAuth := auth.NewAuthenticator(issuer, records)
	sessions := auth.NewSessionManager(cfg.SessionSecret.Value(), cfg.SessionSecure, cfg.SessionMaxAge)
	guard := middleware.NewBruteForceGuard(ctx, log)

	p := a.newPipeline()

	// Task events reach the hub directly when the queue lives in this
	// process; otherwise workers publish them through LISTEN/NOTIFY.
	var events task.Broadcaster = hub
	if cfg.TaskBroker != "memory" {
		events = db.NewNotifyPublisher(a.pool, log)
		if err := db.NewNotifyBridge(log, a.pool, hub).Start(ctx); err != nil {
			return err
		}
	}

	router, err := api.NewRouter(ctx, &api.RouterDeps{
		Log:                log,
		Auth:               middleware.NewAuthenticator(tokenAuth, sessions, log, guard),
		Guard:              guard,
		Tokens:             tokenAuth,
		TokenUsage:         a.tokens,
		Sessions:           sessions,
		DB:                 a.pool,
		Schema:             schema,
		Role:               roles,
		Hub:                hub,
		Projects:           service.NewProjectService(a.projects, auditWorker, log),
		Tests:              service.NewTestService(a.tests, auditWorker, log),
		TestSets:           service.NewTestSetService(a.testSets, a.runs, p.submitter, auditWorker, log),
		Endpoints:          service.NewEndpointService(a.endpoints, auditWorker, log),
		TestRuns:           service.NewTestRunService(a.runs),
		TokenService:       service.NewTokenService(a.tokens, issuer, records, auditWorker, log),
		Tasks:              service.NewTaskService(p.broker, p.revocations, auditWorker, log),
		Admin:              service.NewAdminService(a.orgs, a.users, auditWorker, log),
		Audit:              service.NewAuditService(a.audit, log),
		CORSOrigins:        cfg.CORSOrigins,
		Version:            version,
		OrgRateLimit:       cfg.RateLimitRPS,
		OrgRateBurst:       cfg.RateLimitBurst,
		AuditRetentionDays: cfg.AuditRetentionDays,
		HTTPS:              cfg.SessionSecure,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		auditWorker.Run(gctx)
		return nil
	})
	if p.redisRevoke != nil {
		g.Go(func() error { return untilCancelled(p.redisRevoke.Run(gctx)) })
	}
	if cfg.EmbeddedWorker {
		worker, sweeper := a.newWorker(p, events)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	} else if cfg.TaskBroker == "memory" {
		log.Warn("memory task broker without an embedded worker: queued tasks will never run")
	}

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
