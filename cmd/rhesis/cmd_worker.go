package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhesis-ai/rhesis/internal/db"
)

var errMemoryBroker = errors.New("worker needs TASK_BROKER=postgres; the memory broker only runs embedded in serve")

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone task worker against the postgres queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWorker(ctx)
		},
	}
}

func runWorker(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.TaskBroker == "memory" {
		return errMemoryBroker
	}
	if err := db.NewSchemaChecker(a.pool).CheckSchema(ctx); err != nil {
		return err
	}
	if err := db.NewRoleChecker(a.pool).CheckRole(ctx); err != nil {
		return err
	}

	p := a.newPipeline()
	if p.redisRevoke == nil {
		a.log.Warn("REDIS_URL not set: revocations from other processes will not cancel running tasks here")
	}

	worker, sweeper := a.newWorker(p, db.NewNotifyPublisher(a.pool, a.log))

	g, gctx := errgroup.WithContext(ctx)
	if p.redisRevoke != nil {
		g.Go(func() error { return untilCancelled(p.redisRevoke.Run(gctx)) })
	}
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	a.log.WithField("concurrency", a.cfg.WorkerConcurrency).Info("worker started")

	return g.Wait()
}
