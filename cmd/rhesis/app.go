package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/config"
	"github.com/rhesis-ai/rhesis/internal/crypto"
	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/service"
	"github.com/rhesis-ai/rhesis/internal/store"
	"github.com/rhesis-ai/rhesis/internal/task"
)

// auditQueueSize bounds the number of audit jobs waiting to be written.
const auditQueueSize = 1024

// app holds the components shared by every command that touches the database.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	pool      *dbpool.Pool
	redis     *redis.Client

	orgs      *store.OrganizationStore
	users     *store.UserStore
	tokens    *store.TokenStore
	projects  *store.ProjectStore
	tests     *store.TestStore
	testSets  *store.TestSetStore
	endpoints *store.EndpointStore
	runs      *store.TestRunStore
	audit     *store.AuditStore
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, logCloser := cfg.NewLogger()

	poolOpts := []dbpool.Option{dbpool.WithMaxConns(cfg.DBMaxConns)}
	if cfg.DBRole != "" {
		poolOpts = append(poolOpts, dbpool.WithRole(cfg.DBRole))
	}

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value(), log, poolOpts...)
	if err != nil {
		logCloser.Close() //nolint:errcheck // startup failure path.
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	keys, err := newKeyProvider(cfg)
	if err != nil {
		pool.Close()
		logCloser.Close() //nolint:errcheck // startup failure path.
		return nil, err
	}

	base := store.Base{Pool: pool, Log: log, Crypto: crypto.NewService(keys)}
	a := &app{
		cfg:       cfg,
		log:       log,
		logCloser: logCloser,
		pool:      pool,
		orgs:      store.NewOrganizationStore(base),
		users:     store.NewUserStore(base),
		tokens:    store.NewTokenStore(base),
		projects:  store.NewProjectStore(base),
		tests:     store.NewTestStore(base),
		testSets:  store.NewTestSetStore(base),
		endpoints: store.NewEndpointStore(base),
		runs:      store.NewTestRunStore(base),
		audit:     store.NewAuditStore(base),
	}

	if cfg.RedisURL.Value() != "" {
		opts, err := redis.ParseURL(cfg.RedisURL.Value())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	return a, nil
}

func newKeyProvider(cfg *config.Config) (crypto.KeyProvider, error) {
	if cfg.EncryptionProvider == "vault" {
		return crypto.NewVaultProvider(cfg.VaultAddr, cfg.VaultToken.Value()), nil
	}

	keys, err := crypto.NewStaticProvider(cfg.EncryptionKey.Value())
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}

	return keys, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close() //nolint:errcheck // shutdown path.
	}
	a.pool.Close()
	a.logCloser.Close() //nolint:errcheck // shutdown path.
}

// pipeline is the task machinery of one process: broker, submitter, group
// coordinator and the registered test execution tasks.
type pipeline struct {
	broker      task.Broker
	revocations task.Revocations
	redisRevoke *task.RedisRevocations
	submitter   *task.Submitter
	coordinator *task.GroupCoordinator
	registry    *task.Registry
}

func (a *app) newPipeline() *pipeline {
	var broker task.Broker
	if a.cfg.TaskBroker == "memory" {
		broker = task.NewMemoryBroker()
	} else {
		broker = task.NewPostgresBroker(a.pool)
	}

	p := &pipeline{broker: broker, registry: task.NewRegistry()}
	if a.redis != nil {
		p.redisRevoke = task.NewRedisRevocations(a.redis, a.log)
		p.revocations = p.redisRevoke
	} else {
		p.revocations = task.NewLocalRevocations()
	}

	p.submitter = task.NewSubmitter(broker, a.log, task.SubmitterConfig{
		MaxRetries:      a.cfg.TaskMaxRetries,
		JoinMaxAttempts: a.cfg.TaskJoinMaxAttempts,
		JoinInterval:    a.cfg.TaskJoinInterval,
	})
	p.coordinator = task.NewGroupCoordinator(broker, p.submitter, p.revocations, a.log)
	p.coordinator.Register(p.registry)

	tasks := service.NewTestingTasks(service.TestingTasksConfig{
		DB:        a.pool,
		TestSets:  a.testSets,
		Tests:     a.tests,
		Endpoints: a.endpoints,
		Runs:      a.runs,
		Submitter: p.submitter,
		Invoker:   service.NewHTTPInvoker(a.cfg.EndpointTimeout),
		Log:       a.log,
	})
	tasks.Register(p.registry, p.coordinator)

	return p
}

func (a *app) newWorker(p *pipeline, events task.Broadcaster) (*task.Worker, *task.GroupSweeper) {
	policy := task.DefaultRetryPolicy()
	policy.Initial = a.cfg.TaskRetryInitial
	policy.Max = a.cfg.TaskRetryMax
	policy.MaxRetries = a.cfg.TaskMaxRetries

	worker := task.NewWorker(p.broker, p.registry, a.log,
		task.WithConcurrency(a.cfg.WorkerConcurrency),
		task.WithPollInterval(a.cfg.WorkerPollInterval),
		task.WithRetryPolicy(policy),
		task.WithBroadcaster(events),
		task.WithRevocations(p.revocations),
	)
	sweeper := task.NewGroupSweeper(p.broker, p.coordinator, a.log, a.cfg.GroupStuckAfter, sweepInterval(a.cfg.GroupStuckAfter))

	return worker, sweeper
}

// sweepInterval checks for stuck groups four times per stuck window, at
// most once a minute.
func sweepInterval(stuckAfter time.Duration) time.Duration {
	return max(stuckAfter/4, time.Minute)
}

// untilCancelled treats the end of the process context as a clean stop for
// loops that report it as their error.
func untilCancelled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
