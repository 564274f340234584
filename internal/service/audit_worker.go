package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	auditWriteTimeout     = 5 * time.Second
	defaultAuditQueueSize = 1000
)

// AuditJob is one pending audit entry. Identity and RequestID are captured
// on the request path; the write happens later on the worker goroutine.
type AuditJob struct {
	Identity   tenant.Identity
	RequestID  string
	Action     string
	EntityType string
	EntityID   string
	Detail     map[string]any
}

// AuditEnqueuer accepts audit jobs without blocking.
type AuditEnqueuer interface {
	Enqueue(job *AuditJob)
}

// AuditWorker serialises audit writes through one goroutine so request
// handlers never wait on the audit table.
type AuditWorker struct {
	auditor Auditor
	log     *logrus.Logger
	jobs    chan *AuditJob
	dropped atomic.Int64
}

// NewAuditWorker creates an AuditWorker with room for queueSize pending jobs.
func NewAuditWorker(auditor Auditor, log *logrus.Logger, queueSize int) *AuditWorker {
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}

	return &AuditWorker{
		auditor: auditor,
		log:     log,
		jobs:    make(chan *AuditJob, queueSize),
	}
}

// Enqueue hands a job to the worker. A full queue drops the job.
func (w *AuditWorker) Enqueue(job *AuditJob) {
	select {
	case w.jobs <- job:
	default:
		n := w.dropped.Add(1)
		metrics.AuditDropped.Inc()
		w.log.WithFields(logrus.Fields{
			"action":          job.Action,
			"organization_id": job.Identity.OrganizationID,
			"dropped_total":   n,
		}).Warn("audit queue full, dropping entry")
	}
}

// Dropped reports how many jobs were discarded because the queue was full.
func (w *AuditWorker) Dropped() int64 {
	return w.dropped.Load()
}

// Run writes jobs until ctx is cancelled. Jobs still queued at that point
// are written before Run returns.
func (w *AuditWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case job := <-w.jobs:
					w.write(job)
				default:
					return
				}
			}
		case job := <-w.jobs:
			w.write(job)
		}
	}
}

// write records one job under a tenant store of its own, so the write can
// never pick up the identity of a neighbouring job.
func (w *AuditWorker) write(job *AuditJob) {
	ctx, store := tenant.WithIdentity(context.Background(), job.Identity)
	defer store.Clear()

	if job.RequestID != "" {
		ctx = tenant.WithRequestID(ctx, job.RequestID)
	}

	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()

	err := w.auditor.RecordAudit(ctx, job.Identity, job.Action, job.EntityType, job.EntityID, job.Detail)
	if err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"action":     job.Action,
			"request_id": job.RequestID,
		}).Warn("audit record failed")
	}
}

// auditAsync queues an audit entry for id. The request id on ctx, if any,
// travels with the entry.
func auditAsync(ctx context.Context, q AuditEnqueuer, id tenant.Identity, action, entityType, entityID string, detail map[string]any) {
	if q == nil {
		return
	}

	q.Enqueue(&AuditJob{
		Identity:   id,
		RequestID:  tenant.RequestIDFromContext(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	})
}
