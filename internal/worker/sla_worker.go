package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/observability"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
	"github.com/spec-kit/chat-dispatch-service/internal/service"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// SLAWorker periodically sweeps active queues: escalates SLA breaches and
// attempts assignment for auto-assign queues. The sweep runs on its own
// schedule so it never blocks assignment request throughput.
type SLAWorker struct {
	queues   repository.QueueRepository
	sla      *service.SLAService
	dispatch *service.DispatchService
	locker   *redis.Client
	metrics  *observability.Metrics
	logger   *zap.Logger
	interval time.Duration
}

// SLAWorkerDependencies bundles collaborators.
type SLAWorkerDependencies struct {
	QueueRepo repository.QueueRepository
	SLA       *service.SLAService
	Dispatch  *service.DispatchService
	Locker    *redis.Client
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Interval  time.Duration
}

// NewSLAWorker creates the worker.
func NewSLAWorker(deps SLAWorkerDependencies) *SLAWorker {
	interval := deps.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SLAWorker{
		queues:   deps.QueueRepo,
		sla:      deps.SLA,
		dispatch: deps.Dispatch,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		interval: interval,
	}
}

// Run loops until ctx is cancelled.
func (w *SLAWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sla worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sla worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all active queues.
func (w *SLAWorker) Sweep(ctx context.Context) {
	queues, err := w.queues.ListActiveQueues(ctx)
	if err != nil {
		w.logger.Error("list active queues", zap.Error(err))
		return
	}

	for i := range queues {
		queue := &queues[i]
		if !w.acquireLock(ctx, queue.ID) {
			continue
		}
		w.sweepQueue(ctx, queue)
	}
}

// acquireLock takes the per-queue sweep lock so overlapping sweeps from
// multiple replicas short-circuit instead of doing redundant work. The sweep
// itself stays idempotent even without the lock.
func (w *SLAWorker) acquireLock(ctx context.Context, queueID string) bool {
	if w.locker == nil {
		return true
	}
	key := fmt.Sprintf("dispatch:sla:sweep:%s", queueID)
	acquired, err := w.locker.SetNX(ctx, key, time.Now().Unix(), w.interval).Result()
	if err != nil {
		w.logger.Warn("sweep lock unavailable, proceeding", zap.String("queue_id", queueID), zap.Error(err))
		return true
	}
	return acquired
}

func (w *SLAWorker) sweepQueue(ctx context.Context, queue *domain.Queue) {
	escalated, err := w.sla.EscalateOverdue(ctx, queue)
	if err != nil {
		w.logger.Error("escalation sweep failed",
			zap.String("queue_id", queue.ID),
			zap.Error(err))
	}
	w.metrics.RecordEscalations(escalated)

	if queue.AutoAssign {
		w.assignPending(ctx, queue)
	}
}

// assignPending tries to place each waiting entry of an auto-assign queue.
// The first entry that finds no eligible agent ends the pass, since later
// entries would see the same agent pool.
func (w *SLAWorker) assignPending(ctx context.Context, queue *domain.Queue) {
	waiting := domain.EntryStatusWaiting
	entries, err := w.queues.ListEntriesByQueue(ctx, queue.TenantID, queue.ID, &waiting)
	if err != nil {
		w.logger.Error("list waiting entries", zap.String("queue_id", queue.ID), zap.Error(err))
		return
	}

	for i := range entries {
		result, err := w.dispatch.AssignAgentToChat(ctx, queue.TenantID, entries[i].ID)
		if err != nil {
			if apperrors.ToDomainError(err).Code == "CONFLICT" {
				w.metrics.RecordConflict()
				continue
			}
			w.logger.Warn("auto-assign failed",
				zap.String("queue_id", queue.ID),
				zap.String("entry_id", entries[i].ID),
				zap.Error(err))
			continue
		}
		if result.Assigned {
			w.metrics.RecordAssignment()
			continue
		}
		w.metrics.RecordTimeout()
		return
	}
}
