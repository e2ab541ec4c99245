package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// Alert thresholds as fractions of the queue's max wait time.
const (
	slaWarningFraction  = 0.70
	slaCriticalFraction = 0.90
)

// SLAHealth classifies a queue's compliance rate.
type SLAHealth string

const (
	HealthHealthy  SLAHealth = "healthy"
	HealthWarning  SLAHealth = "warning"
	HealthCritical SLAHealth = "critical"
)

// AlertType enumerates SLA alert severities.
type AlertType string

const (
	AlertWarning    AlertType = "warning"
	AlertCritical   AlertType = "critical"
	AlertEscalation AlertType = "escalation"
)

// SLAAlert is a derived, unpersisted observation about one waiting entry.
type SLAAlert struct {
	Type             AlertType `json:"type"`
	QueueID          string    `json:"queue_id"`
	EntryID          string    `json:"entry_id"`
	ConversationID   string    `json:"conversation_id"`
	WaitSeconds      int       `json:"wait_seconds"`
	ThresholdSeconds int       `json:"threshold_seconds"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
}

// QueueSLAMetrics aggregates wait-time statistics over a queue's entries.
type QueueSLAMetrics struct {
	QueueID        string                          `json:"queue_id"`
	TotalEntries   int                             `json:"total_entries"`
	StatusCounts   map[domain.QueueEntryStatus]int `json:"status_counts"`
	AvgWaitSeconds float64                         `json:"avg_wait_seconds"`
	MaxWaitSeconds float64                         `json:"max_wait_seconds"`
	SLAViolations  int                             `json:"sla_violations"`
	ComplianceRate float64                         `json:"compliance_rate"`
	Health         SLAHealth                       `json:"health"`
}

// QueueSLAReport is the per-queue dashboard view.
type QueueSLAReport struct {
	Metrics     QueueSLAMetrics     `json:"metrics"`
	Alerts      []SLAAlert          `json:"alerts"`
	Escalations []domain.QueueEntry `json:"escalations"`
}

// TenantSLAReport is the all-queues dashboard view.
type TenantSLAReport struct {
	Metrics         map[string]QueueSLAMetrics `json:"metrics"`
	Alerts          []SLAAlert                 `json:"alerts"`
	TotalViolations int                        `json:"total_violations"`
}

// SLAService computes wait-time metrics, derives alerts, and performs the
// automatic escalation sweep. Metric and alert computation are pure over
// snapshots; escalation is the single write path.
type SLAService struct {
	queues         repository.QueueRepository
	broadcaster    events.Broadcaster
	logger         *zap.Logger
	defaultMaxWait time.Duration
	now            func() time.Time
}

// SLADependencies bundles collaborators.
type SLADependencies struct {
	QueueRepo      repository.QueueRepository
	Broadcaster    events.Broadcaster
	Logger         *zap.Logger
	DefaultMaxWait time.Duration
}

// NewSLAService creates the service.
func NewSLAService(deps SLADependencies) *SLAService {
	defaultMaxWait := deps.DefaultMaxWait
	if defaultMaxWait <= 0 {
		defaultMaxWait = 300 * time.Second
	}
	return &SLAService{
		queues:         deps.QueueRepo,
		broadcaster:    deps.Broadcaster,
		logger:         deps.Logger,
		defaultMaxWait: defaultMaxWait,
		now:            time.Now,
	}
}

// ComputeMetrics aggregates status counts, wait statistics over waiting
// entries, and the compliance rate. Pure over the snapshot.
func (s *SLAService) ComputeMetrics(queue *domain.Queue, entries []domain.QueueEntry, now time.Time) QueueSLAMetrics {
	threshold := queue.WaitThreshold(s.defaultMaxWait)

	metrics := QueueSLAMetrics{
		QueueID:      queue.ID,
		TotalEntries: len(entries),
		StatusCounts: make(map[domain.QueueEntryStatus]int),
	}

	var waitingCount int
	var waitSum, waitMax float64
	for i := range entries {
		entry := &entries[i]
		metrics.StatusCounts[entry.Status]++

		violated := entry.SLAExceeded
		if entry.Status == domain.EntryStatusWaiting {
			wait := entry.WaitDuration(now).Seconds()
			waitingCount++
			waitSum += wait
			if wait > waitMax {
				waitMax = wait
			}
			if wait > threshold.Seconds() {
				violated = true
			}
		}
		if violated {
			metrics.SLAViolations++
		}
	}

	if waitingCount > 0 {
		metrics.AvgWaitSeconds = waitSum / float64(waitingCount)
		metrics.MaxWaitSeconds = waitMax
	}

	if metrics.TotalEntries == 0 {
		metrics.ComplianceRate = 100
	} else {
		metrics.ComplianceRate = float64(metrics.TotalEntries-metrics.SLAViolations) / float64(metrics.TotalEntries) * 100
	}
	metrics.Health = classifyHealth(metrics.ComplianceRate)
	return metrics
}

func classifyHealth(complianceRate float64) SLAHealth {
	switch {
	case complianceRate >= 95:
		return HealthHealthy
	case complianceRate >= 80:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// ComputeAlerts derives warning/critical alerts for waiting entries and one
// escalation alert per already escalated entry. Pure over the snapshot.
func (s *SLAService) ComputeAlerts(queue *domain.Queue, entries []domain.QueueEntry, now time.Time) []SLAAlert {
	threshold := queue.WaitThreshold(s.defaultMaxWait)
	thresholdSec := int(threshold.Seconds())

	var alerts []SLAAlert
	for i := range entries {
		entry := &entries[i]
		if entry.Status != domain.EntryStatusWaiting {
			continue
		}
		wait := entry.WaitDuration(now)
		waitSec := int(wait.Seconds())

		if entry.Escalated {
			alerts = append(alerts, SLAAlert{
				Type:             AlertEscalation,
				QueueID:          queue.ID,
				EntryID:          entry.ID,
				ConversationID:   entry.ConversationID,
				WaitSeconds:      waitSec,
				ThresholdSeconds: thresholdSec,
				Message:          fmt.Sprintf("Entry escalated after exceeding %ds wait limit", thresholdSec),
				Timestamp:        now,
			})
			continue
		}

		ratio := wait.Seconds() / threshold.Seconds()
		switch {
		case ratio >= slaCriticalFraction:
			alerts = append(alerts, SLAAlert{
				Type:             AlertCritical,
				QueueID:          queue.ID,
				EntryID:          entry.ID,
				ConversationID:   entry.ConversationID,
				WaitSeconds:      waitSec,
				ThresholdSeconds: thresholdSec,
				Message:          fmt.Sprintf("Wait time %ds at %d%% of %ds limit", waitSec, int(ratio*100), thresholdSec),
				Timestamp:        now,
			})
		case ratio >= slaWarningFraction:
			alerts = append(alerts, SLAAlert{
				Type:             AlertWarning,
				QueueID:          queue.ID,
				EntryID:          entry.ID,
				ConversationID:   entry.ConversationID,
				WaitSeconds:      waitSec,
				ThresholdSeconds: thresholdSec,
				Message:          fmt.Sprintf("Wait time %ds approaching %ds limit", waitSec, thresholdSec),
				Timestamp:        now,
			})
		}
	}
	return alerts
}

// EscalateOverdue flags every waiting, not-yet-escalated entry past the
// queue's max wait time and bumps its priority. Idempotent: the escalated
// guard lives in the store predicate, so redundant sweeps mutate nothing.
func (s *SLAService) EscalateOverdue(ctx context.Context, queue *domain.Queue) (int, error) {
	waiting := domain.EntryStatusWaiting
	entries, err := s.queues.ListEntriesByQueue(ctx, queue.TenantID, queue.ID, &waiting)
	if err != nil {
		return 0, err
	}

	threshold := queue.WaitThreshold(s.defaultMaxWait)
	now := s.now()
	escalated := 0
	for i := range entries {
		entry := &entries[i]
		if entry.Escalated {
			continue
		}
		wait := entry.WaitDuration(now)
		if wait <= threshold {
			continue
		}

		entry.MarkEscalated(now)
		if err := s.queues.EscalateEntry(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// Another sweep or the assignment path won the race.
				continue
			}
			return escalated, err
		}
		escalated++

		s.logger.Info("queue entry escalated",
			zap.String("queue_id", queue.ID),
			zap.String("entry_id", entry.ID),
			zap.Int("wait_seconds", int(wait.Seconds())),
			zap.Int("priority", entry.Priority))
		s.publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventQueueEntryEscalated,
			TenantID:  entry.TenantID,
			QueueID:   queue.ID,
			EntryID:   entry.ID,
			Reason:    fmt.Sprintf("Wait time exceeded %ds limit", int(threshold.Seconds())),
			Timestamp: now,
			Payload: events.QueueEntryEscalatedPayload{
				ConversationID: entry.ConversationID,
				Priority:       entry.Priority,
				WaitSeconds:    int(wait.Seconds()),
			},
		})
	}
	return escalated, nil
}

// QueueReport builds the per-queue dashboard view.
func (s *SLAService) QueueReport(ctx context.Context, tenantID, queueID string) (*QueueSLAReport, error) {
	queue, err := s.queues.GetQueueByID(ctx, tenantID, queueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": queueID})
		}
		return nil, apperrors.MapError(err)
	}
	entries, err := s.queues.ListEntriesByQueue(ctx, tenantID, queueID, nil)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	now := s.now()
	report := &QueueSLAReport{
		Metrics: s.ComputeMetrics(queue, entries, now),
		Alerts:  s.ComputeAlerts(queue, entries, now),
	}
	for i := range entries {
		if entries[i].Escalated {
			report.Escalations = append(report.Escalations, entries[i])
		}
	}
	return report, nil
}

// TenantReport builds the all-queues dashboard view.
func (s *SLAService) TenantReport(ctx context.Context, tenantID string) (*TenantSLAReport, error) {
	queues, err := s.queues.ListQueuesByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	now := s.now()
	report := &TenantSLAReport{Metrics: make(map[string]QueueSLAMetrics, len(queues))}
	for i := range queues {
		queue := &queues[i]
		entries, err := s.queues.ListEntriesByQueue(ctx, tenantID, queue.ID, nil)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		metrics := s.ComputeMetrics(queue, entries, now)
		report.Metrics[queue.ID] = metrics
		report.Alerts = append(report.Alerts, s.ComputeAlerts(queue, entries, now)...)
		report.TotalViolations += metrics.SLAViolations
	}
	return report, nil
}

func (s *SLAService) publish(ctx context.Context, event events.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn("broadcast failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
