package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// defaultAssignRetries bounds automatic retries after optimistic-lock
// conflicts before the attempt is surfaced as a failure.
const defaultAssignRetries = 3

// DispatchService owns queue intake and the entry-to-agent assignment
// lifecycle step.
type DispatchService struct {
	queues       repository.QueueRepository
	chats        repository.ChatRepository
	agents       repository.AgentStatusRepository
	distribution *DistributionService
	tx           repository.TxManager
	broadcaster  events.Broadcaster
	logger       *zap.Logger
	maxRetries   int
	now          func() time.Time
}

// DispatchDependencies bundles collaborators.
type DispatchDependencies struct {
	QueueRepo    repository.QueueRepository
	ChatRepo     repository.ChatRepository
	AgentRepo    repository.AgentStatusRepository
	Distribution *DistributionService
	Tx           repository.TxManager
	Broadcaster  events.Broadcaster
	Logger       *zap.Logger
	MaxRetries   int
}

// NewDispatchService creates the service.
func NewDispatchService(deps DispatchDependencies) *DispatchService {
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultAssignRetries
	}
	return &DispatchService{
		queues:       deps.QueueRepo,
		chats:        deps.ChatRepo,
		agents:       deps.AgentRepo,
		distribution: deps.Distribution,
		tx:           deps.Tx,
		broadcaster:  deps.Broadcaster,
		logger:       deps.Logger,
		maxRetries:   maxRetries,
		now:          time.Now,
	}
}

// EnqueueInput describes a customer entering a queue.
type EnqueueInput struct {
	QueueID        string
	ConversationID string
	CustomerID     *string
	CustomerName   *string
	Priority       int
	Metadata       map[string]any
}

// AddToQueue creates a waiting entry in the target queue.
func (s *DispatchService) AddToQueue(ctx context.Context, tenantID string, in EnqueueInput) (*domain.QueueEntry, error) {
	queue, err := s.queues.GetQueueByID(ctx, tenantID, in.QueueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": in.QueueID})
		}
		return nil, apperrors.MapError(err)
	}
	if !queue.IsActive {
		return nil, apperrors.NewInvalidState("queue is not active", map[string]any{"queue_id": queue.ID})
	}

	priority := in.Priority
	if priority <= 0 {
		priority = domain.DefaultEntryPriority
	}
	now := s.now()
	entry := &domain.QueueEntry{
		ID:             uuid.NewString(),
		QueueID:        queue.ID,
		TenantID:       tenantID,
		ConversationID: in.ConversationID,
		CustomerID:     in.CustomerID,
		CustomerName:   in.CustomerName,
		Status:         domain.EntryStatusWaiting,
		Priority:       priority,
		WaitStartedAt:  now,
		Metadata:       in.Metadata,
	}
	if err := s.queues.CreateEntry(ctx, entry); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventQueueEntryCreated,
		TenantID:  tenantID,
		QueueID:   queue.ID,
		EntryID:   entry.ID,
		Timestamp: now,
	})
	return entry, nil
}

// AssignmentResult reports the outcome of one assignment attempt. A timeout
// (no eligible agent) is a normal business outcome carried in the result,
// not an error.
type AssignmentResult struct {
	Assigned bool
	TimedOut bool
	Reason   string
	Entry    *domain.QueueEntry
	Chat     *domain.Chat
}

// AssignAgentToChat runs distribution for a waiting entry and applies the
// assignment in one transaction: create chat, claim the entry, acquire agent
// capacity, advance the round-robin cursor. Optimistic-lock conflicts retry
// the whole attempt against fresh state, up to maxRetries times.
func (s *DispatchService) AssignAgentToChat(ctx context.Context, tenantID, entryID string) (*AssignmentResult, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		result, err := s.tryAssign(ctx, tenantID, entryID)
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Debug("assignment conflict, retrying",
				zap.String("entry_id", entryID),
				zap.Int("attempt", attempt+1))
			continue
		}
		return result, err
	}
	return nil, apperrors.NewConflict("assignment retries exhausted", map[string]any{"entry_id": entryID})
}

func (s *DispatchService) tryAssign(ctx context.Context, tenantID, entryID string) (*AssignmentResult, error) {
	entry, err := s.queues.GetEntryByID(ctx, tenantID, entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue entry", map[string]any{"entry_id": entryID})
		}
		return nil, apperrors.MapError(err)
	}
	if entry.Status != domain.EntryStatusWaiting {
		return nil, apperrors.NewInvalidState("entry is not waiting", map[string]any{
			"entry_id": entry.ID,
			"status":   string(entry.Status),
		})
	}

	queue, err := s.queues.GetQueueByID(ctx, tenantID, entry.QueueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": entry.QueueID})
		}
		return nil, apperrors.MapError(err)
	}
	members, err := s.queues.ListMembers(ctx, tenantID, queue.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	agentStatuses, err := s.agents.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	statuses := make(map[string]*domain.AgentStatus, len(agentStatuses))
	for i := range agentStatuses {
		statuses[agentStatuses[i].UserID] = &agentStatuses[i]
	}

	decision := s.distribution.Distribute(DistributionInput{
		Queue:               queue,
		Entry:               entry,
		Members:             members,
		Statuses:            statuses,
		LastAssignedAgentID: queue.LastAssignedAgentID,
	})

	now := s.now()
	if decision.AgentID == nil {
		if err := entry.MarkTimeout(now); err != nil {
			return nil, apperrors.NewInvalidState(err.Error(), nil)
		}
		if err := s.queues.TimeoutEntry(ctx, entry); err != nil {
			// Conflict means a concurrent attempt resolved the entry first.
			return nil, err
		}
		s.logger.Info("no eligible agent, entry timed out",
			zap.String("queue_id", queue.ID),
			zap.String("entry_id", entry.ID))
		return &AssignmentResult{
			Assigned: false,
			TimedOut: true,
			Reason:   decision.Reason,
			Entry:    entry,
		}, nil
	}

	agentID := *decision.AgentID
	var chat *domain.Chat
	var agentStatus *domain.AgentStatus
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		updated, err := s.agents.IncrementActiveChats(ctx, tenantID, agentID, true)
		if err != nil {
			return err
		}
		agentStatus = updated

		chat = &domain.Chat{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			Type:            domain.ChatTypeQueue,
			Status:          domain.ChatStatusActive,
			ConversationID:  entry.ConversationID,
			AssignedAgentID: &agentID,
			QueueEntryID:    &entry.ID,
		}
		if err := s.chats.CreateChat(ctx, chat); err != nil {
			return err
		}
		if err := s.chats.AddParticipant(ctx, &domain.ChatParticipant{
			ID:       uuid.NewString(),
			ChatID:   chat.ID,
			TenantID: tenantID,
			UserID:   agentID,
			Role:     domain.ParticipantRoleAgent,
		}); err != nil {
			return err
		}

		if err := entry.MarkAssigned(agentID, chat.ID, now); err != nil {
			return apperrors.NewInvalidState(err.Error(), nil)
		}
		if err := s.queues.ClaimEntry(ctx, entry); err != nil {
			return err
		}

		if queue.Strategy == domain.StrategyRoundRobin {
			return s.queues.SetLastAssignedAgent(ctx, tenantID, queue.ID, &agentID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, repository.ErrConflict
		}
		return nil, apperrors.MapError(err)
	}

	waitSeconds := int(entry.WaitDuration(now).Seconds())
	s.logger.Info("entry assigned",
		zap.String("queue_id", queue.ID),
		zap.String("entry_id", entry.ID),
		zap.String("agent_id", agentID),
		zap.String("reason", decision.Reason),
		zap.Int("wait_seconds", waitSeconds))

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventQueueEntryAssigned,
		TenantID:  tenantID,
		QueueID:   queue.ID,
		EntryID:   entry.ID,
		ChatID:    chat.ID,
		AgentID:   &agentID,
		Reason:    decision.Reason,
		Timestamp: now,
		Payload: events.QueueEntryAssignedPayload{
			ConversationID: entry.ConversationID,
			AgentID:        agentID,
			ChatID:         chat.ID,
			WaitSeconds:    waitSeconds,
		},
	})
	s.publishAgentStatus(ctx, agentStatus, now)

	return &AssignmentResult{
		Assigned: true,
		Reason:   decision.Reason,
		Entry:    entry,
		Chat:     chat,
	}, nil
}

func (s *DispatchService) publish(ctx context.Context, event events.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn("broadcast failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (s *DispatchService) publishAgentStatus(ctx context.Context, status *domain.AgentStatus, now time.Time) {
	if status == nil {
		return
	}
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventAgentStatusChanged,
		TenantID:  status.TenantID,
		AgentID:   &status.UserID,
		Timestamp: now,
		Payload: events.AgentStatusChangedPayload{
			Status:            status.Status,
			CurrentChatsCount: status.CurrentChatsCount,
		},
	})
}
