package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// QueueService handles queue, member, and agent-status administration.
type QueueService struct {
	queues      repository.QueueRepository
	agents      repository.AgentStatusRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

// QueueDependencies bundles collaborators.
type QueueDependencies struct {
	QueueRepo   repository.QueueRepository
	AgentRepo   repository.AgentStatusRepository
	Broadcaster events.Broadcaster
	Logger      *zap.Logger
}

// NewQueueService creates the service.
func NewQueueService(deps QueueDependencies) *QueueService {
	return &QueueService{
		queues:      deps.QueueRepo,
		agents:      deps.AgentRepo,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// QueueCreateInput describes a new routing queue.
type QueueCreateInput struct {
	Name               string
	Description        string
	Strategy           domain.QueueStrategy
	MaxConcurrentChats int
	MaxWaitTimeSeconds *int
	Skills             []string
	AutoAssign         bool
}

// CreateQueue validates and persists a new queue.
func (s *QueueService) CreateQueue(ctx context.Context, tenantID string, in QueueCreateInput) (*domain.Queue, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("name required", nil)
	}
	maxConcurrent := in.MaxConcurrentChats
	if maxConcurrent == 0 {
		maxConcurrent = 1
	}
	queue := &domain.Queue{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		Name:               in.Name,
		Description:        in.Description,
		Strategy:           in.Strategy,
		MaxConcurrentChats: maxConcurrent,
		MaxWaitTimeSeconds: in.MaxWaitTimeSeconds,
		Skills:             in.Skills,
		AutoAssign:         in.AutoAssign,
		IsActive:           true,
	}
	if err := queue.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.queues.CreateQueue(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("queue created",
		zap.String("queue_id", queue.ID),
		zap.String("strategy", string(queue.Strategy)))
	return queue, nil
}

// QueueUpdateInput carries partial queue updates.
type QueueUpdateInput struct {
	Name               *string
	Description        *string
	Strategy           *domain.QueueStrategy
	MaxConcurrentChats *int
	MaxWaitTimeSeconds *int
	Skills             []string
	AutoAssign         *bool
	IsActive           *bool
}

// UpdateQueue applies a partial update to an existing queue.
func (s *QueueService) UpdateQueue(ctx context.Context, tenantID, queueID string, in QueueUpdateInput) (*domain.Queue, error) {
	queue, err := s.getQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		queue.Name = *in.Name
	}
	if in.Description != nil {
		queue.Description = *in.Description
	}
	if in.Strategy != nil {
		queue.Strategy = *in.Strategy
	}
	if in.MaxConcurrentChats != nil {
		queue.MaxConcurrentChats = *in.MaxConcurrentChats
	}
	if in.MaxWaitTimeSeconds != nil {
		queue.MaxWaitTimeSeconds = in.MaxWaitTimeSeconds
	}
	if in.Skills != nil {
		queue.Skills = in.Skills
	}
	if in.AutoAssign != nil {
		queue.AutoAssign = *in.AutoAssign
	}
	if in.IsActive != nil {
		queue.IsActive = *in.IsActive
	}

	if err := queue.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.queues.UpdateQueue(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

// DeleteQueue soft-deletes a queue; waiting entries keep referencing it.
func (s *QueueService) DeleteQueue(ctx context.Context, tenantID, queueID string) error {
	if err := s.queues.SoftDeleteQueue(ctx, tenantID, queueID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("queue", map[string]any{"queue_id": queueID})
		}
		return apperrors.MapError(err)
	}
	s.logger.Info("queue deleted", zap.String("queue_id", queueID))
	return nil
}

// GetQueue loads one queue.
func (s *QueueService) GetQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	return s.getQueue(ctx, tenantID, queueID)
}

// ListQueues lists a tenant's queues.
func (s *QueueService) ListQueues(ctx context.Context, tenantID string) ([]domain.Queue, error) {
	queues, err := s.queues.ListQueuesByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return queues, nil
}

// MemberInput describes queue membership for one agent.
type MemberInput struct {
	UserID   string
	Skills   []string
	Priority int
	IsActive bool
}

// AddMember makes an agent eligible for a queue's work.
func (s *QueueService) AddMember(ctx context.Context, tenantID, queueID string, in MemberInput) (*domain.QueueMember, error) {
	if _, err := s.getQueue(ctx, tenantID, queueID); err != nil {
		return nil, err
	}
	member := &domain.QueueMember{
		ID:       uuid.NewString(),
		QueueID:  queueID,
		TenantID: tenantID,
		UserID:   in.UserID,
		Skills:   in.Skills,
		Priority: in.Priority,
		IsActive: in.IsActive,
	}
	if err := s.queues.AddMember(ctx, member); err != nil {
		return nil, apperrors.MapError(err)
	}
	return member, nil
}

// UpdateMember updates a member's skills, priority, or active flag.
func (s *QueueService) UpdateMember(ctx context.Context, tenantID, queueID string, in MemberInput) (*domain.QueueMember, error) {
	member := &domain.QueueMember{
		QueueID:  queueID,
		TenantID: tenantID,
		UserID:   in.UserID,
		Skills:   in.Skills,
		Priority: in.Priority,
		IsActive: in.IsActive,
	}
	if err := s.queues.UpdateMember(ctx, member); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue member", map[string]any{"user_id": in.UserID})
		}
		return nil, apperrors.MapError(err)
	}
	return member, nil
}

// RemoveMember revokes an agent's eligibility for a queue.
func (s *QueueService) RemoveMember(ctx context.Context, tenantID, queueID, userID string) error {
	if err := s.queues.RemoveMember(ctx, tenantID, queueID, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("queue member", map[string]any{"user_id": userID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// ListMembers lists a queue's members in join order.
func (s *QueueService) ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	members, err := s.queues.ListMembers(ctx, tenantID, queueID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return members, nil
}

// ListEntries lists a queue's entries, optionally filtered by status.
func (s *QueueService) ListEntries(ctx context.Context, tenantID, queueID string, status *domain.QueueEntryStatus) ([]domain.QueueEntry, error) {
	entries, err := s.queues.ListEntriesByQueue(ctx, tenantID, queueID, status)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// RegisterAgent creates or refreshes an agent's capacity record.
func (s *QueueService) RegisterAgent(ctx context.Context, tenantID, userID string, maxConcurrentChats int) (*domain.AgentStatus, error) {
	if maxConcurrentChats < 1 {
		return nil, apperrors.NewValidationError("max_concurrent_chats must be >= 1", nil)
	}
	status := &domain.AgentStatus{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		UserID:             userID,
		Status:             domain.AgentAvailable,
		MaxConcurrentChats: maxConcurrentChats,
	}
	if err := s.agents.Upsert(ctx, status); err != nil {
		return nil, apperrors.MapError(err)
	}
	return status, nil
}

// ReportAvailability applies an agent's explicit self-reported status. The
// busy/available pair is recomputed from load; away/offline stick until the
// agent reports back.
func (s *QueueService) ReportAvailability(ctx context.Context, tenantID, userID string, status domain.AgentAvailability) (*domain.AgentStatus, error) {
	switch status {
	case domain.AgentAvailable, domain.AgentBusy, domain.AgentAway, domain.AgentOffline:
	default:
		return nil, apperrors.NewValidationError("invalid agent status", map[string]any{"status": string(status)})
	}
	updated, err := s.agents.SetAvailability(ctx, tenantID, userID, status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("agent status", map[string]any{"user_id": userID})
		}
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventAgentStatusChanged,
		TenantID:  tenantID,
		AgentID:   &updated.UserID,
		Timestamp: s.now(),
		Payload: events.AgentStatusChangedPayload{
			Status:            updated.Status,
			CurrentChatsCount: updated.CurrentChatsCount,
		},
	})
	return updated, nil
}

// ListAgents lists a tenant's agent statuses, optionally filtered.
func (s *QueueService) ListAgents(ctx context.Context, tenantID string, status *domain.AgentAvailability) ([]domain.AgentStatus, error) {
	var (
		agents []domain.AgentStatus
		err    error
	)
	if status != nil {
		agents, err = s.agents.ListByStatus(ctx, tenantID, *status)
	} else {
		agents, err = s.agents.ListByTenant(ctx, tenantID)
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return agents, nil
}

func (s *QueueService) getQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	queue, err := s.queues.GetQueueByID(ctx, tenantID, queueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": queueID})
		}
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

func (s *QueueService) publish(ctx context.Context, event events.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn("broadcast failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
