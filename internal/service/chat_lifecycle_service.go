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

// ChatLifecycleService owns the transfer and close steps of the dispatch
// lifecycle. These are the only paths that release agent capacity acquired
// at assignment time.
type ChatLifecycleService struct {
	queues      repository.QueueRepository
	chats       repository.ChatRepository
	agents      repository.AgentStatusRepository
	tx          repository.TxManager
	broadcaster events.Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

// LifecycleDependencies bundles collaborators.
type LifecycleDependencies struct {
	QueueRepo   repository.QueueRepository
	ChatRepo    repository.ChatRepository
	AgentRepo   repository.AgentStatusRepository
	Tx          repository.TxManager
	Broadcaster events.Broadcaster
	Logger      *zap.Logger
}

// NewChatLifecycleService creates the service.
func NewChatLifecycleService(deps LifecycleDependencies) *ChatLifecycleService {
	return &ChatLifecycleService{
		queues:      deps.QueueRepo,
		chats:       deps.ChatRepo,
		agents:      deps.AgentRepo,
		tx:          deps.Tx,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// TransferInput describes one transfer request. Exactly one of ToAgentID and
// ToQueueID must be set.
type TransferInput struct {
	ChatID        string
	ToAgentID     *string
	ToQueueID     *string
	Reason        string
	InitiatedByID string
}

// TransferResult is the typed outcome of a transfer. "No target available"
// style failures are expected business outcomes carried in Message, never
// errors.
type TransferResult struct {
	Success  bool
	Message  string
	Chat     *domain.Chat
	NewEntry *domain.QueueEntry
}

func transferFailure(message string) *TransferResult {
	return &TransferResult{Success: false, Message: message}
}

// TransferChat hands a chat to another agent or re-enqueues it on another
// queue, recording an immutable transfer-log entry either way.
func (s *ChatLifecycleService) TransferChat(ctx context.Context, tenantID string, in TransferInput) (*TransferResult, error) {
	if (in.ToAgentID == nil) == (in.ToQueueID == nil) {
		return nil, apperrors.NewValidationError("exactly one of to_agent_id and to_queue_id required", nil)
	}

	chat, err := s.chats.GetChatByID(ctx, tenantID, in.ChatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": in.ChatID})
		}
		return nil, apperrors.MapError(err)
	}
	if !chat.IsActive() {
		return transferFailure("Chat is not active"), nil
	}

	if in.ToAgentID != nil {
		return s.transferToAgent(ctx, tenantID, chat, in)
	}
	return s.transferToQueue(ctx, tenantID, chat, in)
}

func (s *ChatLifecycleService) transferToAgent(ctx context.Context, tenantID string, chat *domain.Chat, in TransferInput) (*TransferResult, error) {
	target, err := s.agents.GetByUserID(ctx, tenantID, *in.ToAgentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transferFailure("Target agent not found"), nil
		}
		return nil, apperrors.MapError(err)
	}
	if target.Status == domain.AgentOffline {
		return transferFailure("Target agent is offline"), nil
	}
	if !target.HasCapacity() {
		return transferFailure("Target agent is at capacity"), nil
	}
	sourceAgentID := chat.AssignedAgentID
	if sourceAgentID != nil && *sourceAgentID == target.UserID {
		return transferFailure("Chat is already assigned to this agent"), nil
	}

	now := s.now()
	record := &domain.TransferRecord{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		TenantID:    tenantID,
		TargetType:  domain.TransferToAgent,
		FromAgentID: sourceAgentID,
		ToAgentID:   in.ToAgentID,
		Reason:      in.Reason,
	}

	var targetStatus, sourceStatus *domain.AgentStatus
	var reassigned bool
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		chat.AssignedAgentID = in.ToAgentID
		if err := s.chats.ReassignChat(ctx, chat, sourceAgentID); err != nil {
			return err
		}
		reassigned = true

		updated, err := s.agents.IncrementActiveChats(ctx, tenantID, target.UserID, false)
		if err != nil {
			return err
		}
		targetStatus = updated

		if err := s.chats.AppendTransfer(ctx, record); err != nil {
			return err
		}
		if err := s.chats.AddParticipant(ctx, &domain.ChatParticipant{
			ID:       uuid.NewString(),
			ChatID:   chat.ID,
			TenantID: tenantID,
			UserID:   target.UserID,
			Role:     domain.ParticipantRoleAgent,
		}); err != nil {
			return err
		}

		if sourceAgentID != nil {
			if err := s.leaveChat(ctx, tenantID, chat.ID, *sourceAgentID); err != nil {
				return err
			}
			released, err := s.agents.DecrementActiveChats(ctx, tenantID, *sourceAgentID)
			if err != nil {
				return err
			}
			sourceStatus = released
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost a race since the read above: either the chat was closed
			// or reassigned, or the target's free slot was taken.
			if !reassigned {
				return transferFailure("Chat is not active"), nil
			}
			return transferFailure("Target agent is at capacity"), nil
		}
		return nil, apperrors.MapError(err)
	}
	chat.TransferHistory = append(chat.TransferHistory, *record)

	s.logger.Info("chat transferred to agent",
		zap.String("chat_id", chat.ID),
		zap.String("to_agent_id", target.UserID),
		zap.String("reason", in.Reason))
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventChatTransferred,
		TenantID:  tenantID,
		ChatID:    chat.ID,
		AgentID:   in.ToAgentID,
		Reason:    in.Reason,
		Timestamp: now,
		Payload: events.ChatTransferredPayload{
			TargetType:  domain.TransferToAgent,
			FromAgentID: sourceAgentID,
			ToAgentID:   in.ToAgentID,
		},
	})
	s.publishAgentStatus(ctx, targetStatus, now)
	s.publishAgentStatus(ctx, sourceStatus, now)

	return &TransferResult{Success: true, Message: "Chat transferred", Chat: chat}, nil
}

// transferToQueue closes the current chat and re-enqueues the conversation
// on the target queue at transfer priority, ahead of fresh entries.
func (s *ChatLifecycleService) transferToQueue(ctx context.Context, tenantID string, chat *domain.Chat, in TransferInput) (*TransferResult, error) {
	queue, err := s.queues.GetQueueByID(ctx, tenantID, *in.ToQueueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transferFailure("Target queue not found"), nil
		}
		return nil, apperrors.MapError(err)
	}
	if !queue.IsActive {
		return transferFailure("Target queue is not active"), nil
	}

	now := s.now()
	sourceAgentID := chat.AssignedAgentID
	record := &domain.TransferRecord{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		TenantID:    tenantID,
		TargetType:  domain.TransferToQueue,
		FromAgentID: sourceAgentID,
		ToQueueID:   in.ToQueueID,
		Reason:      in.Reason,
	}
	entry := &domain.QueueEntry{
		ID:             uuid.NewString(),
		QueueID:        queue.ID,
		TenantID:       tenantID,
		ConversationID: chat.ConversationID,
		Status:         domain.EntryStatusWaiting,
		Priority:       domain.TransferEntryPriority,
		WaitStartedAt:  now,
		Metadata: map[string]any{
			"transferred_from_chat": chat.ID,
		},
	}

	var sourceStatus *domain.AgentStatus
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := chat.Close(in.InitiatedByID, now); err != nil {
			return apperrors.NewInvalidState(err.Error(), nil)
		}
		if err := s.chats.CloseChat(ctx, chat); err != nil {
			return err
		}
		if err := s.queues.CreateEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.chats.AppendTransfer(ctx, record); err != nil {
			return err
		}
		if sourceAgentID != nil {
			if err := s.leaveChat(ctx, tenantID, chat.ID, *sourceAgentID); err != nil {
				return err
			}
			released, err := s.agents.DecrementActiveChats(ctx, tenantID, *sourceAgentID)
			if err != nil {
				return err
			}
			sourceStatus = released
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return transferFailure("Chat is not active"), nil
		}
		return nil, apperrors.MapError(err)
	}
	chat.TransferHistory = append(chat.TransferHistory, *record)

	s.logger.Info("chat transferred to queue",
		zap.String("chat_id", chat.ID),
		zap.String("to_queue_id", queue.ID),
		zap.String("entry_id", entry.ID),
		zap.String("reason", in.Reason))
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventChatTransferred,
		TenantID:  tenantID,
		ChatID:    chat.ID,
		QueueID:   queue.ID,
		EntryID:   entry.ID,
		Reason:    in.Reason,
		Timestamp: now,
		Payload: events.ChatTransferredPayload{
			TargetType:  domain.TransferToQueue,
			FromAgentID: sourceAgentID,
			ToQueueID:   in.ToQueueID,
		},
	})
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventQueueEntryCreated,
		TenantID:  tenantID,
		QueueID:   queue.ID,
		EntryID:   entry.ID,
		Timestamp: now,
	})
	s.publishAgentStatus(ctx, sourceStatus, now)

	return &TransferResult{Success: true, Message: "Chat transferred to queue", Chat: chat, NewEntry: entry}, nil
}

// GetChat loads a chat with its transfer history.
func (s *ChatLifecycleService) GetChat(ctx context.Context, tenantID, chatID string) (*domain.Chat, error) {
	chat, err := s.chats.GetChatByID(ctx, tenantID, chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": chatID})
		}
		return nil, apperrors.MapError(err)
	}
	return chat, nil
}

// ConversationHistory groups a conversation's dispatch record: every queue
// entry it produced and every chat it reached, including entries created by
// queue transfers.
type ConversationHistory struct {
	Entries []domain.QueueEntry
	Chats   []domain.Chat
}

// GetConversationHistory looks a conversation up across queues and chats.
// Customer identity lives on the entries; the conversation id is the stable
// key both sides share.
func (s *ChatLifecycleService) GetConversationHistory(ctx context.Context, tenantID, conversationID string) (*ConversationHistory, error) {
	entries, err := s.queues.FindEntriesByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	chats, err := s.chats.ListChatsByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &ConversationHistory{Entries: entries, Chats: chats}, nil
}

// ListParticipants returns the full join/leave record for a chat.
func (s *ChatLifecycleService) ListParticipants(ctx context.Context, tenantID, chatID string) ([]domain.ChatParticipant, error) {
	if _, err := s.GetChat(ctx, tenantID, chatID); err != nil {
		return nil, err
	}
	participants, err := s.chats.ListParticipants(ctx, tenantID, chatID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return participants, nil
}

// leaveChat stamps the agent's participant row. Chats created before
// participant tracking have no row; that is not an error.
func (s *ChatLifecycleService) leaveChat(ctx context.Context, tenantID, chatID, userID string) error {
	err := s.chats.MarkParticipantLeft(ctx, tenantID, chatID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// ListAgentChats lists chats assigned to one agent, optionally only active.
func (s *ChatLifecycleService) ListAgentChats(ctx context.Context, tenantID, agentID string, activeOnly bool) ([]domain.Chat, error) {
	chats, err := s.chats.ListChatsByAgent(ctx, tenantID, agentID, activeOnly)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return chats, nil
}

// CloseChat finishes a chat, completes its originating queue entry, and
// releases the assigned agent's capacity.
func (s *ChatLifecycleService) CloseChat(ctx context.Context, tenantID, chatID, closedByID string) (*domain.Chat, error) {
	chat, err := s.chats.GetChatByID(ctx, tenantID, chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": chatID})
		}
		return nil, apperrors.MapError(err)
	}
	if chat.Status == domain.ChatStatusClosed {
		return nil, apperrors.NewInvalidState("chat already closed", map[string]any{"chat_id": chat.ID})
	}

	now := s.now()
	agentID := chat.AssignedAgentID
	var agentStatus *domain.AgentStatus
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := chat.Close(closedByID, now); err != nil {
			return apperrors.NewInvalidState(err.Error(), nil)
		}
		if err := s.chats.CloseChat(ctx, chat); err != nil {
			return err
		}

		if chat.QueueEntryID != nil {
			entry, err := s.queues.GetEntryByID(ctx, tenantID, *chat.QueueEntryID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if entry != nil && entry.CanTransitionTo(domain.EntryStatusCompleted) {
				if err := entry.MarkCompleted(now); err != nil {
					return err
				}
				if err := s.queues.CompleteEntry(ctx, entry); err != nil && !errors.Is(err, repository.ErrConflict) {
					return err
				}
			}
		}

		if agentID != nil {
			if err := s.leaveChat(ctx, tenantID, chat.ID, *agentID); err != nil {
				return err
			}
			released, err := s.agents.DecrementActiveChats(ctx, tenantID, *agentID)
			if err != nil {
				return err
			}
			agentStatus = released
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewInvalidState("chat already closed", map[string]any{"chat_id": chat.ID})
		}
		return nil, apperrors.MapError(err)
	}

	s.logger.Info("chat closed",
		zap.String("chat_id", chat.ID),
		zap.String("closed_by_id", closedByID))
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventChatClosed,
		TenantID:  tenantID,
		ChatID:    chat.ID,
		AgentID:   agentID,
		Timestamp: now,
		Payload: events.ChatClosedPayload{
			ClosedByID:   closedByID,
			QueueEntryID: chat.QueueEntryID,
		},
	})
	s.publishAgentStatus(ctx, agentStatus, now)

	return chat, nil
}

func (s *ChatLifecycleService) publish(ctx context.Context, event events.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn("broadcast failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (s *ChatLifecycleService) publishAgentStatus(ctx context.Context, status *domain.AgentStatus, now time.Time) {
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
