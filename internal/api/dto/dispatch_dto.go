package dto

import (
	"time"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// AssignRequest triggers one assignment attempt for a waiting entry.
type AssignRequest struct {
	EntryID string `json:"entry_id"`
}

// AssignmentResponse reports the outcome of an assignment attempt.
type AssignmentResponse struct {
	Assigned bool                `json:"assigned"`
	TimedOut bool                `json:"timed_out"`
	Reason   string              `json:"reason"`
	Entry    *QueueEntryResponse `json:"entry,omitempty"`
	Chat     *ChatResponse       `json:"chat,omitempty"`
}

// TransferRequest hands a chat to another agent or queue. Exactly one of
// to_agent_id / to_queue_id must be set.
type TransferRequest struct {
	ToAgentID *string `json:"to_agent_id"`
	ToQueueID *string `json:"to_queue_id"`
	Reason    string  `json:"reason"`
}

// TransferResponse reports the outcome of a transfer.
type TransferResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	Chat     *ChatResponse       `json:"chat,omitempty"`
	NewEntry *QueueEntryResponse `json:"new_entry,omitempty"`
}

// TransferRecordResponse is one immutable hand-off fact.
type TransferRecordResponse struct {
	ID          string                    `json:"id"`
	TargetType  domain.TransferTargetType `json:"target_type"`
	FromAgentID *string                   `json:"from_agent_id,omitempty"`
	ToAgentID   *string                   `json:"to_agent_id,omitempty"`
	ToQueueID   *string                   `json:"to_queue_id,omitempty"`
	Reason      string                    `json:"reason"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// ChatResponse representation.
type ChatResponse struct {
	ID              string                   `json:"id"`
	Type            domain.ChatType          `json:"type"`
	Status          domain.ChatStatus        `json:"status"`
	ConversationID  string                   `json:"conversation_id"`
	AssignedAgentID *string                  `json:"assigned_agent_id,omitempty"`
	QueueEntryID    *string                  `json:"queue_entry_id,omitempty"`
	TransferHistory []TransferRecordResponse `json:"transfer_history"`
	CreatedAt       time.Time                `json:"created_at"`
	ClosedAt        *time.Time               `json:"closed_at,omitempty"`
	ClosedByID      *string                  `json:"closed_by_id,omitempty"`
}

// ConversationHistoryResponse is a conversation's full dispatch record.
type ConversationHistoryResponse struct {
	Entries []QueueEntryResponse `json:"entries"`
	Chats   []ChatResponse       `json:"chats"`
}

// ParticipantResponse is one row of a chat's join/leave record.
type ParticipantResponse struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// RegisterAgentRequest declares an agent's capacity.
type RegisterAgentRequest struct {
	MaxConcurrentChats int `json:"max_concurrent_chats"`
}

// AvailabilityRequest self-reports an agent's availability.
type AvailabilityRequest struct {
	Status domain.AgentAvailability `json:"status"`
}

// AgentStatusResponse representation.
type AgentStatusResponse struct {
	UserID             string                   `json:"user_id"`
	Status             domain.AgentAvailability `json:"status"`
	CurrentChatsCount  int                      `json:"current_chats_count"`
	MaxConcurrentChats int                      `json:"max_concurrent_chats"`
	LastActivityAt     time.Time                `json:"last_activity_at"`
}
