package events

import (
	"time"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventQueueEntryCreated   EventType = "queue_entry_created"
	EventQueueEntryAssigned  EventType = "queue_entry_assigned"
	EventQueueEntryEscalated EventType = "queue_entry_escalated"
	EventChatTransferred     EventType = "chat_transferred"
	EventChatClosed          EventType = "chat_closed"
	EventAgentStatusChanged  EventType = "agent_status_changed"
)

// Event represents a dispatch-domain event broadcast after a successful
// state transition. Delivery is best effort; the owning transaction has
// already committed by the time an event is published.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TenantID  string      `json:"tenant_id"`
	QueueID   string      `json:"queue_id,omitempty"`
	ChatID    string      `json:"chat_id,omitempty"`
	EntryID   string      `json:"entry_id,omitempty"`
	AgentID   *string     `json:"agent_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// QueueEntryAssignedPayload payload.
type QueueEntryAssignedPayload struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	ChatID         string `json:"chat_id"`
	WaitSeconds    int    `json:"wait_seconds"`
}

// QueueEntryEscalatedPayload payload.
type QueueEntryEscalatedPayload struct {
	ConversationID string `json:"conversation_id"`
	Priority       int    `json:"priority"`
	WaitSeconds    int    `json:"wait_seconds"`
}

// ChatTransferredPayload payload.
type ChatTransferredPayload struct {
	TargetType  domain.TransferTargetType `json:"target_type"`
	FromAgentID *string                   `json:"from_agent_id,omitempty"`
	ToAgentID   *string                   `json:"to_agent_id,omitempty"`
	ToQueueID   *string                   `json:"to_queue_id,omitempty"`
}

// ChatClosedPayload payload.
type ChatClosedPayload struct {
	ClosedByID   string  `json:"closed_by_id"`
	QueueEntryID *string `json:"queue_entry_id,omitempty"`
}

// AgentStatusChangedPayload payload.
type AgentStatusChangedPayload struct {
	Status            domain.AgentAvailability `json:"status"`
	CurrentChatsCount int                      `json:"current_chats_count"`
}
