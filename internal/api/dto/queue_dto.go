package dto

import (
	"time"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// CreateQueueRequest payload.
type CreateQueueRequest struct {
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	Strategy           domain.QueueStrategy `json:"strategy"`
	MaxConcurrentChats int                  `json:"max_concurrent_chats"`
	MaxWaitTimeSeconds *int                 `json:"max_wait_time_seconds"`
	Skills             []string             `json:"skills"`
	AutoAssign         bool                 `json:"auto_assign"`
}

// UpdateQueueRequest payload; nil fields are left unchanged.
type UpdateQueueRequest struct {
	Name               *string               `json:"name"`
	Description        *string               `json:"description"`
	Strategy           *domain.QueueStrategy `json:"strategy"`
	MaxConcurrentChats *int                  `json:"max_concurrent_chats"`
	MaxWaitTimeSeconds *int                  `json:"max_wait_time_seconds"`
	Skills             []string              `json:"skills"`
	AutoAssign         *bool                 `json:"auto_assign"`
	IsActive           *bool                 `json:"is_active"`
}

// QueueResponse representation.
type QueueResponse struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	Strategy           domain.QueueStrategy `json:"strategy"`
	MaxConcurrentChats int                  `json:"max_concurrent_chats"`
	MaxWaitTimeSeconds *int                 `json:"max_wait_time_seconds"`
	Skills             []string             `json:"skills"`
	AutoAssign         bool                 `json:"auto_assign"`
	IsActive           bool                 `json:"is_active"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// MemberRequest payload.
type MemberRequest struct {
	UserID   string   `json:"user_id"`
	Skills   []string `json:"skills"`
	Priority int      `json:"priority"`
	IsActive *bool    `json:"is_active"`
}

// MemberResponse representation.
type MemberResponse struct {
	QueueID  string    `json:"queue_id"`
	UserID   string    `json:"user_id"`
	Skills   []string  `json:"skills"`
	Priority int       `json:"priority"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

// EnqueueRequest payload for adding a conversation to a queue.
type EnqueueRequest struct {
	ConversationID string         `json:"conversation_id"`
	CustomerID     *string        `json:"customer_id"`
	CustomerName   *string        `json:"customer_name"`
	Priority       int            `json:"priority"`
	Metadata       map[string]any `json:"metadata"`
}

// QueueEntryResponse representation.
type QueueEntryResponse struct {
	ID              string                  `json:"id"`
	QueueID         string                  `json:"queue_id"`
	ConversationID  string                  `json:"conversation_id"`
	CustomerID      *string                 `json:"customer_id,omitempty"`
	CustomerName    *string                 `json:"customer_name,omitempty"`
	Status          domain.QueueEntryStatus `json:"status"`
	Priority        int                     `json:"priority"`
	WaitStartedAt   time.Time               `json:"wait_started_at"`
	WaitEndedAt     *time.Time              `json:"wait_ended_at,omitempty"`
	AssignedAgentID *string                 `json:"assigned_agent_id,omitempty"`
	AssignedAt      *time.Time              `json:"assigned_at,omitempty"`
	ChatID          *string                 `json:"chat_id,omitempty"`
	SLAExceeded     bool                    `json:"sla_exceeded"`
	Escalated       bool                    `json:"escalated"`
	EscalatedAt     *time.Time              `json:"escalated_at,omitempty"`
}
