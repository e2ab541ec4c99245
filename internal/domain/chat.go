package domain

import (
	"fmt"
	"time"
)

// ChatStatus enumerates chat lifecycle states.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusClosed   ChatStatus = "closed"
	ChatStatusArchived ChatStatus = "archived"
)

// ChatType differentiates how the conversation reached an agent.
type ChatType string

const (
	ChatTypeQueue  ChatType = "queue"
	ChatTypeDirect ChatType = "direct"
)

// TransferTargetType differentiates transfer destinations.
type TransferTargetType string

const (
	TransferToAgent TransferTargetType = "agent"
	TransferToQueue TransferTargetType = "queue"
)

// TransferRecord is an immutable audit-trail fact appended when a chat is
// handed off. Records are never edited or removed.
type TransferRecord struct {
	ID          string
	ChatID      string
	TenantID    string
	TargetType  TransferTargetType
	FromAgentID *string
	ToAgentID   *string
	ToQueueID   *string
	Reason      string
	CreatedAt   time.Time
}

// Chat is the live conversation created once a queue entry is assigned.
type Chat struct {
	ID              string
	TenantID        string
	Type            ChatType
	Status          ChatStatus
	ConversationID  string
	AssignedAgentID *string
	QueueEntryID    *string
	TransferHistory []TransferRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
	ClosedByID      *string
}

// IsActive reports whether the chat is still open for dispatch operations.
func (c *Chat) IsActive() bool {
	return c.Status == ChatStatusActive
}

// Close marks the chat closed. Closing twice is an invalid transition.
func (c *Chat) Close(closedByID string, now time.Time) error {
	if c.Status == ChatStatusClosed {
		return fmt.Errorf("chat %s already closed", c.ID)
	}
	c.Status = ChatStatusClosed
	c.ClosedAt = &now
	c.ClosedByID = &closedByID
	return nil
}

// ParticipantRoleAgent is the role recorded for agents joined via dispatch.
const ParticipantRoleAgent = "agent"

// ChatParticipant records a user's membership in a chat.
type ChatParticipant struct {
	ID       string
	ChatID   string
	TenantID string
	UserID   string
	Role     string
	JoinedAt time.Time
	LeftAt   *time.Time
}
