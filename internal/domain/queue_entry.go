package domain

import (
	"fmt"
	"time"
)

// QueueEntryStatus enumerates lifecycle states for a waiting unit of work.
type QueueEntryStatus string

const (
	EntryStatusWaiting    QueueEntryStatus = "waiting"
	EntryStatusAssigned   QueueEntryStatus = "assigned"
	EntryStatusInProgress QueueEntryStatus = "in_progress"
	EntryStatusCompleted  QueueEntryStatus = "completed"
	EntryStatusCancelled  QueueEntryStatus = "cancelled"
	EntryStatusTimeout    QueueEntryStatus = "timeout"
)

const (
	// DefaultEntryPriority is assigned to fresh queue entries.
	DefaultEntryPriority = 1
	// TransferEntryPriority is assigned to entries created by a queue transfer.
	TransferEntryPriority = 2
	// MaxEntryPriority caps escalation priority bumps.
	MaxEntryPriority = 5
)

// QueueEntry is one waiting/assigned/completed unit of work in a queue.
type QueueEntry struct {
	ID              string
	QueueID         string
	TenantID        string
	ConversationID  string
	CustomerID      *string
	CustomerName    *string
	Status          QueueEntryStatus
	Priority        int
	WaitStartedAt   time.Time
	WaitEndedAt     *time.Time
	AssignedAgentID *string
	AssignedAt      *time.Time
	ChatID          *string
	CompletedAt     *time.Time
	SLAExceeded     bool
	Escalated       bool
	EscalatedAt     *time.Time
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// entryTransitions encodes the monotonic status machine.
var entryTransitions = map[QueueEntryStatus][]QueueEntryStatus{
	EntryStatusWaiting:    {EntryStatusAssigned, EntryStatusCancelled, EntryStatusTimeout},
	EntryStatusAssigned:   {EntryStatusInProgress, EntryStatusCompleted},
	EntryStatusInProgress: {EntryStatusCompleted},
}

// CanTransitionTo reports whether moving to next is a legal transition.
func (e *QueueEntry) CanTransitionTo(next QueueEntryStatus) bool {
	for _, allowed := range entryTransitions[e.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarkAssigned transitions the entry to assigned and stamps assignment fields.
func (e *QueueEntry) MarkAssigned(agentID, chatID string, now time.Time) error {
	if !e.CanTransitionTo(EntryStatusAssigned) {
		return fmt.Errorf("cannot assign entry in status %q", e.Status)
	}
	e.Status = EntryStatusAssigned
	e.AssignedAgentID = &agentID
	e.ChatID = &chatID
	e.AssignedAt = &now
	e.WaitEndedAt = &now
	return nil
}

// MarkTimeout transitions a waiting entry to timeout, preserving wait timing.
func (e *QueueEntry) MarkTimeout(now time.Time) error {
	if !e.CanTransitionTo(EntryStatusTimeout) {
		return fmt.Errorf("cannot time out entry in status %q", e.Status)
	}
	e.Status = EntryStatusTimeout
	e.WaitEndedAt = &now
	return nil
}

// MarkCompleted finishes an assigned or in-progress entry.
func (e *QueueEntry) MarkCompleted(now time.Time) error {
	if !e.CanTransitionTo(EntryStatusCompleted) {
		return fmt.Errorf("cannot complete entry in status %q", e.Status)
	}
	e.Status = EntryStatusCompleted
	e.CompletedAt = &now
	return nil
}

// MarkEscalated sets the one-way SLA breach flags and bumps priority.
// Idempotent: an already escalated entry is left untouched.
func (e *QueueEntry) MarkEscalated(now time.Time) bool {
	if e.Escalated {
		return false
	}
	e.SLAExceeded = true
	e.Escalated = true
	e.EscalatedAt = &now
	if e.Priority < MaxEntryPriority {
		e.Priority++
	}
	return true
}

// WaitDuration returns how long the entry has waited as of now. For entries
// that left the waiting state the recorded wait window is used.
func (e *QueueEntry) WaitDuration(now time.Time) time.Duration {
	if e.WaitEndedAt != nil {
		return e.WaitEndedAt.Sub(e.WaitStartedAt)
	}
	return now.Sub(e.WaitStartedAt)
}
