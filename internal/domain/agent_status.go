package domain

import "time"

// AgentAvailability enumerates live agent states.
type AgentAvailability string

const (
	AgentAvailable AgentAvailability = "available"
	AgentBusy      AgentAvailability = "busy"
	AgentAway      AgentAvailability = "away"
	AgentOffline   AgentAvailability = "offline"
)

// AgentStatus is an agent's live capacity/availability record, one per
// (tenant, user).
type AgentStatus struct {
	ID                 string
	TenantID           string
	UserID             string
	Status             AgentAvailability
	CurrentChatsCount  int
	MaxConcurrentChats int
	LastActivityAt     time.Time
	UpdatedAt          time.Time
}

// HasCapacity reports whether the agent can take one more chat.
func (a *AgentStatus) HasCapacity() bool {
	return a.CurrentChatsCount < a.MaxConcurrentChats
}

// CanAcceptChat reports whether the agent is eligible to receive work.
func (a *AgentStatus) CanAcceptChat() bool {
	return a.Status == AgentAvailable && a.HasCapacity()
}

// Recompute derives busy/available from the chat count. Explicit away and
// offline states are never overridden by load.
func (a *AgentStatus) Recompute() {
	if a.Status == AgentAway || a.Status == AgentOffline {
		return
	}
	if a.CurrentChatsCount >= a.MaxConcurrentChats {
		a.Status = AgentBusy
	} else {
		a.Status = AgentAvailable
	}
}
