package domain

import (
	"fmt"
	"time"
)

// QueueStrategy enumerates agent distribution strategies.
type QueueStrategy string

const (
	StrategyFIFO       QueueStrategy = "fifo"
	StrategyPriority   QueueStrategy = "priority"
	StrategySkillBased QueueStrategy = "skill_based"
	StrategyRoundRobin QueueStrategy = "round_robin"
	StrategyLeastBusy  QueueStrategy = "least_busy"
)

// ValidStrategy reports whether s is one of the five supported strategies.
func ValidStrategy(s QueueStrategy) bool {
	switch s {
	case StrategyFIFO, StrategyPriority, StrategySkillBased, StrategyRoundRobin, StrategyLeastBusy:
		return true
	}
	return false
}

// Queue is a routing group of agents sharing a distribution strategy.
type Queue struct {
	ID                  string
	TenantID            string
	Name                string
	Description         string
	Strategy            QueueStrategy
	MaxConcurrentChats  int
	MaxWaitTimeSeconds  *int
	Skills              []string
	AutoAssign          bool
	IsActive            bool
	LastAssignedAgentID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// Validate checks queue invariants.
func (q *Queue) Validate() error {
	if !ValidStrategy(q.Strategy) {
		return fmt.Errorf("invalid strategy %q", q.Strategy)
	}
	if q.MaxConcurrentChats < 1 {
		return fmt.Errorf("max_concurrent_chats must be >= 1, got %d", q.MaxConcurrentChats)
	}
	if q.MaxWaitTimeSeconds != nil && *q.MaxWaitTimeSeconds <= 0 {
		return fmt.Errorf("max_wait_time must be positive when set")
	}
	return nil
}

// WaitThreshold returns the SLA wait threshold, falling back to the given
// default when the queue has none configured.
func (q *Queue) WaitThreshold(fallback time.Duration) time.Duration {
	if q.MaxWaitTimeSeconds != nil {
		return time.Duration(*q.MaxWaitTimeSeconds) * time.Second
	}
	return fallback
}

// QueueMember links a queue to an agent eligible to receive its work.
type QueueMember struct {
	ID       string
	QueueID  string
	TenantID string
	UserID   string
	Skills   []string
	Priority int
	IsActive bool
	JoinedAt time.Time
}

// MatchedSkills counts how many of the required skills the member carries.
func (m *QueueMember) MatchedSkills(required []string) int {
	if len(required) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(m.Skills))
	for _, s := range m.Skills {
		have[s] = struct{}{}
	}
	matched := 0
	for _, s := range required {
		if _, ok := have[s]; ok {
			matched++
		}
	}
	return matched
}
