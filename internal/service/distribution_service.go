package service

import (
	"fmt"
	"sort"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// NoAvailableAgentsReason is the contract string reported when the eligible
// set is empty. Callers and monitoring views match on it.
const NoAvailableAgentsReason = "No available agents"

// DistributionInput is an immutable snapshot for one distribution decision.
// Members must be supplied in a stable order (join time); several strategies
// depend on it.
type DistributionInput struct {
	Queue               *domain.Queue
	Entry               *domain.QueueEntry
	Members             []domain.QueueMember
	Statuses            map[string]*domain.AgentStatus
	LastAssignedAgentID *string
}

// DistributionResult reports the chosen agent (nil when none) and the
// human-readable rule that fired. The reason is part of the contract: it is
// surfaced in audit views, not just logged.
type DistributionResult struct {
	AgentID *string
	Reason  string
}

// candidate pairs a member with the agent's live status.
type candidate struct {
	member domain.QueueMember
	status *domain.AgentStatus
}

// DistributionService picks one agent for one waiting entry. It is a pure
// evaluator: no I/O, no side effects, safe for concurrent use.
type DistributionService struct{}

// NewDistributionService creates the service.
func NewDistributionService() *DistributionService {
	return &DistributionService{}
}

// Distribute applies the queue's strategy over the eligible agents and
// returns the selection with its reason. An empty eligible set is a normal
// outcome, not an error. An unknown strategy is a programmer error and
// panics.
func (s *DistributionService) Distribute(in DistributionInput) DistributionResult {
	eligible := eligibleCandidates(in.Members, in.Statuses)
	if len(eligible) == 0 {
		return DistributionResult{AgentID: nil, Reason: NoAvailableAgentsReason}
	}

	switch in.Queue.Strategy {
	case domain.StrategyFIFO:
		return pickFIFO(eligible)
	case domain.StrategyPriority:
		return pickPriority(eligible)
	case domain.StrategySkillBased:
		return pickSkillBased(in.Queue, eligible)
	case domain.StrategyRoundRobin:
		return pickRoundRobin(eligible, in.LastAssignedAgentID)
	case domain.StrategyLeastBusy:
		return pickLeastBusy(eligible)
	default:
		panic(fmt.Sprintf("unknown distribution strategy %q", in.Queue.Strategy))
	}
}

// eligibleCandidates applies the strategy-independent filter: member active,
// agent available, agent under capacity. Order of the input is preserved.
func eligibleCandidates(members []domain.QueueMember, statuses map[string]*domain.AgentStatus) []candidate {
	var eligible []candidate
	for _, member := range members {
		if !member.IsActive {
			continue
		}
		status, ok := statuses[member.UserID]
		if !ok || !status.CanAcceptChat() {
			continue
		}
		eligible = append(eligible, candidate{member: member, status: status})
	}
	return eligible
}

func pickFIFO(eligible []candidate) DistributionResult {
	chosen := eligible[0]
	return DistributionResult{
		AgentID: &chosen.member.UserID,
		Reason:  "First eligible agent in queue order",
	}
}

func pickPriority(eligible []candidate) DistributionResult {
	sorted := append([]candidate{}, eligible...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].member.Priority > sorted[j].member.Priority
	})
	chosen := sorted[0]
	return DistributionResult{
		AgentID: &chosen.member.UserID,
		Reason:  fmt.Sprintf("Highest member priority (%d)", chosen.member.Priority),
	}
}

func pickSkillBased(queue *domain.Queue, eligible []candidate) DistributionResult {
	required := len(queue.Skills)
	if required == 0 {
		result := pickFIFO(eligible)
		result.Reason = "Queue requires no skills; first eligible agent"
		return result
	}

	best := -1
	bestMatched := 0
	for i, cand := range eligible {
		matched := cand.member.MatchedSkills(queue.Skills)
		if matched > bestMatched {
			best = i
			bestMatched = matched
		}
	}
	if best < 0 {
		// Missing skills never fail an assignment on their own.
		result := pickFIFO(eligible)
		result.Reason = "No skill matches; falling back to first eligible agent"
		return result
	}

	chosen := eligible[best]
	pct := bestMatched * 100 / required
	return DistributionResult{
		AgentID: &chosen.member.UserID,
		Reason:  fmt.Sprintf("%d/%d skills matched (%d%%)", bestMatched, required, pct),
	}
}

// pickRoundRobin chooses the eligible agent immediately after the previous
// assignee in stable order, wrapping to the head when the cursor is last,
// absent, or no longer eligible.
func pickRoundRobin(eligible []candidate, lastAssignedAgentID *string) DistributionResult {
	if lastAssignedAgentID != nil {
		for i, cand := range eligible {
			if cand.member.UserID == *lastAssignedAgentID {
				chosen := eligible[(i+1)%len(eligible)]
				return DistributionResult{
					AgentID: &chosen.member.UserID,
					Reason:  "Next agent in rotation",
				}
			}
		}
	}
	chosen := eligible[0]
	return DistributionResult{
		AgentID: &chosen.member.UserID,
		Reason:  "Rotation starting from first eligible agent",
	}
}

func pickLeastBusy(eligible []candidate) DistributionResult {
	sorted := append([]candidate{}, eligible...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].status.CurrentChatsCount < sorted[j].status.CurrentChatsCount
	})
	chosen := sorted[0]
	return DistributionResult{
		AgentID: &chosen.member.UserID,
		Reason:  fmt.Sprintf("Least busy agent (%d active chats)", chosen.status.CurrentChatsCount),
	}
}
