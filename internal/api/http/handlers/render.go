package handlers

import (
	"github.com/spec-kit/chat-dispatch-service/internal/api/dto"
	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

func queueResponse(q *domain.Queue) dto.QueueResponse {
	return dto.QueueResponse{
		ID:                 q.ID,
		Name:               q.Name,
		Description:        q.Description,
		Strategy:           q.Strategy,
		MaxConcurrentChats: q.MaxConcurrentChats,
		MaxWaitTimeSeconds: q.MaxWaitTimeSeconds,
		Skills:             q.Skills,
		AutoAssign:         q.AutoAssign,
		IsActive:           q.IsActive,
		CreatedAt:          q.CreatedAt,
		UpdatedAt:          q.UpdatedAt,
	}
}

func memberResponse(m *domain.QueueMember) dto.MemberResponse {
	return dto.MemberResponse{
		QueueID:  m.QueueID,
		UserID:   m.UserID,
		Skills:   m.Skills,
		Priority: m.Priority,
		IsActive: m.IsActive,
		JoinedAt: m.JoinedAt,
	}
}

func entryResponse(e *domain.QueueEntry) dto.QueueEntryResponse {
	return dto.QueueEntryResponse{
		ID:              e.ID,
		QueueID:         e.QueueID,
		ConversationID:  e.ConversationID,
		CustomerID:      e.CustomerID,
		CustomerName:    e.CustomerName,
		Status:          e.Status,
		Priority:        e.Priority,
		WaitStartedAt:   e.WaitStartedAt,
		WaitEndedAt:     e.WaitEndedAt,
		AssignedAgentID: e.AssignedAgentID,
		AssignedAt:      e.AssignedAt,
		ChatID:          e.ChatID,
		SLAExceeded:     e.SLAExceeded,
		Escalated:       e.Escalated,
		EscalatedAt:     e.EscalatedAt,
	}
}

func chatResponse(ch *domain.Chat) dto.ChatResponse {
	transfers := make([]dto.TransferRecordResponse, 0, len(ch.TransferHistory))
	for i := range ch.TransferHistory {
		t := &ch.TransferHistory[i]
		transfers = append(transfers, dto.TransferRecordResponse{
			ID:          t.ID,
			TargetType:  t.TargetType,
			FromAgentID: t.FromAgentID,
			ToAgentID:   t.ToAgentID,
			ToQueueID:   t.ToQueueID,
			Reason:      t.Reason,
			CreatedAt:   t.CreatedAt,
		})
	}
	return dto.ChatResponse{
		ID:              ch.ID,
		Type:            ch.Type,
		Status:          ch.Status,
		ConversationID:  ch.ConversationID,
		AssignedAgentID: ch.AssignedAgentID,
		QueueEntryID:    ch.QueueEntryID,
		TransferHistory: transfers,
		CreatedAt:       ch.CreatedAt,
		ClosedAt:        ch.ClosedAt,
		ClosedByID:      ch.ClosedByID,
	}
}

func participantResponse(p *domain.ChatParticipant) dto.ParticipantResponse {
	return dto.ParticipantResponse{
		ID:       p.ID,
		UserID:   p.UserID,
		Role:     p.Role,
		JoinedAt: p.JoinedAt,
		LeftAt:   p.LeftAt,
	}
}

func agentResponse(a *domain.AgentStatus) dto.AgentStatusResponse {
	return dto.AgentStatusResponse{
		UserID:             a.UserID,
		Status:             a.Status,
		CurrentChatsCount:  a.CurrentChatsCount,
		MaxConcurrentChats: a.MaxConcurrentChats,
		LastActivityAt:     a.LastActivityAt,
	}
}
