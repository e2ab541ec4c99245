package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

type lifecycleFixture struct {
	svc         *ChatLifecycleService
	queues      *fakeQueueRepo
	chats       *fakeChatRepo
	agents      *fakeAgentRepo
	broadcaster *recordingBroadcaster
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		queues:      newFakeQueueRepo(),
		chats:       newFakeChatRepo(),
		agents:      newFakeAgentRepo(),
		broadcaster: &recordingBroadcaster{},
	}
	f.svc = NewChatLifecycleService(LifecycleDependencies{
		QueueRepo:   f.queues,
		ChatRepo:    f.chats,
		AgentRepo:   f.agents,
		Tx:          passTxManager{},
		Broadcaster: f.broadcaster,
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *lifecycleFixture) addAgentStatus(t *testing.T, userID string, status domain.AgentAvailability, current, max int) {
	t.Helper()
	require.NoError(t, f.agents.Upsert(context.Background(), &domain.AgentStatus{
		ID:                 "status-" + userID,
		TenantID:           "tenant-1",
		UserID:             userID,
		Status:             status,
		CurrentChatsCount:  current,
		MaxConcurrentChats: max,
	}))
}

// activeChat seeds a chat assigned to sourceAgent, with its originating
// entry in assigned state and the agent's slot held.
func (f *lifecycleFixture) activeChat(t *testing.T, sourceAgent string) *domain.Chat {
	t.Helper()
	ctx := context.Background()
	f.addAgentStatus(t, sourceAgent, domain.AgentAvailable, 1, 3)

	entryID := "entry-1"
	entry := &domain.QueueEntry{
		ID:             entryID,
		QueueID:        "queue-1",
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Status:         domain.EntryStatusAssigned,
		Priority:       domain.DefaultEntryPriority,
	}
	require.NoError(t, f.queues.CreateEntry(ctx, entry))

	chat := &domain.Chat{
		ID:              "chat-1",
		TenantID:        "tenant-1",
		Type:            domain.ChatTypeQueue,
		Status:          domain.ChatStatusActive,
		ConversationID:  "conv-1",
		AssignedAgentID: &sourceAgent,
		QueueEntryID:    &entryID,
	}
	require.NoError(t, f.chats.CreateChat(ctx, chat))
	return chat
}

func TestTransferChat_ToAgent(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentAvailable, 0, 3)
	ctx := context.Background()
	target := "agent-2"

	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToAgentID:     &target,
		Reason:        "needs billing expertise",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "agent-2", *result.Chat.AssignedAgentID)
	require.Len(t, result.Chat.TransferHistory, 1)
	require.Equal(t, domain.TransferToAgent, result.Chat.TransferHistory[0].TargetType)
	require.Equal(t, "agent-1", *result.Chat.TransferHistory[0].FromAgentID)
	require.Equal(t, "needs billing expertise", result.Chat.TransferHistory[0].Reason)

	source, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0, source.CurrentChatsCount, "source slot released")
	targetStatus, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-2")
	require.NoError(t, err)
	require.Equal(t, 1, targetStatus.CurrentChatsCount, "target slot acquired")

	require.Len(t, f.broadcaster.byType(events.EventChatTransferred), 1)
}

func TestTransferChat_TargetAtCapacity(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentBusy, 3, 3)
	target := "agent-2"

	result, err := f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{
		ChatID:    chat.ID,
		ToAgentID: &target,
	})
	require.NoError(t, err, "a full target is a business outcome, not an error")
	require.False(t, result.Success)
	require.Equal(t, "Target agent is at capacity", result.Message)

	// Nothing moved.
	stored, err := f.chats.GetChatByID(context.Background(), "tenant-1", chat.ID)
	require.NoError(t, err)
	require.Equal(t, "agent-1", *stored.AssignedAgentID)
	require.Empty(t, stored.TransferHistory)
}

func TestTransferChat_TargetOffline(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentOffline, 0, 3)
	target := "agent-2"

	result, err := f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{
		ChatID:    chat.ID,
		ToAgentID: &target,
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Target agent is offline", result.Message)
}

func TestTransferChat_BusyTargetWithCapacityAccepts(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	// Away agents keep their slots but still accept explicit transfers as
	// long as capacity remains; only offline is refused outright.
	f.addAgentStatus(t, "agent-2", domain.AgentAway, 1, 3)
	target := "agent-2"

	result, err := f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{
		ChatID:    chat.ID,
		ToAgentID: &target,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestTransferChat_SelfTransfer(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	target := "agent-1"

	result, err := f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{
		ChatID:    chat.ID,
		ToAgentID: &target,
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Chat is already assigned to this agent", result.Message)
}

func TestTransferChat_ValidatesTarget(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	agent := "agent-2"
	queue := "queue-2"

	_, err := f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{ChatID: chat.ID})
	require.Error(t, err, "no target")

	_, err = f.svc.TransferChat(context.Background(), "tenant-1", TransferInput{
		ChatID: chat.ID, ToAgentID: &agent, ToQueueID: &queue,
	})
	require.Error(t, err, "both targets")
}

func TestTransferChat_ClosedChat(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()
	_, err := f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-1")
	require.NoError(t, err)

	target := "agent-2"
	f.addAgentStatus(t, "agent-2", domain.AgentAvailable, 0, 3)
	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{ChatID: chat.ID, ToAgentID: &target})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Chat is not active", result.Message)
}

func TestTransferChat_ToQueue(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()
	require.NoError(t, f.queues.CreateQueue(ctx, &domain.Queue{
		ID: "queue-2", TenantID: "tenant-1", Name: "tier2",
		Strategy: domain.StrategyFIFO, MaxConcurrentChats: 5, IsActive: true,
	}))
	target := "queue-2"

	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToQueueID:     &target,
		Reason:        "escalating to tier 2",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	// The old chat closes, and the conversation waits again at elevated
	// priority.
	require.Equal(t, domain.ChatStatusClosed, result.Chat.Status)
	require.NotNil(t, result.NewEntry)
	require.Equal(t, "queue-2", result.NewEntry.QueueID)
	require.Equal(t, domain.EntryStatusWaiting, result.NewEntry.Status)
	require.Equal(t, domain.TransferEntryPriority, result.NewEntry.Priority)
	require.Equal(t, chat.ConversationID, result.NewEntry.ConversationID)
	require.Equal(t, chat.ID, result.NewEntry.Metadata["transferred_from_chat"])

	source, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0, source.CurrentChatsCount)

	require.Len(t, f.broadcaster.byType(events.EventChatTransferred), 1)
	require.Len(t, f.broadcaster.byType(events.EventQueueEntryCreated), 1)
}

func TestTransferChat_ToInactiveQueue(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()
	require.NoError(t, f.queues.CreateQueue(ctx, &domain.Queue{
		ID: "queue-2", TenantID: "tenant-1", Name: "tier2",
		Strategy: domain.StrategyFIFO, MaxConcurrentChats: 5, IsActive: false,
	}))
	target := "queue-2"

	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{ChatID: chat.ID, ToQueueID: &target})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Target queue is not active", result.Message)

	stored, err := f.chats.GetChatByID(ctx, "tenant-1", chat.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChatStatusActive, stored.Status, "chat stays open on failed transfer")
}

func TestCloseChat(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()

	closed, err := f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.ChatStatusClosed, closed.Status)
	require.Equal(t, "agent-1", *closed.ClosedByID)
	require.NotNil(t, closed.ClosedAt)

	entry, err := f.queues.GetEntryByID(ctx, "tenant-1", "entry-1")
	require.NoError(t, err)
	require.Equal(t, domain.EntryStatusCompleted, entry.Status, "originating entry completes")
	require.NotNil(t, entry.CompletedAt)

	status, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0, status.CurrentChatsCount, "slot released on close")
	require.Equal(t, domain.AgentAvailable, status.Status)

	require.Len(t, f.broadcaster.byType(events.EventChatClosed), 1)
}

func TestCloseChat_FreesSlotForNextAssignment(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()

	// Saturate the agent.
	_, err := f.agents.IncrementActiveChats(ctx, "tenant-1", "agent-1", false)
	require.NoError(t, err)
	_, err = f.agents.IncrementActiveChats(ctx, "tenant-1", "agent-1", false)
	require.NoError(t, err)
	full, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentBusy, full.Status)

	_, err = f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-1")
	require.NoError(t, err)

	after, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, after.CurrentChatsCount)
	require.Equal(t, domain.AgentAvailable, after.Status, "freed capacity makes the agent available again")
}

func TestCloseChat_AlreadyClosed(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()

	_, err := f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-1")
	require.NoError(t, err)

	_, err = f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-1")
	require.Error(t, err)
	require.Equal(t, "INVALID_STATE", apperrors.ToDomainError(err).Code)

	status, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0, status.CurrentChatsCount, "double close never double releases")
}

func TestParticipantTracking(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentAvailable, 0, 3)
	ctx := context.Background()
	require.NoError(t, f.chats.AddParticipant(ctx, &domain.ChatParticipant{
		ID:       "part-1",
		ChatID:   chat.ID,
		TenantID: "tenant-1",
		UserID:   "agent-1",
		Role:     domain.ParticipantRoleAgent,
	}))
	target := "agent-2"

	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToAgentID:     &target,
		Reason:        "handoff",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	participants, err := f.svc.ListParticipants(ctx, "tenant-1", chat.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	byUser := map[string]domain.ChatParticipant{}
	for _, p := range participants {
		byUser[p.UserID] = p
	}
	require.NotNil(t, byUser["agent-1"].LeftAt, "source agent stamped as left")
	require.Nil(t, byUser["agent-2"].LeftAt, "target agent still present")

	_, err = f.svc.CloseChat(ctx, "tenant-1", chat.ID, "agent-2")
	require.NoError(t, err)

	participants, err = f.svc.ListParticipants(ctx, "tenant-1", chat.ID)
	require.NoError(t, err)
	for _, p := range participants {
		require.NotNil(t, p.LeftAt, "all participants left after close")
	}
}

func TestTransferChat_RacesClose(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentAvailable, 0, 3)
	ctx := context.Background()

	// The close commits between TransferChat's read and its write.
	closeFirst := hookTxManager{before: func() {
		closed := *chat
		require.NoError(t, closed.Close("agent-1", time.Now()))
		require.NoError(t, f.chats.CloseChat(ctx, &closed))
		_, err := f.agents.DecrementActiveChats(ctx, "tenant-1", "agent-1")
		require.NoError(t, err)
	}}
	svc := NewChatLifecycleService(LifecycleDependencies{
		QueueRepo:   f.queues,
		ChatRepo:    f.chats,
		AgentRepo:   f.agents,
		Tx:          closeFirst,
		Broadcaster: f.broadcaster,
		Logger:      zap.NewNop(),
	})

	target := "agent-2"
	result, err := svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToAgentID:     &target,
		Reason:        "handoff",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Chat is not active", result.Message)

	stored, err := f.chats.GetChatByID(ctx, "tenant-1", chat.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChatStatusClosed, stored.Status, "committed close survives")
	require.Equal(t, "agent-1", *stored.AssignedAgentID)

	targetStatus, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-2")
	require.NoError(t, err)
	require.Equal(t, 0, targetStatus.CurrentChatsCount, "no slot acquired for a dead transfer")
	source, err := f.agents.GetByUserID(ctx, "tenant-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0, source.CurrentChatsCount, "slot released exactly once")
	require.Empty(t, f.broadcaster.byType(events.EventChatTransferred))
}

func TestTransferChat_RacesConcurrentTransfer(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	f.addAgentStatus(t, "agent-2", domain.AgentAvailable, 0, 3)
	f.addAgentStatus(t, "agent-3", domain.AgentAvailable, 0, 3)
	ctx := context.Background()

	// Another transfer moves the chat to agent-3 first.
	other := "agent-3"
	stealFirst := hookTxManager{before: func() {
		moved := *chat
		moved.AssignedAgentID = &other
		require.NoError(t, f.chats.ReassignChat(ctx, &moved, chat.AssignedAgentID))
	}}
	svc := NewChatLifecycleService(LifecycleDependencies{
		QueueRepo:   f.queues,
		ChatRepo:    f.chats,
		AgentRepo:   f.agents,
		Tx:          stealFirst,
		Broadcaster: f.broadcaster,
		Logger:      zap.NewNop(),
	})

	target := "agent-2"
	result, err := svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToAgentID:     &target,
		Reason:        "handoff",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Chat is not active", result.Message)

	stored, err := f.chats.GetChatByID(ctx, "tenant-1", chat.ID)
	require.NoError(t, err)
	require.Equal(t, "agent-3", *stored.AssignedAgentID, "first transfer wins")
}

func TestGetConversationHistory(t *testing.T) {
	f := newLifecycleFixture(t)
	chat := f.activeChat(t, "agent-1")
	ctx := context.Background()
	require.NoError(t, f.queues.CreateQueue(ctx, &domain.Queue{
		ID: "queue-2", TenantID: "tenant-1", Name: "tier2",
		Strategy: domain.StrategyFIFO, MaxConcurrentChats: 5, IsActive: true,
	}))
	target := "queue-2"

	result, err := f.svc.TransferChat(ctx, "tenant-1", TransferInput{
		ChatID:        chat.ID,
		ToQueueID:     &target,
		Reason:        "tier 2",
		InitiatedByID: "agent-1",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	history, err := f.svc.GetConversationHistory(ctx, "tenant-1", chat.ConversationID)
	require.NoError(t, err)
	require.Len(t, history.Entries, 2, "original entry plus the transfer entry")
	require.Len(t, history.Chats, 1)
	require.Equal(t, chat.ID, history.Chats[0].ID)
	require.Equal(t, domain.ChatStatusClosed, history.Chats[0].Status)

	history, err = f.svc.GetConversationHistory(ctx, "tenant-1", "conv-unknown")
	require.NoError(t, err)
	require.Empty(t, history.Entries)
	require.Empty(t, history.Chats)
}
