package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitingEntry() *QueueEntry {
	return &QueueEntry{
		ID:             "entry-1",
		QueueID:        "queue-1",
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Status:         EntryStatusWaiting,
		Priority:       DefaultEntryPriority,
		WaitStartedAt:  time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestQueueEntry_Transitions(t *testing.T) {
	cases := []struct {
		from    QueueEntryStatus
		to      QueueEntryStatus
		allowed bool
	}{
		{EntryStatusWaiting, EntryStatusAssigned, true},
		{EntryStatusWaiting, EntryStatusCancelled, true},
		{EntryStatusWaiting, EntryStatusTimeout, true},
		{EntryStatusWaiting, EntryStatusCompleted, false},
		{EntryStatusAssigned, EntryStatusInProgress, true},
		{EntryStatusAssigned, EntryStatusCompleted, true},
		{EntryStatusAssigned, EntryStatusWaiting, false},
		{EntryStatusInProgress, EntryStatusCompleted, true},
		{EntryStatusCompleted, EntryStatusWaiting, false},
		{EntryStatusTimeout, EntryStatusAssigned, false},
		{EntryStatusCancelled, EntryStatusAssigned, false},
	}
	for _, tc := range cases {
		entry := waitingEntry()
		entry.Status = tc.from
		require.Equal(t, tc.allowed, entry.CanTransitionTo(tc.to),
			"transition %s -> %s", tc.from, tc.to)
	}
}

func TestQueueEntry_MarkAssigned(t *testing.T) {
	entry := waitingEntry()
	now := entry.WaitStartedAt.Add(42 * time.Second)

	err := entry.MarkAssigned("agent-1", "chat-1", now)
	require.NoError(t, err)
	require.Equal(t, EntryStatusAssigned, entry.Status)
	require.Equal(t, "agent-1", *entry.AssignedAgentID)
	require.Equal(t, "chat-1", *entry.ChatID)
	require.Equal(t, now, *entry.AssignedAt)
	require.Equal(t, now, *entry.WaitEndedAt)

	err = entry.MarkAssigned("agent-2", "chat-2", now)
	require.Error(t, err, "assigning an already assigned entry must fail")
	require.Equal(t, "agent-1", *entry.AssignedAgentID, "original assignee must survive")
}

func TestQueueEntry_MarkTimeout(t *testing.T) {
	entry := waitingEntry()
	now := entry.WaitStartedAt.Add(5 * time.Minute)

	require.NoError(t, entry.MarkTimeout(now))
	require.Equal(t, EntryStatusTimeout, entry.Status)
	require.Equal(t, now, *entry.WaitEndedAt)

	require.Error(t, entry.MarkTimeout(now), "timeout is terminal")
}

func TestQueueEntry_MarkEscalated_IdempotentAndCapped(t *testing.T) {
	entry := waitingEntry()
	now := entry.WaitStartedAt.Add(6 * time.Minute)

	require.True(t, entry.MarkEscalated(now))
	require.True(t, entry.SLAExceeded)
	require.True(t, entry.Escalated)
	require.Equal(t, DefaultEntryPriority+1, entry.Priority)
	firstEscalatedAt := *entry.EscalatedAt

	// A second escalation must not mutate anything.
	require.False(t, entry.MarkEscalated(now.Add(time.Minute)))
	require.Equal(t, DefaultEntryPriority+1, entry.Priority)
	require.Equal(t, firstEscalatedAt, *entry.EscalatedAt)

	capped := waitingEntry()
	capped.Priority = MaxEntryPriority
	require.True(t, capped.MarkEscalated(now))
	require.Equal(t, MaxEntryPriority, capped.Priority, "priority bump is capped")
}

func TestQueueEntry_WaitDuration(t *testing.T) {
	entry := waitingEntry()
	now := entry.WaitStartedAt.Add(90 * time.Second)
	require.Equal(t, 90*time.Second, entry.WaitDuration(now))

	ended := entry.WaitStartedAt.Add(30 * time.Second)
	entry.WaitEndedAt = &ended
	require.Equal(t, 30*time.Second, entry.WaitDuration(now),
		"a resolved entry's wait is frozen at its end time")
}
