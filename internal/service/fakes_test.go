package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
)

// The fakes below mirror the conditional-update semantics of the SQL
// repositories: state-changing operations check the stored row's status
// under a lock and report repository.ErrConflict when the guard fails.

type fakeQueueRepo struct {
	mu      sync.Mutex
	queues  map[string]*domain.Queue
	members map[string][]*domain.QueueMember
	entries map[string]*domain.QueueEntry
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{
		queues:  make(map[string]*domain.Queue),
		members: make(map[string][]*domain.QueueMember),
		entries: make(map[string]*domain.QueueEntry),
	}
}

func copyQueue(q *domain.Queue) *domain.Queue {
	cp := *q
	return &cp
}

func copyEntry(e *domain.QueueEntry) *domain.QueueEntry {
	cp := *e
	return &cp
}

func (r *fakeQueueRepo) CreateQueue(_ context.Context, queue *domain.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue.CreatedAt.IsZero() {
		queue.CreatedAt = time.Now()
		queue.UpdatedAt = queue.CreatedAt
	}
	r.queues[queue.ID] = copyQueue(queue)
	return nil
}

func (r *fakeQueueRepo) UpdateQueue(_ context.Context, queue *domain.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[queue.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.queues[queue.ID] = copyQueue(queue)
	return nil
}

func (r *fakeQueueRepo) GetQueueByID(_ context.Context, tenantID, id string) (*domain.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.queues[id]
	if !ok || queue.TenantID != tenantID || queue.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	return copyQueue(queue), nil
}

func (r *fakeQueueRepo) ListQueuesByTenant(_ context.Context, tenantID string) ([]domain.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Queue
	for _, q := range r.queues {
		if q.TenantID == tenantID && q.DeletedAt == nil {
			out = append(out, *copyQueue(q))
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) ListActiveQueues(_ context.Context) ([]domain.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Queue
	for _, q := range r.queues {
		if q.IsActive && q.DeletedAt == nil {
			out = append(out, *copyQueue(q))
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) SoftDeleteQueue(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.queues[id]
	if !ok || queue.TenantID != tenantID || queue.DeletedAt != nil {
		return pgx.ErrNoRows
	}
	now := time.Now()
	queue.DeletedAt = &now
	queue.IsActive = false
	return nil
}

func (r *fakeQueueRepo) SetLastAssignedAgent(_ context.Context, tenantID, queueID string, agentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.queues[queueID]
	if !ok || queue.TenantID != tenantID {
		return pgx.ErrNoRows
	}
	queue.LastAssignedAgentID = agentID
	return nil
}

func (r *fakeQueueRepo) AddMember(_ context.Context, member *domain.QueueMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *member
	r.members[member.QueueID] = append(r.members[member.QueueID], &cp)
	return nil
}

func (r *fakeQueueRepo) UpdateMember(_ context.Context, member *domain.QueueMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members[member.QueueID] {
		if m.UserID == member.UserID {
			cp := *member
			r.members[member.QueueID][i] = &cp
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeQueueRepo) RemoveMember(_ context.Context, tenantID, queueID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.members[queueID]
	for i, m := range members {
		if m.TenantID == tenantID && m.UserID == userID {
			r.members[queueID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeQueueRepo) ListMembers(_ context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.QueueMember
	for _, m := range r.members[queueID] {
		if m.TenantID == tenantID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) CreateEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
		entry.UpdatedAt = entry.CreatedAt
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *fakeQueueRepo) UpdateEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *fakeQueueRepo) GetEntryByID(_ context.Context, tenantID, id string) (*domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	return copyEntry(entry), nil
}

func (r *fakeQueueRepo) ListEntriesByQueue(_ context.Context, tenantID, queueID string, status *domain.QueueEntryStatus) ([]domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.QueueEntry
	for _, e := range r.entries {
		if e.TenantID != tenantID || e.QueueID != queueID {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		out = append(out, *copyEntry(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].WaitStartedAt.Before(out[j].WaitStartedAt)
	})
	return out, nil
}

func (r *fakeQueueRepo) FindEntriesByConversation(_ context.Context, tenantID, conversationID string) ([]domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.QueueEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.ConversationID == conversationID {
			out = append(out, *copyEntry(e))
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) ClaimEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[entry.ID]
	if !ok || stored.Status != domain.EntryStatusWaiting {
		return repository.ErrConflict
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *fakeQueueRepo) TimeoutEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[entry.ID]
	if !ok || stored.Status != domain.EntryStatusWaiting {
		return repository.ErrConflict
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *fakeQueueRepo) CompleteEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[entry.ID]
	if !ok {
		return repository.ErrConflict
	}
	if stored.Status != domain.EntryStatusAssigned && stored.Status != domain.EntryStatusInProgress {
		return repository.ErrConflict
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *fakeQueueRepo) EscalateEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[entry.ID]
	if !ok || stored.Status != domain.EntryStatusWaiting || stored.Escalated {
		return repository.ErrConflict
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

type fakeAgentRepo struct {
	mu       sync.Mutex
	statuses map[string]*domain.AgentStatus
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{statuses: make(map[string]*domain.AgentStatus)}
}

func agentKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func copyStatus(s *domain.AgentStatus) *domain.AgentStatus {
	cp := *s
	return &cp
}

func (r *fakeAgentRepo) Upsert(_ context.Context, status *domain.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := agentKey(status.TenantID, status.UserID)
	if existing, ok := r.statuses[key]; ok {
		existing.Status = status.Status
		existing.MaxConcurrentChats = status.MaxConcurrentChats
		existing.LastActivityAt = time.Now()
		*status = *existing
		return nil
	}
	status.LastActivityAt = time.Now()
	r.statuses[key] = copyStatus(status)
	return nil
}

func (r *fakeAgentRepo) GetByUserID(_ context.Context, tenantID, userID string) (*domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[agentKey(tenantID, userID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyStatus(status), nil
}

func (r *fakeAgentRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AgentStatus
	for _, s := range r.statuses {
		if s.TenantID == tenantID {
			out = append(out, *copyStatus(s))
		}
	}
	return out, nil
}

func (r *fakeAgentRepo) ListByStatus(_ context.Context, tenantID string, status domain.AgentAvailability) ([]domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AgentStatus
	for _, s := range r.statuses {
		if s.TenantID == tenantID && s.Status == status {
			out = append(out, *copyStatus(s))
		}
	}
	return out, nil
}

func (r *fakeAgentRepo) ListAvailable(_ context.Context, tenantID string) ([]domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AgentStatus
	for _, s := range r.statuses {
		if s.TenantID == tenantID && s.CanAcceptChat() {
			out = append(out, *copyStatus(s))
		}
	}
	return out, nil
}

func (r *fakeAgentRepo) SetAvailability(_ context.Context, tenantID, userID string, status domain.AgentAvailability) (*domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.statuses[agentKey(tenantID, userID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	stored.Status = status
	stored.Recompute()
	stored.LastActivityAt = time.Now()
	return copyStatus(stored), nil
}

func (r *fakeAgentRepo) IncrementActiveChats(_ context.Context, tenantID, userID string, requireAvailable bool) (*domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.statuses[agentKey(tenantID, userID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if stored.Status == domain.AgentOffline {
		return nil, repository.ErrConflict
	}
	if requireAvailable && stored.Status != domain.AgentAvailable {
		return nil, repository.ErrConflict
	}
	if !stored.HasCapacity() {
		return nil, repository.ErrConflict
	}
	stored.CurrentChatsCount++
	stored.Recompute()
	stored.LastActivityAt = time.Now()
	return copyStatus(stored), nil
}

func (r *fakeAgentRepo) DecrementActiveChats(_ context.Context, tenantID, userID string) (*domain.AgentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.statuses[agentKey(tenantID, userID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if stored.CurrentChatsCount > 0 {
		stored.CurrentChatsCount--
	}
	stored.Recompute()
	return copyStatus(stored), nil
}

type fakeChatRepo struct {
	mu           sync.Mutex
	chats        map[string]*domain.Chat
	transfers    map[string][]domain.TransferRecord
	participants map[string][]domain.ChatParticipant
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		chats:        make(map[string]*domain.Chat),
		transfers:    make(map[string][]domain.TransferRecord),
		participants: make(map[string][]domain.ChatParticipant),
	}
}

func (r *fakeChatRepo) copyChat(chat *domain.Chat) *domain.Chat {
	cp := *chat
	cp.TransferHistory = append([]domain.TransferRecord{}, r.transfers[chat.ID]...)
	return &cp
}

func (r *fakeChatRepo) CreateChat(_ context.Context, chat *domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
		chat.UpdatedAt = chat.CreatedAt
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeChatRepo) ReassignChat(_ context.Context, chat *domain.Chat, fromAgentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.chats[chat.ID]
	if !ok || stored.TenantID != chat.TenantID ||
		stored.Status != domain.ChatStatusActive ||
		!sameAgentID(stored.AssignedAgentID, fromAgentID) {
		return repository.ErrConflict
	}
	stored.AssignedAgentID = chat.AssignedAgentID
	return nil
}

func sameAgentID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *fakeChatRepo) GetChatByID(_ context.Context, tenantID, id string) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok || chat.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	return r.copyChat(chat), nil
}

func (r *fakeChatRepo) ListChatsByAgent(_ context.Context, tenantID, agentID string, activeOnly bool) ([]domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chat
	for _, c := range r.chats {
		if c.TenantID != tenantID || c.AssignedAgentID == nil || *c.AssignedAgentID != agentID {
			continue
		}
		if activeOnly && c.Status != domain.ChatStatusActive {
			continue
		}
		out = append(out, *r.copyChat(c))
	}
	return out, nil
}

func (r *fakeChatRepo) ListChatsByConversation(_ context.Context, tenantID, conversationID string) ([]domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chat
	for _, c := range r.chats {
		if c.TenantID == tenantID && c.ConversationID == conversationID {
			out = append(out, *r.copyChat(c))
		}
	}
	return out, nil
}

func (r *fakeChatRepo) CloseChat(_ context.Context, chat *domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.chats[chat.ID]
	if !ok || stored.Status == domain.ChatStatusClosed {
		return repository.ErrConflict
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeChatRepo) AppendTransfer(_ context.Context, record *domain.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.transfers[record.ChatID] = append(r.transfers[record.ChatID], *record)
	return nil
}

func (r *fakeChatRepo) ListTransfers(_ context.Context, tenantID, chatID string) ([]domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TransferRecord{}, r.transfers[chatID]...), nil
}

func (r *fakeChatRepo) AddParticipant(_ context.Context, participant *domain.ChatParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now()
	}
	r.participants[participant.ChatID] = append(r.participants[participant.ChatID], *participant)
	return nil
}

func (r *fakeChatRepo) MarkParticipantLeft(_ context.Context, tenantID, chatID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.participants[chatID]
	for i := range list {
		if list[i].TenantID == tenantID && list[i].UserID == userID && list[i].LeftAt == nil {
			now := time.Now()
			list[i].LeftAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeChatRepo) ListParticipants(_ context.Context, tenantID, chatID string) ([]domain.ChatParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatParticipant
	for _, p := range r.participants[chatID] {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

// passTxManager runs the function directly; the fakes are transactional per
// operation, which is enough for conflict-path testing.
type passTxManager struct{}

func (passTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// hookTxManager runs a callback before the transactional function, standing
// in for work another connection commits between a read and the write.
type hookTxManager struct {
	before func()
}

func (m hookTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.before != nil {
		m.before()
	}
	return fn(ctx)
}

// recordingBroadcaster captures published events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBroadcaster) Publish(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) Close() error { return nil }

func (b *recordingBroadcaster) byType(eventType events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
