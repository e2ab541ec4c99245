package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// QueueRepository encapsulates queue, member, and entry persistence.
type QueueRepository interface {
	CreateQueue(ctx context.Context, queue *domain.Queue) error
	UpdateQueue(ctx context.Context, queue *domain.Queue) error
	GetQueueByID(ctx context.Context, tenantID, id string) (*domain.Queue, error)
	ListQueuesByTenant(ctx context.Context, tenantID string) ([]domain.Queue, error)
	ListActiveQueues(ctx context.Context) ([]domain.Queue, error)
	SoftDeleteQueue(ctx context.Context, tenantID, id string) error
	SetLastAssignedAgent(ctx context.Context, tenantID, queueID string, agentID *string) error

	AddMember(ctx context.Context, member *domain.QueueMember) error
	UpdateMember(ctx context.Context, member *domain.QueueMember) error
	RemoveMember(ctx context.Context, tenantID, queueID, userID string) error
	ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error)

	CreateEntry(ctx context.Context, entry *domain.QueueEntry) error
	UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error
	GetEntryByID(ctx context.Context, tenantID, id string) (*domain.QueueEntry, error)
	ListEntriesByQueue(ctx context.Context, tenantID, queueID string, status *domain.QueueEntryStatus) ([]domain.QueueEntry, error)
	FindEntriesByConversation(ctx context.Context, tenantID, conversationID string) ([]domain.QueueEntry, error)
	ClaimEntry(ctx context.Context, entry *domain.QueueEntry) error
	TimeoutEntry(ctx context.Context, entry *domain.QueueEntry) error
	CompleteEntry(ctx context.Context, entry *domain.QueueEntry) error
	EscalateEntry(ctx context.Context, entry *domain.QueueEntry) error
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository instantiates repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

const queueColumns = `id, tenant_id, name, description, strategy, max_concurrent_chats,
       max_wait_time_seconds, skills, auto_assign, is_active, last_assigned_agent_id,
       created_at, updated_at, deleted_at`

func (r *queueRepository) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	const query = `
        INSERT INTO queues (id, tenant_id, name, description, strategy, max_concurrent_chats,
            max_wait_time_seconds, skills, auto_assign, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		queue.ID,
		queue.TenantID,
		queue.Name,
		queue.Description,
		queue.Strategy,
		queue.MaxConcurrentChats,
		queue.MaxWaitTimeSeconds,
		queue.Skills,
		queue.AutoAssign,
		queue.IsActive,
	).Scan(&queue.CreatedAt, &queue.UpdatedAt)
}

func (r *queueRepository) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	const query = `
        UPDATE queues SET name=$1, description=$2, strategy=$3, max_concurrent_chats=$4,
            max_wait_time_seconds=$5, skills=$6, auto_assign=$7, is_active=$8, updated_at=NOW()
        WHERE id=$9 AND tenant_id=$10 AND deleted_at IS NULL`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		queue.Name,
		queue.Description,
		queue.Strategy,
		queue.MaxConcurrentChats,
		queue.MaxWaitTimeSeconds,
		queue.Skills,
		queue.AutoAssign,
		queue.IsActive,
		queue.ID,
		queue.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *queueRepository) GetQueueByID(ctx context.Context, tenantID, id string) (*domain.Queue, error) {
	query := fmt.Sprintf(`SELECT %s FROM queues WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`, queueColumns)
	return r.fetchQueue(ctx, query, id, tenantID)
}

func (r *queueRepository) ListQueuesByTenant(ctx context.Context, tenantID string) ([]domain.Queue, error) {
	query := fmt.Sprintf(`SELECT %s FROM queues WHERE tenant_id=$1 AND deleted_at IS NULL ORDER BY created_at`, queueColumns)
	rows, err := conn(ctx, r.pool).Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueues(rows)
}

func (r *queueRepository) ListActiveQueues(ctx context.Context) ([]domain.Queue, error) {
	query := fmt.Sprintf(`SELECT %s FROM queues WHERE is_active AND deleted_at IS NULL ORDER BY tenant_id, created_at`, queueColumns)
	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueues(rows)
}

// SoftDeleteQueue deactivates a queue; entries keep referencing it.
func (r *queueRepository) SoftDeleteQueue(ctx context.Context, tenantID, id string) error {
	const query = `
        UPDATE queues SET is_active=false, deleted_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, id, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetLastAssignedAgent persists the round-robin cursor.
func (r *queueRepository) SetLastAssignedAgent(ctx context.Context, tenantID, queueID string, agentID *string) error {
	const query = `UPDATE queues SET last_assigned_agent_id=$1, updated_at=NOW() WHERE id=$2 AND tenant_id=$3`
	_, err := conn(ctx, r.pool).Exec(ctx, query, agentID, queueID, tenantID)
	return err
}

func (r *queueRepository) fetchQueue(ctx context.Context, query string, args ...any) (*domain.Queue, error) {
	var queue domain.Queue
	if err := conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(
		&queue.ID,
		&queue.TenantID,
		&queue.Name,
		&queue.Description,
		&queue.Strategy,
		&queue.MaxConcurrentChats,
		&queue.MaxWaitTimeSeconds,
		&queue.Skills,
		&queue.AutoAssign,
		&queue.IsActive,
		&queue.LastAssignedAgentID,
		&queue.CreatedAt,
		&queue.UpdatedAt,
		&queue.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &queue, nil
}

func scanQueues(rows pgx.Rows) ([]domain.Queue, error) {
	var result []domain.Queue
	for rows.Next() {
		var queue domain.Queue
		if err := rows.Scan(
			&queue.ID,
			&queue.TenantID,
			&queue.Name,
			&queue.Description,
			&queue.Strategy,
			&queue.MaxConcurrentChats,
			&queue.MaxWaitTimeSeconds,
			&queue.Skills,
			&queue.AutoAssign,
			&queue.IsActive,
			&queue.LastAssignedAgentID,
			&queue.CreatedAt,
			&queue.UpdatedAt,
			&queue.DeletedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, queue)
	}
	return result, rows.Err()
}

func (r *queueRepository) AddMember(ctx context.Context, member *domain.QueueMember) error {
	const query = `
        INSERT INTO queue_members (id, queue_id, tenant_id, user_id, skills, priority, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING joined_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		member.ID,
		member.QueueID,
		member.TenantID,
		member.UserID,
		member.Skills,
		member.Priority,
		member.IsActive,
	).Scan(&member.JoinedAt)
}

func (r *queueRepository) UpdateMember(ctx context.Context, member *domain.QueueMember) error {
	const query = `
        UPDATE queue_members SET skills=$1, priority=$2, is_active=$3
        WHERE queue_id=$4 AND user_id=$5 AND tenant_id=$6`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		member.Skills,
		member.Priority,
		member.IsActive,
		member.QueueID,
		member.UserID,
		member.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *queueRepository) RemoveMember(ctx context.Context, tenantID, queueID, userID string) error {
	const query = `DELETE FROM queue_members WHERE queue_id=$1 AND user_id=$2 AND tenant_id=$3`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, queueID, userID, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListMembers returns members in join order; the distribution strategies
// depend on this order being stable.
func (r *queueRepository) ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	const query = `
        SELECT id, queue_id, tenant_id, user_id, skills, priority, is_active, joined_at
        FROM queue_members WHERE queue_id=$1 AND tenant_id=$2 ORDER BY joined_at, id`
	rows, err := conn(ctx, r.pool).Query(ctx, query, queueID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueMember
	for rows.Next() {
		var member domain.QueueMember
		if err := rows.Scan(
			&member.ID,
			&member.QueueID,
			&member.TenantID,
			&member.UserID,
			&member.Skills,
			&member.Priority,
			&member.IsActive,
			&member.JoinedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

const entryColumns = `id, queue_id, tenant_id, conversation_id, customer_id, customer_name,
       status, priority, wait_started_at, wait_ended_at, assigned_agent_id, assigned_at,
       chat_id, completed_at, sla_exceeded, escalated, escalated_at, metadata,
       created_at, updated_at`

func (r *queueRepository) CreateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        INSERT INTO queue_entries (id, queue_id, tenant_id, conversation_id, customer_id,
            customer_name, status, priority, wait_started_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		entry.ID,
		entry.QueueID,
		entry.TenantID,
		entry.ConversationID,
		entry.CustomerID,
		entry.CustomerName,
		entry.Status,
		entry.Priority,
		entry.WaitStartedAt,
		entry.Metadata,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
}

func (r *queueRepository) UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        UPDATE queue_entries SET status=$1, priority=$2, wait_ended_at=$3, assigned_agent_id=$4,
            assigned_at=$5, chat_id=$6, completed_at=$7, sla_exceeded=$8, escalated=$9,
            escalated_at=$10, metadata=$11, updated_at=NOW()
        WHERE id=$12 AND tenant_id=$13`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		entry.Status,
		entry.Priority,
		entry.WaitEndedAt,
		entry.AssignedAgentID,
		entry.AssignedAt,
		entry.ChatID,
		entry.CompletedAt,
		entry.SLAExceeded,
		entry.Escalated,
		entry.EscalatedAt,
		entry.Metadata,
		entry.ID,
		entry.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *queueRepository) GetEntryByID(ctx context.Context, tenantID, id string) (*domain.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE id=$1 AND tenant_id=$2`, entryColumns)
	var entry domain.QueueEntry
	if err := scanEntry(conn(ctx, r.pool).QueryRow(ctx, query, id, tenantID), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntriesByQueue orders waiting work by priority (desc) then arrival so
// callers can treat the head as next-up.
func (r *queueRepository) ListEntriesByQueue(ctx context.Context, tenantID, queueID string, status *domain.QueueEntryStatus) ([]domain.QueueEntry, error) {
	clauses := []string{"queue_id=$1", "tenant_id=$2"}
	args := []any{queueID, tenantID}
	if status != nil {
		args = append(args, *status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE %s ORDER BY priority DESC, wait_started_at`,
		entryColumns, strings.Join(clauses, " AND "))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *queueRepository) FindEntriesByConversation(ctx context.Context, tenantID, conversationID string) ([]domain.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE conversation_id=$1 AND tenant_id=$2 ORDER BY created_at`, entryColumns)
	rows, err := conn(ctx, r.pool).Query(ctx, query, conversationID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ClaimEntry performs the compare-and-swap waiting->assigned transition. A
// zero-row result means another writer claimed the entry first.
func (r *queueRepository) ClaimEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        UPDATE queue_entries SET status='assigned', assigned_agent_id=$1, assigned_at=$2,
            chat_id=$3, wait_ended_at=$4, updated_at=NOW()
        WHERE id=$5 AND tenant_id=$6 AND status='waiting'`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		entry.AssignedAgentID,
		entry.AssignedAt,
		entry.ChatID,
		entry.WaitEndedAt,
		entry.ID,
		entry.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// TimeoutEntry transitions waiting->timeout with the same CAS guard.
func (r *queueRepository) TimeoutEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        UPDATE queue_entries SET status='timeout', wait_ended_at=$1, updated_at=NOW()
        WHERE id=$2 AND tenant_id=$3 AND status='waiting'`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, entry.WaitEndedAt, entry.ID, entry.TenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// CompleteEntry finishes an assigned or in-progress entry.
func (r *queueRepository) CompleteEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        UPDATE queue_entries SET status='completed', completed_at=$1, updated_at=NOW()
        WHERE id=$2 AND tenant_id=$3 AND status IN ('assigned','in_progress')`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, entry.CompletedAt, entry.ID, entry.TenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// EscalateEntry applies the one-way SLA breach flags. The escalated guard in
// the predicate makes redundant sweeps no-ops.
func (r *queueRepository) EscalateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	const query = `
        UPDATE queue_entries SET sla_exceeded=true, escalated=true, escalated_at=$1,
            priority=LEAST(priority+1, $2), updated_at=NOW()
        WHERE id=$3 AND tenant_id=$4 AND status='waiting' AND NOT escalated`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		entry.EscalatedAt,
		domain.MaxEntryPriority,
		entry.ID,
		entry.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func scanEntry(row pgx.Row, entry *domain.QueueEntry) error {
	return row.Scan(
		&entry.ID,
		&entry.QueueID,
		&entry.TenantID,
		&entry.ConversationID,
		&entry.CustomerID,
		&entry.CustomerName,
		&entry.Status,
		&entry.Priority,
		&entry.WaitStartedAt,
		&entry.WaitEndedAt,
		&entry.AssignedAgentID,
		&entry.AssignedAt,
		&entry.ChatID,
		&entry.CompletedAt,
		&entry.SLAExceeded,
		&entry.Escalated,
		&entry.EscalatedAt,
		&entry.Metadata,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
}

func scanEntries(rows pgx.Rows) ([]domain.QueueEntry, error) {
	var result []domain.QueueEntry
	for rows.Next() {
		var entry domain.QueueEntry
		if err := scanEntry(rows, &entry); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
