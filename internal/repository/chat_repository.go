package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// ChatRepository encapsulates chat, participant, and transfer-log persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	ReassignChat(ctx context.Context, chat *domain.Chat, fromAgentID *string) error
	GetChatByID(ctx context.Context, tenantID, id string) (*domain.Chat, error)
	ListChatsByAgent(ctx context.Context, tenantID, agentID string, activeOnly bool) ([]domain.Chat, error)
	ListChatsByConversation(ctx context.Context, tenantID, conversationID string) ([]domain.Chat, error)
	CloseChat(ctx context.Context, chat *domain.Chat) error

	AppendTransfer(ctx context.Context, record *domain.TransferRecord) error
	ListTransfers(ctx context.Context, tenantID, chatID string) ([]domain.TransferRecord, error)

	AddParticipant(ctx context.Context, participant *domain.ChatParticipant) error
	MarkParticipantLeft(ctx context.Context, tenantID, chatID, userID string) error
	ListParticipants(ctx context.Context, tenantID, chatID string) ([]domain.ChatParticipant, error)
}

type chatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository instantiates repository.
func NewChatRepository(pool *pgxpool.Pool) ChatRepository {
	return &chatRepository{pool: pool}
}

const chatColumns = `id, tenant_id, type, status, conversation_id, assigned_agent_id,
       queue_entry_id, created_at, updated_at, closed_at, closed_by_id`

func (r *chatRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	const query = `
        INSERT INTO chats (id, tenant_id, type, status, conversation_id, assigned_agent_id, queue_entry_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		chat.ID,
		chat.TenantID,
		chat.Type,
		chat.Status,
		chat.ConversationID,
		chat.AssignedAgentID,
		chat.QueueEntryID,
	).Scan(&chat.CreatedAt, &chat.UpdatedAt)
}

// ReassignChat moves an active chat to another agent. The predicate pins the
// expected current assignee so a racing close or concurrent transfer loses
// cleanly instead of writing a stale snapshot back.
func (r *chatRepository) ReassignChat(ctx context.Context, chat *domain.Chat, fromAgentID *string) error {
	const query = `
        UPDATE chats SET assigned_agent_id=$1, updated_at=NOW()
        WHERE id=$2 AND tenant_id=$3 AND status='active'
          AND assigned_agent_id IS NOT DISTINCT FROM $4`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		chat.AssignedAgentID,
		chat.ID,
		chat.TenantID,
		fromAgentID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// GetChatByID loads the chat together with its transfer history.
func (r *chatRepository) GetChatByID(ctx context.Context, tenantID, id string) (*domain.Chat, error) {
	const query = `SELECT ` + chatColumns + ` FROM chats WHERE id=$1 AND tenant_id=$2`
	var chat domain.Chat
	if err := scanChat(conn(ctx, r.pool).QueryRow(ctx, query, id, tenantID), &chat); err != nil {
		return nil, err
	}
	history, err := r.ListTransfers(ctx, tenantID, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.TransferHistory = history
	return &chat, nil
}

func (r *chatRepository) ListChatsByAgent(ctx context.Context, tenantID, agentID string, activeOnly bool) ([]domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE tenant_id=$1 AND assigned_agent_id=$2`
	if activeOnly {
		query += ` AND status='active'`
	}
	query += ` ORDER BY created_at DESC`
	return r.list(ctx, query, tenantID, agentID)
}

func (r *chatRepository) ListChatsByConversation(ctx context.Context, tenantID, conversationID string) ([]domain.Chat, error) {
	const query = `SELECT ` + chatColumns + ` FROM chats WHERE tenant_id=$1 AND conversation_id=$2 ORDER BY created_at`
	return r.list(ctx, query, tenantID, conversationID)
}

// CloseChat performs the active->closed transition with a CAS guard so a chat
// can only be closed once.
func (r *chatRepository) CloseChat(ctx context.Context, chat *domain.Chat) error {
	const query = `
        UPDATE chats SET status='closed', closed_at=$1, closed_by_id=$2, updated_at=NOW()
        WHERE id=$3 AND tenant_id=$4 AND status <> 'closed'`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		chat.ClosedAt,
		chat.ClosedByID,
		chat.ID,
		chat.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// AppendTransfer writes one immutable transfer-log record. There is no
// update or delete path for these rows.
func (r *chatRepository) AppendTransfer(ctx context.Context, record *domain.TransferRecord) error {
	const query = `
        INSERT INTO transfer_records (id, chat_id, tenant_id, target_type, from_agent_id, to_agent_id, to_queue_id, reason)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		record.ID,
		record.ChatID,
		record.TenantID,
		record.TargetType,
		record.FromAgentID,
		record.ToAgentID,
		record.ToQueueID,
		record.Reason,
	).Scan(&record.CreatedAt)
}

func (r *chatRepository) ListTransfers(ctx context.Context, tenantID, chatID string) ([]domain.TransferRecord, error) {
	const query = `
        SELECT id, chat_id, tenant_id, target_type, from_agent_id, to_agent_id, to_queue_id, reason, created_at
        FROM transfer_records WHERE chat_id=$1 AND tenant_id=$2 ORDER BY created_at, id`
	rows, err := conn(ctx, r.pool).Query(ctx, query, chatID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TransferRecord
	for rows.Next() {
		var record domain.TransferRecord
		if err := rows.Scan(
			&record.ID,
			&record.ChatID,
			&record.TenantID,
			&record.TargetType,
			&record.FromAgentID,
			&record.ToAgentID,
			&record.ToQueueID,
			&record.Reason,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (r *chatRepository) AddParticipant(ctx context.Context, participant *domain.ChatParticipant) error {
	const query = `
        INSERT INTO chat_participants (id, chat_id, tenant_id, user_id, role)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING joined_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		participant.ID,
		participant.ChatID,
		participant.TenantID,
		participant.UserID,
		participant.Role,
	).Scan(&participant.JoinedAt)
}

func (r *chatRepository) MarkParticipantLeft(ctx context.Context, tenantID, chatID, userID string) error {
	const query = `
        UPDATE chat_participants SET left_at=NOW()
        WHERE chat_id=$1 AND user_id=$2 AND tenant_id=$3 AND left_at IS NULL`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, chatID, userID, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *chatRepository) ListParticipants(ctx context.Context, tenantID, chatID string) ([]domain.ChatParticipant, error) {
	const query = `
        SELECT id, chat_id, tenant_id, user_id, role, joined_at, left_at
        FROM chat_participants WHERE chat_id=$1 AND tenant_id=$2 ORDER BY joined_at`
	rows, err := conn(ctx, r.pool).Query(ctx, query, chatID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatParticipant
	for rows.Next() {
		var participant domain.ChatParticipant
		if err := rows.Scan(
			&participant.ID,
			&participant.ChatID,
			&participant.TenantID,
			&participant.UserID,
			&participant.Role,
			&participant.JoinedAt,
			&participant.LeftAt,
		); err != nil {
			return nil, err
		}
		result = append(result, participant)
	}
	return result, rows.Err()
}

func scanChat(row pgx.Row, chat *domain.Chat) error {
	return row.Scan(
		&chat.ID,
		&chat.TenantID,
		&chat.Type,
		&chat.Status,
		&chat.ConversationID,
		&chat.AssignedAgentID,
		&chat.QueueEntryID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
		&chat.ClosedAt,
		&chat.ClosedByID,
	)
}

func (r *chatRepository) list(ctx context.Context, query string, args ...any) ([]domain.Chat, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Chat
	for rows.Next() {
		var chat domain.Chat
		if err := scanChat(rows, &chat); err != nil {
			return nil, err
		}
		result = append(result, chat)
	}
	return result, rows.Err()
}
