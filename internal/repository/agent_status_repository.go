package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch-service/internal/domain"
)

// AgentStatusRepository encapsulates agent capacity persistence.
type AgentStatusRepository interface {
	Upsert(ctx context.Context, status *domain.AgentStatus) error
	GetByUserID(ctx context.Context, tenantID, userID string) (*domain.AgentStatus, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.AgentStatus, error)
	ListByStatus(ctx context.Context, tenantID string, status domain.AgentAvailability) ([]domain.AgentStatus, error)
	ListAvailable(ctx context.Context, tenantID string) ([]domain.AgentStatus, error)
	SetAvailability(ctx context.Context, tenantID, userID string, status domain.AgentAvailability) (*domain.AgentStatus, error)
	IncrementActiveChats(ctx context.Context, tenantID, userID string, requireAvailable bool) (*domain.AgentStatus, error)
	DecrementActiveChats(ctx context.Context, tenantID, userID string) (*domain.AgentStatus, error)
}

type agentStatusRepository struct {
	pool *pgxpool.Pool
}

// NewAgentStatusRepository instantiates repository.
func NewAgentStatusRepository(pool *pgxpool.Pool) AgentStatusRepository {
	return &agentStatusRepository{pool: pool}
}

const agentColumns = `id, tenant_id, user_id, status, current_chats_count, max_concurrent_chats,
       last_activity_at, updated_at`

func (r *agentStatusRepository) Upsert(ctx context.Context, status *domain.AgentStatus) error {
	const query = `
        INSERT INTO agent_statuses (id, tenant_id, user_id, status, current_chats_count, max_concurrent_chats)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, user_id) DO UPDATE
            SET status=EXCLUDED.status, max_concurrent_chats=EXCLUDED.max_concurrent_chats,
                last_activity_at=NOW(), updated_at=NOW()
        RETURNING id, current_chats_count, last_activity_at, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		status.ID,
		status.TenantID,
		status.UserID,
		status.Status,
		status.CurrentChatsCount,
		status.MaxConcurrentChats,
	).Scan(&status.ID, &status.CurrentChatsCount, &status.LastActivityAt, &status.UpdatedAt)
}

func (r *agentStatusRepository) GetByUserID(ctx context.Context, tenantID, userID string) (*domain.AgentStatus, error) {
	const query = `SELECT ` + agentColumns + ` FROM agent_statuses WHERE tenant_id=$1 AND user_id=$2`
	return r.fetchSingle(ctx, query, tenantID, userID)
}

func (r *agentStatusRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.AgentStatus, error) {
	const query = `SELECT ` + agentColumns + ` FROM agent_statuses WHERE tenant_id=$1 ORDER BY user_id`
	return r.list(ctx, query, tenantID)
}

func (r *agentStatusRepository) ListByStatus(ctx context.Context, tenantID string, status domain.AgentAvailability) ([]domain.AgentStatus, error) {
	const query = `SELECT ` + agentColumns + ` FROM agent_statuses WHERE tenant_id=$1 AND status=$2 ORDER BY user_id`
	return r.list(ctx, query, tenantID, status)
}

func (r *agentStatusRepository) ListAvailable(ctx context.Context, tenantID string) ([]domain.AgentStatus, error) {
	const query = `
        SELECT ` + agentColumns + ` FROM agent_statuses
        WHERE tenant_id=$1 AND status='available' AND current_chats_count < max_concurrent_chats
        ORDER BY user_id`
	return r.list(ctx, query, tenantID)
}

// SetAvailability applies an explicit agent self-report. Reporting available
// while at capacity lands on busy via the derived-status rule.
func (r *agentStatusRepository) SetAvailability(ctx context.Context, tenantID, userID string, status domain.AgentAvailability) (*domain.AgentStatus, error) {
	const query = `
        UPDATE agent_statuses
        SET status = CASE
                WHEN $3 IN ('away','offline') THEN $3
                WHEN current_chats_count >= max_concurrent_chats THEN 'busy'
                ELSE 'available'
            END,
            last_activity_at=NOW(), updated_at=NOW()
        WHERE tenant_id=$1 AND user_id=$2
        RETURNING ` + agentColumns
	return r.fetchSingle(ctx, query, tenantID, userID, status)
}

// IncrementActiveChats atomically acquires one unit of agent capacity. The
// capacity predicate lives in the UPDATE itself; zero rows means the agent
// lost eligibility or capacity since it was read, surfaced as ErrConflict.
// requireAvailable distinguishes fresh assignments (agent must be available)
// from transfers (any non-offline agent with spare capacity).
func (r *agentStatusRepository) IncrementActiveChats(ctx context.Context, tenantID, userID string, requireAvailable bool) (*domain.AgentStatus, error) {
	const query = `
        UPDATE agent_statuses
        SET current_chats_count = current_chats_count + 1,
            status = CASE
                WHEN status IN ('away','offline') THEN status
                WHEN current_chats_count + 1 >= max_concurrent_chats THEN 'busy'
                ELSE 'available'
            END,
            last_activity_at=NOW(), updated_at=NOW()
        WHERE tenant_id=$1 AND user_id=$2
          AND status <> 'offline'
          AND ($3 = false OR status = 'available')
          AND current_chats_count < max_concurrent_chats
        RETURNING ` + agentColumns
	status, err := r.fetchSingle(ctx, query, tenantID, userID, requireAvailable)
	if err == pgx.ErrNoRows {
		return nil, ErrConflict
	}
	return status, err
}

// DecrementActiveChats releases one unit of capacity, flooring at zero.
func (r *agentStatusRepository) DecrementActiveChats(ctx context.Context, tenantID, userID string) (*domain.AgentStatus, error) {
	const query = `
        UPDATE agent_statuses
        SET current_chats_count = GREATEST(current_chats_count - 1, 0),
            status = CASE
                WHEN status IN ('away','offline') THEN status
                WHEN GREATEST(current_chats_count - 1, 0) >= max_concurrent_chats THEN 'busy'
                ELSE 'available'
            END,
            last_activity_at=NOW(), updated_at=NOW()
        WHERE tenant_id=$1 AND user_id=$2
        RETURNING ` + agentColumns
	return r.fetchSingle(ctx, query, tenantID, userID)
}

func (r *agentStatusRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.AgentStatus, error) {
	var status domain.AgentStatus
	if err := conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(
		&status.ID,
		&status.TenantID,
		&status.UserID,
		&status.Status,
		&status.CurrentChatsCount,
		&status.MaxConcurrentChats,
		&status.LastActivityAt,
		&status.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *agentStatusRepository) list(ctx context.Context, query string, args ...any) ([]domain.AgentStatus, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AgentStatus
	for rows.Next() {
		var status domain.AgentStatus
		if err := rows.Scan(
			&status.ID,
			&status.TenantID,
			&status.UserID,
			&status.Status,
			&status.CurrentChatsCount,
			&status.MaxConcurrentChats,
			&status.LastActivityAt,
			&status.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, status)
	}
	return result, rows.Err()
}
