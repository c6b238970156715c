package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// ProcessLogRepository appends audit entries. Write-only for the resolution
// engine.
type ProcessLogRepository interface {
	Create(ctx context.Context, entry *domain.ProcessLog) error
}

type processLogRepository struct {
	pool *pgxpool.Pool
}

// NewProcessLogRepository builds repository.
func NewProcessLogRepository(pool *pgxpool.Pool) ProcessLogRepository {
	return &processLogRepository{pool: pool}
}

func (r *processLogRepository) Create(ctx context.Context, entry *domain.ProcessLog) error {
	const query = `
        INSERT INTO conversation_process_logs (conversation_id, type, data, tenant_id)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.ConversationID,
		entry.Type,
		entry.Data,
		entry.TenantID,
	).Scan(&entry.ID, &entry.CreatedAt)
}
