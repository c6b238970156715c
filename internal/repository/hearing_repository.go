package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// HearingRepository manages hearing records.
type HearingRepository interface {
	Create(ctx context.Context, hearing *domain.Hearing) error
	GetByID(ctx context.Context, id string) (*domain.Hearing, error)
}

type hearingRepository struct {
	pool *pgxpool.Pool
}

// NewHearingRepository builds repository.
func NewHearingRepository(pool *pgxpool.Pool) HearingRepository {
	return &hearingRepository{pool: pool}
}

func (r *hearingRepository) Create(ctx context.Context, hearing *domain.Hearing) error {
	const query = `
        INSERT INTO hearings (ticket_id, hearing_account_id, hearing_reason, tenant_id, account_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		hearing.TicketID,
		hearing.HearingAccountID,
		hearing.HearingReason,
		hearing.TenantID,
		hearing.AccountID,
	).Scan(&hearing.ID, &hearing.CreatedAt, &hearing.UpdatedAt)
}

func (r *hearingRepository) GetByID(ctx context.Context, id string) (*domain.Hearing, error) {
	const query = `
        SELECT id, ticket_id, hearing_account_id, hearing_reason, tenant_id, account_id, created_at, updated_at
        FROM hearings WHERE id=$1`
	var hearing domain.Hearing
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&hearing.ID,
		&hearing.TicketID,
		&hearing.HearingAccountID,
		&hearing.HearingReason,
		&hearing.TenantID,
		&hearing.AccountID,
		&hearing.CreatedAt,
		&hearing.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &hearing, nil
}
