package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// ListQueued returns open tickets awaiting AI processing for one mode.
	ListQueued(ctx context.Context, mode domain.TicketMode) ([]domain.Ticket, error)
	// ListNotifyPending returns tickets flagged for notification in one of
	// the given states.
	ListNotifyPending(ctx context.Context, statuses []domain.AIStatus) ([]domain.Ticket, error)
	// Claim takes a processing lease on a ticket, succeeding only while it
	// is still queued and not held by a live lease. The conditional update
	// is the exclusion mechanism against concurrent scheduler instances.
	Claim(ctx context.Context, id string, leaseCutoff time.Time) (bool, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, status, ai_status, mode, mode_id, title, caution_message, hearing_ids,
       user_group_id, notify_pending, channel_id, thread_ts, tenant_id, account_id,
       claimed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (status, ai_status, mode, mode_id, title, caution_message, hearing_ids,
                             user_group_id, notify_pending, channel_id, thread_ts, tenant_id, account_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Status,
		ticket.AIStatus,
		ticket.Mode,
		ticket.ModeID,
		ticket.Title,
		ticket.CautionMessage,
		ticket.HearingIDs,
		ticket.UserGroupID,
		ticket.NotifyPending,
		ticket.ChannelID,
		ticket.ThreadTS,
		ticket.TenantID,
		ticket.AccountID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, ai_status=$2, mode_id=$3, title=$4, caution_message=$5,
            hearing_ids=$6, notify_pending=$7, claimed_at=$8, updated_at=NOW()
        WHERE id=$9`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		ticket.AIStatus,
		ticket.ModeID,
		ticket.Title,
		ticket.CautionMessage,
		ticket.HearingIDs,
		ticket.NotifyPending,
		ticket.ClaimedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListQueued(ctx context.Context, mode domain.TicketMode) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status=$1 AND ai_status=$2 AND mode=$3
        ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusOpen, domain.AIStatusQueued, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListNotifyPending(ctx context.Context, statuses []domain.AIStatus) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE notify_pending AND ai_status = ANY($1)
          AND channel_id IS NOT NULL AND thread_ts IS NOT NULL
        ORDER BY updated_at ASC`
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	rows, err := r.pool.Query(ctx, query, values)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Claim(ctx context.Context, id string, leaseCutoff time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET claimed_at=NOW()
        WHERE id=$1 AND ai_status=$2 AND (claimed_at IS NULL OR claimed_at < $3)`
	cmd, err := r.pool.Exec(ctx, query, id, domain.AIStatusQueued, leaseCutoff)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Status,
		&ticket.AIStatus,
		&ticket.Mode,
		&ticket.ModeID,
		&ticket.Title,
		&ticket.CautionMessage,
		&ticket.HearingIDs,
		&ticket.UserGroupID,
		&ticket.NotifyPending,
		&ticket.ChannelID,
		&ticket.ThreadTS,
		&ticket.TenantID,
		&ticket.AccountID,
		&ticket.ClaimedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
