package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// ConversationRepository manages ticket thread entries.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	Update(ctx context.Context, conv *domain.Conversation) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Conversation, error)
	// FindPendingAnswer returns the newest empty AI answer record for a
	// ticket, or pgx.ErrNoRows when none exists.
	FindPendingAnswer(ctx context.Context, ticketID string) (*domain.Conversation, error)
	// LatestAssistant returns the newest assistant entry for a ticket, or
	// pgx.ErrNoRows when none exists.
	LatestAssistant(ctx context.Context, ticketID string) (*domain.Conversation, error)
}

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository builds repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, ticket_id, text, question_type, role, creator, tenant_id, account_id, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	const query = `
        INSERT INTO conversations (ticket_id, text, question_type, role, creator, tenant_id, account_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		conv.TicketID,
		conv.Text,
		conv.QuestionType,
		conv.Role,
		conv.Creator,
		conv.TenantID,
		conv.AccountID,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
}

func (r *conversationRepository) Update(ctx context.Context, conv *domain.Conversation) error {
	const query = `UPDATE conversations SET text=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, conv.Text, conv.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *conversationRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Conversation, error) {
	const query = `SELECT ` + conversationColumns + `
        FROM conversations WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := scanConversation(rows, &conv); err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

func (r *conversationRepository) FindPendingAnswer(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	const query = `SELECT ` + conversationColumns + `
        FROM conversations
        WHERE ticket_id=$1 AND creator=$2 AND question_type=$3 AND role=$4 AND text=''
        ORDER BY created_at DESC LIMIT 1`
	var conv domain.Conversation
	err := scanConversation(r.pool.QueryRow(ctx, query,
		ticketID, domain.CreatorAI, domain.QuestionTypeAnswer, domain.RoleAssistant), &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) LatestAssistant(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	const query = `SELECT ` + conversationColumns + `
        FROM conversations
        WHERE ticket_id=$1 AND role=$2
        ORDER BY created_at DESC LIMIT 1`
	var conv domain.Conversation
	err := scanConversation(r.pool.QueryRow(ctx, query, ticketID, domain.RoleAssistant), &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanConversation(row pgx.Row, conv *domain.Conversation) error {
	return row.Scan(
		&conv.ID,
		&conv.TicketID,
		&conv.Text,
		&conv.QuestionType,
		&conv.Role,
		&conv.Creator,
		&conv.TenantID,
		&conv.AccountID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
}
