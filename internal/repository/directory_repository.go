package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// AccountRepository reads directory accounts. Read-only for the resolution
// engine.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Account, error)
	ListByGroup(ctx context.Context, tenantID, userGroupID string) ([]domain.Account, error)
	GetChatIdentity(ctx context.Context, id string) (*domain.ChatIdentity, error)
}

// HumanResourceRepository reads hearing responder profiles.
type HumanResourceRepository interface {
	ListByTenantAndEmails(ctx context.Context, tenantID string, emails []string) ([]domain.HumanResource, error)
	FindDefaultHearing(ctx context.Context, tenantID string) (*domain.HumanResource, error)
}

type accountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository builds repository.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

const accountColumns = `id, name, email, chat_user_id, tenant_id`

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1 LIMIT 1`
	return r.fetchSingle(ctx, query, email)
}

func (r *accountRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var account domain.Account
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.ChatUserID,
		&account.TenantID,
	); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id=$1`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (r *accountRepository) ListByGroup(ctx context.Context, tenantID, userGroupID string) ([]domain.Account, error) {
	const query = `
        SELECT a.id, a.name, a.email, a.chat_user_id, a.tenant_id
        FROM accounts a
        JOIN user_group_members m ON m.account_id = a.id
        WHERE m.tenant_id=$1 AND m.user_group_id=$2`
	rows, err := r.pool.Query(ctx, query, tenantID, userGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (r *accountRepository) GetChatIdentity(ctx context.Context, id string) (*domain.ChatIdentity, error) {
	const query = `SELECT id, chat_id FROM chat_identities WHERE id=$1`
	var identity domain.ChatIdentity
	if err := r.pool.QueryRow(ctx, query, id).Scan(&identity.ID, &identity.ChatID); err != nil {
		return nil, err
	}
	return &identity, nil
}

func scanAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var result []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.Name,
			&account.Email,
			&account.ChatUserID,
			&account.TenantID,
		); err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

type humanResourceRepository struct {
	pool *pgxpool.Pool
}

// NewHumanResourceRepository builds repository.
func NewHumanResourceRepository(pool *pgxpool.Pool) HumanResourceRepository {
	return &humanResourceRepository{pool: pool}
}

const humanResourceColumns = `id, real_name, email, feature_prompt, is_default_hearing, tenant_id`

func (r *humanResourceRepository) ListByTenantAndEmails(ctx context.Context, tenantID string, emails []string) ([]domain.HumanResource, error) {
	const query = `SELECT ` + humanResourceColumns + `
        FROM human_resources WHERE tenant_id=$1 AND email = ANY($2)`
	rows, err := r.pool.Query(ctx, query, tenantID, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HumanResource
	for rows.Next() {
		var hr domain.HumanResource
		if err := rows.Scan(
			&hr.ID,
			&hr.RealName,
			&hr.Email,
			&hr.FeaturePrompt,
			&hr.IsDefaultHearing,
			&hr.TenantID,
		); err != nil {
			return nil, err
		}
		result = append(result, hr)
	}
	return result, rows.Err()
}

func (r *humanResourceRepository) FindDefaultHearing(ctx context.Context, tenantID string) (*domain.HumanResource, error) {
	const query = `SELECT ` + humanResourceColumns + `
        FROM human_resources WHERE tenant_id=$1 AND is_default_hearing LIMIT 1`
	var hr domain.HumanResource
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&hr.ID,
		&hr.RealName,
		&hr.Email,
		&hr.FeaturePrompt,
		&hr.IsDefaultHearing,
		&hr.TenantID,
	); err != nil {
		return nil, err
	}
	return &hr, nil
}
