package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// WorkflowAppRepository reads registered workflow applications and the
// mode profiles routing tickets to them.
type WorkflowAppRepository interface {
	GetApp(ctx context.Context, id string) (*domain.WorkflowApp, error)
	GetProfile(ctx context.Context, id string) (*domain.ModeProfile, error)
}

type workflowAppRepository struct {
	pool *pgxpool.Pool
}

// NewWorkflowAppRepository builds repository.
func NewWorkflowAppRepository(pool *pgxpool.Pool) WorkflowAppRepository {
	return &workflowAppRepository{pool: pool}
}

func (r *workflowAppRepository) GetApp(ctx context.Context, id string) (*domain.WorkflowApp, error) {
	const query = `SELECT id, name, kind, api_key, tenant_id FROM workflow_apps WHERE id=$1`
	var app domain.WorkflowApp
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&app.ID, &app.Name, &app.Kind, &app.APIKey, &app.TenantID,
	); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *workflowAppRepository) GetProfile(ctx context.Context, id string) (*domain.ModeProfile, error) {
	const query = `SELECT id, faq_app_id, hearing_app_id, tenant_id FROM mode_profiles WHERE id=$1`
	var profile domain.ModeProfile
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID, &profile.FAQAppID, &profile.HearingAppID, &profile.TenantID,
	); err != nil {
		return nil, err
	}
	return &profile, nil
}
