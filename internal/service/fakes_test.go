package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/knowledge"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
)

type memTicketRepo struct {
	seq     int
	tickets map[string]*domain.Ticket
	created []*domain.Ticket
}

func newMemTicketRepo(seed ...*domain.Ticket) *memTicketRepo {
	r := &memTicketRepo{tickets: make(map[string]*domain.Ticket)}
	for _, t := range seed {
		r.tickets[t.ID] = t
	}
	return r
}

func (r *memTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	ticket.CreatedAt = time.Now()
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	r.created = append(r.created, &copied)
	return nil
}

func (r *memTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	return nil
}

func (r *memTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *memTicketRepo) ListQueued(ctx context.Context, mode domain.TicketMode) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.Status == domain.TicketStatusOpen && t.AIStatus == domain.AIStatusQueued && t.Mode == mode {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memTicketRepo) ListNotifyPending(ctx context.Context, statuses []domain.AIStatus) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range r.tickets {
		if !t.NotifyPending || !t.HasDestination() {
			continue
		}
		for _, status := range statuses {
			if t.AIStatus == status {
				out = append(out, *t)
				break
			}
		}
	}
	return out, nil
}

func (r *memTicketRepo) Claim(ctx context.Context, id string, leaseCutoff time.Time) (bool, error) {
	ticket, ok := r.tickets[id]
	if !ok || ticket.AIStatus != domain.AIStatusQueued {
		return false, nil
	}
	if ticket.ClaimedAt != nil && ticket.ClaimedAt.After(leaseCutoff) {
		return false, nil
	}
	now := time.Now()
	ticket.ClaimedAt = &now
	return true, nil
}

type memConversationRepo struct {
	seq     int
	entries []*domain.Conversation

	// createErr and findErr, when set, are returned by Create and
	// FindPendingAnswer to exercise failure paths.
	createErr error
	findErr   error
}

func (r *memConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	conv.ID = fmt.Sprintf("conv-%d", r.seq)
	conv.CreatedAt = time.Now()
	copied := *conv
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *memConversationRepo) Update(ctx context.Context, conv *domain.Conversation) error {
	for _, existing := range r.entries {
		if existing.ID == conv.ID {
			existing.Text = conv.Text
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memConversationRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, conv := range r.entries {
		if conv.TicketID == ticketID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (r *memConversationRepo) FindPendingAnswer(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	for i := len(r.entries) - 1; i >= 0; i-- {
		conv := r.entries[i]
		if conv.TicketID == ticketID && conv.Creator == domain.CreatorAI &&
			conv.QuestionType == domain.QuestionTypeAnswer && conv.Role == domain.RoleAssistant && conv.Text == "" {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memConversationRepo) LatestAssistant(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		conv := r.entries[i]
		if conv.TicketID == ticketID && conv.Role == domain.RoleAssistant {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memConversationRepo) byID(id string) *domain.Conversation {
	for _, conv := range r.entries {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

type memHearingRepo struct {
	seq      int
	hearings map[string]*domain.Hearing
}

func newMemHearingRepo(seed ...*domain.Hearing) *memHearingRepo {
	r := &memHearingRepo{hearings: make(map[string]*domain.Hearing)}
	for _, h := range seed {
		r.hearings[h.ID] = h
	}
	return r
}

func (r *memHearingRepo) Create(ctx context.Context, hearing *domain.Hearing) error {
	r.seq++
	hearing.ID = fmt.Sprintf("hearing-%d", r.seq)
	copied := *hearing
	r.hearings[hearing.ID] = &copied
	return nil
}

func (r *memHearingRepo) GetByID(ctx context.Context, id string) (*domain.Hearing, error) {
	hearing, ok := r.hearings[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *hearing
	return &copied, nil
}

type memAccountRepo struct {
	byID       map[string]*domain.Account
	identities map[string]*domain.ChatIdentity
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		byID:       make(map[string]*domain.Account),
		identities: make(map[string]*domain.ChatIdentity),
	}
}

func (r *memAccountRepo) add(account domain.Account) {
	r.byID[account.ID] = &account
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return account, nil
}

func (r *memAccountRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	for _, account := range r.byID {
		if account.Email == email {
			return account, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memAccountRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Account, error) {
	var out []domain.Account
	for _, account := range r.byID {
		if account.TenantID == tenantID {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (r *memAccountRepo) ListByGroup(ctx context.Context, tenantID, userGroupID string) ([]domain.Account, error) {
	return r.ListByTenant(ctx, tenantID)
}

func (r *memAccountRepo) GetChatIdentity(ctx context.Context, id string) (*domain.ChatIdentity, error) {
	identity, ok := r.identities[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return identity, nil
}

type memHumanRepo struct {
	resources []domain.HumanResource
}

func (r *memHumanRepo) ListByTenantAndEmails(ctx context.Context, tenantID string, emails []string) ([]domain.HumanResource, error) {
	allowed := make(map[string]bool, len(emails))
	for _, email := range emails {
		allowed[email] = true
	}
	var out []domain.HumanResource
	for _, hr := range r.resources {
		if hr.TenantID == tenantID && allowed[hr.Email] {
			out = append(out, hr)
		}
	}
	return out, nil
}

func (r *memHumanRepo) FindDefaultHearing(ctx context.Context, tenantID string) (*domain.HumanResource, error) {
	for _, hr := range r.resources {
		if hr.TenantID == tenantID && hr.IsDefaultHearing {
			copied := hr
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memToolRepo struct {
	tools []domain.KnowledgeTool
}

func (r *memToolRepo) FirstByType(ctx context.Context, toolType domain.KnowledgeToolType) (*domain.KnowledgeTool, error) {
	for _, tool := range r.tools {
		if tool.Type == toolType {
			copied := tool
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memToolRepo) ListByType(ctx context.Context, toolType domain.KnowledgeToolType) ([]domain.KnowledgeTool, error) {
	var out []domain.KnowledgeTool
	for _, tool := range r.tools {
		if tool.Type == toolType {
			out = append(out, tool)
		}
	}
	return out, nil
}

type memDocumentRepo struct {
	created []*domain.KnowledgeDocument
	corpus  []domain.KnowledgeDocument
}

func (r *memDocumentRepo) Create(ctx context.Context, doc *domain.KnowledgeDocument) error {
	copied := *doc
	r.created = append(r.created, &copied)
	return nil
}

func (r *memDocumentRepo) Search(ctx context.Context, filter repository.KnowledgeFilter) ([]domain.KnowledgeDocument, error) {
	return r.corpus, nil
}

type memAppRepo struct {
	apps     map[string]*domain.WorkflowApp
	profiles map[string]*domain.ModeProfile
}

func (r *memAppRepo) GetApp(ctx context.Context, id string) (*domain.WorkflowApp, error) {
	app, ok := r.apps[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return app, nil
}

func (r *memAppRepo) GetProfile(ctx context.Context, id string) (*domain.ModeProfile, error) {
	profile, ok := r.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return profile, nil
}

type memProcessLogRepo struct {
	entries []domain.ProcessLog
}

func (r *memProcessLogRepo) Create(ctx context.Context, entry *domain.ProcessLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

type runnerCall struct {
	APIKey string
	Inputs map[string]any
	Mode   workflow.ResponseMode
}

// scriptedRunner returns canned outputs per call in order; the last script
// entry repeats when calls outnumber entries.
type scriptedRunner struct {
	calls   []runnerCall
	outputs []workflow.Outputs
	errs    []error
}

func (r *scriptedRunner) next() (workflow.Outputs, error) {
	idx := len(r.calls) - 1
	out := workflow.Outputs{}
	if len(r.outputs) > 0 {
		if idx >= len(r.outputs) {
			idx = len(r.outputs) - 1
		}
		out = r.outputs[idx]
	}
	var err error
	if idx >= 0 && idx < len(r.errs) {
		err = r.errs[idx]
	}
	return out, err
}

func (r *scriptedRunner) RunBlocking(ctx context.Context, apiKey string, inputs map[string]any) (workflow.Outputs, error) {
	r.calls = append(r.calls, runnerCall{APIKey: apiKey, Inputs: inputs, Mode: workflow.ModeBlocking})
	return r.next()
}

func (r *scriptedRunner) RunStreaming(ctx context.Context, apiKey string, inputs map[string]any, observe workflow.EventObserver) (workflow.Outputs, error) {
	r.calls = append(r.calls, runnerCall{APIKey: apiKey, Inputs: inputs, Mode: workflow.ModeStreaming})
	if observe != nil {
		raw, _ := json.Marshal(map[string]any{"event": "workflow_finished", "data": map[string]any{}})
		observe("workflow_finished", raw)
	}
	return r.next()
}

type staticRetriever struct {
	docs []domain.KnowledgeDocument
}

func (r *staticRetriever) Retrieve(ctx context.Context, query string, scope knowledge.Scope) ([]domain.KnowledgeDocument, error) {
	return r.docs, nil
}

func strptr(s string) *string { return &s }
