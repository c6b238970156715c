package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/knowledge"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
)

// defaultHearingCount is how many responders the workflow is asked to
// suggest for one hearing round.
const defaultHearingCount = 3

const (
	apologyText         = "エラーが発生しました:お手数ですが再度質問を行ってください。"
	cautionPrefix       = "AIが追加情報を求めています！\n"
	defaultHearingTitle = "ヒアリング依頼"
	unknownUserName     = "不明なユーザー"
)

// WorkflowRunner is the slice of the workflow client the services depend on.
type WorkflowRunner interface {
	RunBlocking(ctx context.Context, apiKey string, inputs map[string]any) (workflow.Outputs, error)
	RunStreaming(ctx context.Context, apiKey string, inputs map[string]any, observe workflow.EventObserver) (workflow.Outputs, error)
}

// KnowledgeSource retrieves supporting documents for a question.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query string, scope knowledge.Scope) ([]domain.KnowledgeDocument, error)
}

// processRecorder appends audit entries; failures are logged and swallowed
// so auditing never breaks ticket processing.
type processRecorder struct {
	logs   repository.ProcessLogRepository
	logger *zap.Logger
}

func (p *processRecorder) append(ctx context.Context, conversationID, tenantID string, logType domain.ProcessLogType, payload map[string]any) {
	if p.logs == nil || conversationID == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("process log payload not serializable", zap.Error(err))
		return
	}
	entry := &domain.ProcessLog{
		ConversationID: conversationID,
		Type:           logType,
		Data:           string(data),
		TenantID:       tenantID,
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		p.logger.Warn("process log write failed", zap.Error(err))
	}
}

// appendRawEvent records one stream event, stripping the bulky inputs,
// outputs and process_data fields before persisting.
func (p *processRecorder) appendRawEvent(ctx context.Context, conversationID, tenantID string, raw json.RawMessage) {
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}
	data, ok := event["data"].(map[string]any)
	if !ok {
		return
	}
	delete(data, "inputs")
	delete(data, "outputs")
	delete(data, "process_data")
	p.append(ctx, conversationID, tenantID, domain.ProcessLogSSEEvent, event)
}

// resolveAPIKey picks the workflow API key for a ticket. A mode profile may
// route the ticket's mode to a dedicated app; when requiredKind is set the
// routed app is used only if it is of that kind.
func resolveAPIKey(ctx context.Context, apps repository.WorkflowAppRepository, ticket *domain.Ticket, requiredKind domain.WorkflowAppKind, fallback string, logger *zap.Logger) string {
	if ticket.ModeID == nil || apps == nil {
		return fallback
	}
	profile, err := apps.GetProfile(ctx, *ticket.ModeID)
	if err != nil || profile == nil {
		return fallback
	}

	var appID *string
	switch ticket.Mode {
	case domain.TicketModeHearing:
		appID = profile.HearingAppID
	case domain.TicketModeFAQ:
		appID = profile.FAQAppID
	}
	if appID == nil {
		return fallback
	}

	app, err := apps.GetApp(ctx, *appID)
	if err != nil || app == nil || app.APIKey == "" {
		return fallback
	}
	if requiredKind != "" && app.Kind != requiredKind {
		return fallback
	}
	logger.Debug("using mode-specific workflow app",
		zap.String("ticket_id", ticket.ID), zap.String("app", app.Name))
	return app.APIKey
}

// buildTranscript renders a ticket's conversation history into the tagged
// text block the workflows consume.
func buildTranscript(conversations []domain.Conversation) string {
	var b strings.Builder
	for _, conv := range conversations {
		fmt.Fprintf(&b, "\n<conversation>\ntext: %s\nquestionType: %s\ncreator: %s\n</conversation>\n",
			conv.Text, conv.QuestionType, conv.Creator)
	}
	return b.String()
}

// buildResponderRoster renders hearing candidates for the workflow prompt.
func buildResponderRoster(resources []domain.HumanResource) string {
	var b strings.Builder
	for _, hr := range resources {
		fmt.Fprintf(&b, "\n<humanResource>\n氏名: %sさん, \nメールアドレス: %s, \n特徴: %s\n</humanResource>\n",
			hr.RealName, hr.Email, hr.FeaturePrompt)
	}
	return b.String()
}

// eligibleAccounts returns the directory slice a ticket may address: group
// members when the ticket carries a user group, the whole tenant otherwise.
func eligibleAccounts(ctx context.Context, accounts repository.AccountRepository, ticket *domain.Ticket) ([]domain.Account, error) {
	if ticket.UserGroupID != nil {
		return accounts.ListByGroup(ctx, ticket.TenantID, *ticket.UserGroupID)
	}
	return accounts.ListByTenant(ctx, ticket.TenantID)
}

// mentionFor resolves the outbound mention form for an account: the
// platform-native mention when a chat identity is linked, a name-based
// unlinked marker otherwise.
func mentionFor(ctx context.Context, accounts repository.AccountRepository, account *domain.Account, fallbackName string) string {
	name := fallbackName
	if account != nil && account.Name != "" {
		name = account.Name
	}
	if account == nil || account.ChatUserID == nil {
		return fmt.Sprintf("（チャット未連携ユーザー）@%sさん", name)
	}
	identity, err := accounts.GetChatIdentity(ctx, *account.ChatUserID)
	if err != nil || identity == nil || identity.ChatID == "" {
		return fmt.Sprintf("（チャット未連携ユーザー）@%sさん", name)
	}
	return fmt.Sprintf("<@%s>", identity.ChatID)
}

func nowISO() string {
	return time.Now().Format(time.RFC3339)
}
