package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/events"
	"github.com/orkdesk/ticket-resolver/internal/knowledge"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
)

const (
	fulfilledFallbackText = "回答が生成できませんでした。"
	courtesyText          = "いただいた回答をもって、元の質問者に回答しました。ご協力ありがとうございました！"
	fulfilledDocTitle     = "ヒアリング回答"
)

// ErrNoCustomKnowledgeTool indicates no "custom" knowledge category exists
// to file fulfilled answers under.
var ErrNoCustomKnowledgeTool = errors.New("no custom knowledge tool configured")

// HearingService drives one hearing ticket (a human responder's thread)
// through the hearing workflow, closing the loop back to the parent ticket
// when the responder has supplied an answer.
type HearingService struct {
	tickets       repository.TicketRepository
	conversations repository.ConversationRepository
	hearings      repository.HearingRepository
	accounts      repository.AccountRepository
	humans        repository.HumanResourceRepository
	tools         repository.KnowledgeToolRepository
	documents     repository.KnowledgeDocumentRepository
	apps          repository.WorkflowAppRepository
	runner        WorkflowRunner
	retriever     KnowledgeSource
	dispatcher    events.Dispatcher
	hearingAPIKey string
	hearingCount  int
	logger        *zap.Logger
}

// HearingDependencies bundles collaborators for HearingService.
type HearingDependencies struct {
	TicketRepo       repository.TicketRepository
	ConversationRepo repository.ConversationRepository
	HearingRepo      repository.HearingRepository
	AccountRepo      repository.AccountRepository
	HumanRepo        repository.HumanResourceRepository
	ToolRepo         repository.KnowledgeToolRepository
	DocumentRepo     repository.KnowledgeDocumentRepository
	AppRepo          repository.WorkflowAppRepository
	Runner           WorkflowRunner
	Retriever        KnowledgeSource
	Dispatcher       events.Dispatcher
	HearingAPIKey    string
	HearingCount     int
	Logger           *zap.Logger
}

// NewHearingService constructs the service.
func NewHearingService(deps HearingDependencies) *HearingService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HearingCount <= 0 {
		deps.HearingCount = defaultHearingCount
	}
	return &HearingService{
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationRepo,
		hearings:      deps.HearingRepo,
		accounts:      deps.AccountRepo,
		humans:        deps.HumanRepo,
		tools:         deps.ToolRepo,
		documents:     deps.DocumentRepo,
		apps:          deps.AppRepo,
		runner:        deps.Runner,
		retriever:     deps.Retriever,
		dispatcher:    deps.Dispatcher,
		hearingAPIKey: deps.HearingAPIKey,
		hearingCount:  deps.HearingCount,
		logger:        deps.Logger,
	}
}

// Process resolves one queued hearing ticket. As with FAQ tickets, a
// failure marks the ticket errored without aborting the batch.
func (s *HearingService) Process(ctx context.Context, ticket *domain.Ticket) error {
	if err := s.process(ctx, ticket); err != nil {
		s.fail(ctx, ticket, err)
		return err
	}
	return nil
}

func (s *HearingService) process(ctx context.Context, ticket *domain.Ticket) error {
	if len(ticket.HearingIDs) == 0 {
		s.logger.Warn("hearing ticket carries no hearing id", zap.String("ticket_id", ticket.ID))
		return nil
	}
	// One hearing per hearing ticket; the newest id is authoritative.
	hearing, err := s.hearings.GetByID(ctx, ticket.HearingIDs[len(ticket.HearingIDs)-1])
	if err != nil {
		return err
	}

	parent, err := s.tickets.GetByID(ctx, hearing.TicketID)
	if err != nil {
		return err
	}
	if ticket.ModeID == nil && parent.ModeID != nil {
		ticket.ModeID = parent.ModeID
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		s.logger.Info("backfilled mode from parent ticket",
			zap.String("ticket_id", ticket.ID), zap.String("mode_id", *parent.ModeID))
	}

	conversations, err := s.conversations.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		s.logger.Warn("hearing ticket has no conversations", zap.String("ticket_id", ticket.ID))
		return nil
	}
	transcript := buildTranscript(conversations)

	accounts, err := eligibleAccounts(ctx, s.accounts, ticket)
	if err != nil {
		return err
	}
	emails := make([]string, 0, len(accounts))
	for _, account := range accounts {
		emails = append(emails, account.Email)
	}
	resources, err := s.humans.ListByTenantAndEmails(ctx, ticket.TenantID, emails)
	if err != nil {
		return err
	}

	if _, err := s.humans.FindDefaultHearing(ctx, ticket.TenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoDefaultHearing
		}
		return err
	}

	docs, err := s.retriever.Retrieve(ctx, conversations[0].Text, knowledge.Scope{
		TenantID:    ticket.TenantID,
		UserGroupID: ticket.UserGroupID,
		Mode:        ticket.Mode,
		ModeID:      ticket.ModeID,
	})
	if err != nil {
		return err
	}

	apiKey := resolveAPIKey(ctx, s.apps, ticket, "", s.hearingAPIKey, s.logger)
	inputs := map[string]any{
		"text":           transcript,
		"hearingReason":  hearing.HearingReason,
		"humanResources": buildResponderRoster(resources),
		"knowledgeData":  knowledge.BuildKnowledgeText(docs),
		"hearingCount":   s.hearingCount,
		"tenantId":       ticket.TenantID,
		"userGroupId":    ticket.UserGroupID,
	}

	outputs, err := s.runner.RunBlocking(ctx, apiKey, inputs)
	if err != nil {
		return err
	}
	verdict := workflow.DecodeVerdict(outputs)

	switch verdict.Code {
	case workflow.ResultRequirementMoreAnswer:
		return s.applyMoreAnswer(ctx, ticket, verdict)
	case workflow.ResultAnsweredCallbackFulfilled:
		return s.applyFulfilled(ctx, ticket, hearing, verdict)
	default:
		return &workflow.UnknownResultCodeError{Code: string(verdict.Code)}
	}
}

func (s *HearingService) applyMoreAnswer(ctx context.Context, ticket *domain.Ticket, verdict workflow.Verdict) error {
	answer := &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         verdict.Text,
		QuestionType: domain.QuestionTypeAnswer,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     ticket.TenantID,
		AccountID:    ticket.AccountID,
	}
	if err := s.conversations.Create(ctx, answer); err != nil {
		return err
	}

	caution := cautionPrefix + verdict.Text
	ticket.AIStatus = domain.AIStatusHumanWaiting
	ticket.CautionMessage = &caution
	ticket.NotifyPending = true
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	s.publish(ctx, events.EventTicketAnswered, ticket, events.TicketAnsweredPayload{
		ResultCode: string(verdict.Code),
		AIStatus:   ticket.AIStatus,
	})
	s.logger.Info("hearing ticket waiting for more input", zap.String("ticket_id", ticket.ID))
	return nil
}

// applyFulfilled closes the loop: the hearing ticket is answered, the
// parent receives the fulfilled text, and the answer becomes permanent
// knowledge for future queries.
func (s *HearingService) applyFulfilled(ctx context.Context, ticket *domain.Ticket, hearing *domain.Hearing, verdict workflow.Verdict) error {
	answer := &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         verdict.Text,
		QuestionType: domain.QuestionTypeAnswer,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     ticket.TenantID,
		AccountID:    ticket.AccountID,
	}
	if err := s.conversations.Create(ctx, answer); err != nil {
		return err
	}

	ticket.AIStatus = domain.AIStatusAnswered
	ticket.NotifyPending = true
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	parent, err := s.tickets.GetByID(ctx, hearing.TicketID)
	if err != nil {
		return err
	}

	fulfilledText := verdict.FulfilledText
	if fulfilledText == "" {
		fulfilledText = fulfilledFallbackText
	}

	parentAnswer := &domain.Conversation{
		TicketID:     parent.ID,
		Text:         fulfilledText,
		QuestionType: domain.QuestionTypeAnswer,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     parent.TenantID,
		AccountID:    parent.AccountID,
	}
	if err := s.conversations.Create(ctx, parentAnswer); err != nil {
		return err
	}

	parent.AIStatus = domain.AIStatusFulfilledAnswer
	parent.NotifyPending = true
	if err := s.tickets.Update(ctx, parent); err != nil {
		return err
	}

	courtesy := &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         courtesyText,
		QuestionType: domain.QuestionTypeAnswer,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     ticket.TenantID,
		AccountID:    ticket.AccountID,
	}
	if err := s.conversations.Create(ctx, courtesy); err != nil {
		return err
	}

	if err := s.recordFulfilledKnowledge(ctx, ticket.TenantID, fulfilledText); err != nil {
		return err
	}

	s.publish(ctx, events.EventHearingFulfilled, ticket, events.HearingFulfilledPayload{
		ParentTicketID: parent.ID,
	})
	s.logger.Info("hearing fulfilled",
		zap.String("ticket_id", ticket.ID), zap.String("parent_ticket_id", parent.ID))
	return nil
}

// recordFulfilledKnowledge writes the fulfilled answer back as a permanent
// document under the fixed custom knowledge category.
func (s *HearingService) recordFulfilledKnowledge(ctx context.Context, tenantID, text string) error {
	tool, err := s.tools.FirstByType(ctx, domain.ToolTypeCustom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoCustomKnowledgeTool
		}
		return err
	}

	doc := &domain.KnowledgeDocument{
		Title:           fulfilledDocTitle,
		Data:            text,
		Status:          "processed",
		Tags:            []string{"hearing", "fulfilled_answer"},
		KnowledgeToolID: tool.ID,
		TenantID:        tenantID,
	}
	return s.documents.Create(ctx, doc)
}

func (s *HearingService) fail(ctx context.Context, ticket *domain.Ticket, cause error) {
	s.logger.Error("hearing ticket processing failed",
		zap.String("ticket_id", ticket.ID), zap.Error(cause))

	ticket.AIStatus = domain.AIStatusError
	if err := s.tickets.Update(ctx, ticket); err != nil {
		s.logger.Error("unable to mark hearing ticket errored",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	s.publish(ctx, events.EventTicketFailed, ticket, events.TicketFailedPayload{Reason: cause.Error()})
}

func (s *HearingService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		TenantID:  ticket.TenantID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
