package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/events"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
)

// ErrNoDefaultHearing indicates the tenant has not configured a default
// hearing contact, which the answer workflow requires.
var ErrNoDefaultHearing = errors.New("no default hearing contact configured")

// ResolutionService drives one FAQ ticket through the answer workflow and
// applies the verdict to ticket, conversation and hearing records.
type ResolutionService struct {
	tickets       repository.TicketRepository
	conversations repository.ConversationRepository
	hearings      repository.HearingRepository
	accounts      repository.AccountRepository
	humans        repository.HumanResourceRepository
	apps          repository.WorkflowAppRepository
	runner        WorkflowRunner
	recorder      processRecorder
	dispatcher    events.Dispatcher
	answerAPIKey  string
	titleAPIKey   string
	hearingCount  int
	appBaseURL    string
	logger        *zap.Logger
}

// ResolutionDependencies bundles collaborators for ResolutionService.
type ResolutionDependencies struct {
	TicketRepo       repository.TicketRepository
	ConversationRepo repository.ConversationRepository
	HearingRepo      repository.HearingRepository
	AccountRepo      repository.AccountRepository
	HumanRepo        repository.HumanResourceRepository
	AppRepo          repository.WorkflowAppRepository
	ProcessLogRepo   repository.ProcessLogRepository
	Runner           WorkflowRunner
	Dispatcher       events.Dispatcher
	AnswerAPIKey     string
	TitleAPIKey      string
	HearingCount     int
	AppBaseURL       string
	Logger           *zap.Logger
}

// NewResolutionService constructs the service.
func NewResolutionService(deps ResolutionDependencies) *ResolutionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HearingCount <= 0 {
		deps.HearingCount = defaultHearingCount
	}
	return &ResolutionService{
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationRepo,
		hearings:      deps.HearingRepo,
		accounts:      deps.AccountRepo,
		humans:        deps.HumanRepo,
		apps:          deps.AppRepo,
		runner:        deps.Runner,
		recorder:      processRecorder{logs: deps.ProcessLogRepo, logger: deps.Logger},
		dispatcher:    deps.Dispatcher,
		answerAPIKey:  deps.AnswerAPIKey,
		titleAPIKey:   deps.TitleAPIKey,
		hearingCount:  deps.HearingCount,
		appBaseURL:    deps.AppBaseURL,
		logger:        deps.Logger,
	}
}

// Process resolves one queued FAQ ticket. Failures are absorbed here: the
// ticket is marked errored with an apology in its pending conversation, and
// the returned error is informational for the scheduler's log.
func (s *ResolutionService) Process(ctx context.Context, ticket *domain.Ticket) error {
	pending, err := s.bindPendingAnswer(ctx, ticket)
	if err != nil {
		s.fail(ctx, ticket, "", err)
		return err
	}

	if err := s.process(ctx, ticket, pending); err != nil {
		s.fail(ctx, ticket, pending.ID, err)
		return err
	}
	return nil
}

// bindPendingAnswer reuses the newest empty AI answer record for the ticket
// or creates one; its text is written exactly once with the verdict.
func (s *ResolutionService) bindPendingAnswer(ctx context.Context, ticket *domain.Ticket) (*domain.Conversation, error) {
	pending, err := s.conversations.FindPendingAnswer(ctx, ticket.ID)
	if err == nil {
		return pending, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	pending = &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         "",
		QuestionType: domain.QuestionTypeAnswer,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     ticket.TenantID,
		AccountID:    ticket.AccountID,
	}
	if err := s.conversations.Create(ctx, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *ResolutionService) process(ctx context.Context, ticket *domain.Ticket, pending *domain.Conversation) error {
	s.recorder.append(ctx, pending.ID, ticket.TenantID, domain.ProcessLogProcess, map[string]any{
		"ticket_id": ticket.ID,
		"status":    "started",
		"timestamp": nowISO(),
	})

	conversations, err := s.conversations.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		s.logger.Warn("ticket has no conversations", zap.String("ticket_id", ticket.ID))
		return nil
	}
	currentMessage := conversations[len(conversations)-1].Text
	transcript := buildTranscript(conversations)

	defaultHearing, err := s.humans.FindDefaultHearing(ctx, ticket.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoDefaultHearing
		}
		return err
	}

	apiKey := resolveAPIKey(ctx, s.apps, ticket, "", s.answerAPIKey, s.logger)
	inputs := map[string]any{
		"currentMessage":      currentMessage,
		"userMessages":        transcript,
		"title":               ticket.Title,
		"defaultHearingEmail": defaultHearing.Email,
		"hearingCount":        s.hearingCount,
	}

	s.recorder.append(ctx, pending.ID, ticket.TenantID, domain.ProcessLogGenerate, map[string]any{
		"status":        "started",
		"response_mode": string(workflow.ModeStreaming),
	})

	outputs, err := s.runner.RunStreaming(ctx, apiKey, inputs, func(event string, raw json.RawMessage) {
		s.recorder.appendRawEvent(ctx, pending.ID, ticket.TenantID, raw)
	})
	if err != nil {
		s.recorder.append(ctx, pending.ID, ticket.TenantID, domain.ProcessLogError, map[string]any{
			"event": "error",
			"data":  map[string]any{"error_message": err.Error()},
		})
		return err
	}

	verdict := workflow.DecodeVerdict(outputs)
	s.recorder.append(ctx, pending.ID, ticket.TenantID, domain.ProcessLogGenerate, map[string]any{
		"status":             "finished",
		"result_code":        string(verdict.Code),
		"answer_text_length": len(verdict.Text),
	})

	if err := s.applyVerdict(ctx, ticket, pending, verdict); err != nil {
		return err
	}

	s.recorder.append(ctx, pending.ID, ticket.TenantID, domain.ProcessLogProcess, map[string]any{
		"ticket_id": ticket.ID,
		"status":    "finished",
	})
	return nil
}

func (s *ResolutionService) applyVerdict(ctx context.Context, ticket *domain.Ticket, pending *domain.Conversation, verdict workflow.Verdict) error {
	switch verdict.Code {
	case workflow.ResultAnswered:
		return s.applyAnswered(ctx, ticket, pending, verdict)
	case workflow.ResultRequirementMoreAnswer:
		return s.applyMoreAnswer(ctx, ticket, pending, verdict)
	case workflow.ResultRequiredHearing:
		return s.applyRequiredHearing(ctx, ticket, pending, verdict)
	default:
		return &workflow.UnknownResultCodeError{Code: string(verdict.Code)}
	}
}

func (s *ResolutionService) applyAnswered(ctx context.Context, ticket *domain.Ticket, pending *domain.Conversation, verdict workflow.Verdict) error {
	pending.Text = verdict.Text
	if err := s.conversations.Update(ctx, pending); err != nil {
		return err
	}

	ticket.Title = verdict.Title
	ticket.AIStatus = domain.AIStatusAnswered
	ticket.NotifyPending = true
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	s.publish(ctx, events.EventTicketAnswered, ticket, events.TicketAnsweredPayload{
		ResultCode: string(verdict.Code),
		AIStatus:   ticket.AIStatus,
	})
	s.logger.Info("ticket answered", zap.String("ticket_id", ticket.ID))
	return nil
}

func (s *ResolutionService) applyMoreAnswer(ctx context.Context, ticket *domain.Ticket, pending *domain.Conversation, verdict workflow.Verdict) error {
	pending.Text = verdict.Text
	if err := s.conversations.Update(ctx, pending); err != nil {
		return err
	}

	caution := cautionPrefix + verdict.Text
	ticket.Title = verdict.Title
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
	s.logger.Info("ticket waiting for more input", zap.String("ticket_id", ticket.ID))
	return nil
}

func (s *ResolutionService) applyRequiredHearing(ctx context.Context, ticket *domain.Ticket, pending *domain.Conversation, verdict workflow.Verdict) error {
	mentions := s.resolveMentions(ctx, verdict)

	hearingRequest := verdict.HearingReason
	if len(mentions) > 0 {
		hearingRequest = fmt.Sprintf(
			"%sさん。本件について回答いただければなと思いますがいかがでしょうか？\n\n%s\n\n詳細: %s/?ticketId=%s",
			strings.Join(mentions, "、"), verdict.HearingReason, s.appBaseURL, ticket.ID)
	}

	pending.Text = verdict.Text
	if err := s.conversations.Update(ctx, pending); err != nil {
		return err
	}

	ticket.Title = verdict.Title
	ticket.AIStatus = domain.AIStatusHearingQueue
	ticket.NotifyPending = true
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	childTitle := s.generateHearingTitle(ctx, ticket, verdict.HearingReason)

	var hearingIDs []string
	for i, email := range verdict.HearingEmails {
		name := "不明"
		if i < len(verdict.HearingRealNames) {
			name = verdict.HearingRealNames[i]
		}

		account, err := s.accounts.FindByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			s.logger.Info("hearing candidate has no account",
				zap.String("ticket_id", ticket.ID), zap.String("email", email), zap.String("name", name))
			continue
		}

		hearingID, err := s.spawnHearing(ctx, ticket, account, verdict.HearingReason, hearingRequest, childTitle)
		if err != nil {
			return err
		}
		hearingIDs = append(hearingIDs, hearingID)
	}

	if len(hearingIDs) > 0 {
		ticket.HearingIDs = hearingIDs
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		summary := &domain.Conversation{
			TicketID: ticket.ID,
			Text: fmt.Sprintf("ヒアリング依頼が完了しました！対象者: %d人 (メール: %s)",
				len(hearingIDs), strings.Join(verdict.HearingEmails, ", ")),
			QuestionType: domain.QuestionTypeAnswer,
			Role:         domain.RoleAssistant,
			Creator:      domain.CreatorAI,
			TenantID:     ticket.TenantID,
			AccountID:    ticket.AccountID,
		}
		if err := s.conversations.Create(ctx, summary); err != nil {
			return err
		}
	} else {
		diagnostic := &domain.Conversation{
			TicketID: ticket.ID,
			Text: fmt.Sprintf("ヒアリング先を見つけることができませんでした。生成AIの探索結果: 担当者: %s, メール: %s, 理由: %s",
				strings.Join(verdict.HearingRealNames, ", "),
				strings.Join(verdict.HearingEmails, ", "),
				verdict.RecommendReasoning),
			QuestionType: domain.QuestionTypeAnswer,
			Role:         domain.RoleAssistant,
			Creator:      domain.CreatorAI,
			TenantID:     ticket.TenantID,
			AccountID:    ticket.AccountID,
		}
		if err := s.conversations.Create(ctx, diagnostic); err != nil {
			return err
		}
	}

	s.logger.Info("hearing requests created",
		zap.String("ticket_id", ticket.ID), zap.Int("count", len(hearingIDs)))
	return nil
}

// spawnHearing creates one Hearing record plus its backing child ticket and
// initial question conversation, returning the hearing id.
func (s *ResolutionService) spawnHearing(ctx context.Context, parent *domain.Ticket, responder *domain.Account, reason, request, title string) (string, error) {
	hearing := &domain.Hearing{
		TicketID:         parent.ID,
		HearingAccountID: responder.ID,
		HearingReason:    reason,
		TenantID:         parent.TenantID,
		AccountID:        parent.AccountID,
	}
	if err := s.hearings.Create(ctx, hearing); err != nil {
		return "", err
	}

	if title == "" {
		title = defaultHearingTitle
	}
	child := &domain.Ticket{
		Status:        domain.TicketStatusOpen,
		AIStatus:      domain.AIStatusHumanWaiting,
		Mode:          domain.TicketModeHearing,
		Title:         title,
		HearingIDs:    []string{hearing.ID},
		UserGroupID:   parent.UserGroupID,
		NotifyPending: true,
		ChannelID:     parent.ChannelID,
		ThreadTS:      parent.ThreadTS,
		TenantID:      parent.TenantID,
		AccountID:     responder.ID,
	}
	if err := s.tickets.Create(ctx, child); err != nil {
		return "", err
	}

	question := &domain.Conversation{
		TicketID:     child.ID,
		Text:         request,
		QuestionType: domain.QuestionTypeQuestion,
		Role:         domain.RoleAssistant,
		Creator:      domain.CreatorAI,
		TenantID:     child.TenantID,
		AccountID:    child.AccountID,
	}
	if err := s.conversations.Create(ctx, question); err != nil {
		return "", err
	}

	s.publish(ctx, events.EventHearingSpawned, parent, events.HearingSpawnedPayload{
		HearingTicketID:  child.ID,
		HearingAccountID: responder.ID,
	})
	return hearing.ID, nil
}

// resolveMentions maps verdict candidates to outbound mention strings.
func (s *ResolutionService) resolveMentions(ctx context.Context, verdict workflow.Verdict) []string {
	var mentions []string
	for i, email := range verdict.HearingEmails {
		name := "不明"
		if i < len(verdict.HearingRealNames) {
			name = verdict.HearingRealNames[i]
		}
		account, err := s.accounts.FindByEmail(ctx, email)
		if err != nil {
			account = nil
		}
		mentions = append(mentions, mentionFor(ctx, s.accounts, account, name))
	}
	return mentions
}

// generateHearingTitle asks the title-generator workflow for a short child
// ticket title; failure degrades to an empty title.
func (s *ResolutionService) generateHearingTitle(ctx context.Context, ticket *domain.Ticket, reason string) string {
	apiKey := resolveAPIKey(ctx, s.apps, ticket, domain.AppKindTitleGenerator, s.titleAPIKey, s.logger)
	outputs, err := s.runner.RunBlocking(ctx, apiKey, map[string]any{
		"question":    reason,
		"tenantId":    ticket.TenantID,
		"userGroupId": ticket.UserGroupID,
	})
	if err != nil {
		s.logger.Warn("hearing title generation failed",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		return ""
	}
	return outputs.Title()
}

// fail marks the ticket errored and overwrites the pending conversation
// with an apology. When no conversation is bound yet only the ticket status
// changes.
func (s *ResolutionService) fail(ctx context.Context, ticket *domain.Ticket, conversationID string, cause error) {
	s.logger.Error("ticket processing failed",
		zap.String("ticket_id", ticket.ID), zap.Error(cause))

	s.recorder.append(ctx, conversationID, ticket.TenantID, domain.ProcessLogException, map[string]any{
		"error_message": cause.Error(),
		"ticket_id":     ticket.ID,
	})

	ticket.AIStatus = domain.AIStatusError
	if err := s.tickets.Update(ctx, ticket); err != nil {
		s.logger.Error("unable to mark ticket errored",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	if conversationID != "" {
		apology := &domain.Conversation{ID: conversationID, Text: apologyText}
		if err := s.conversations.Update(ctx, apology); err != nil {
			s.logger.Error("unable to write apology",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}

	s.publish(ctx, events.EventTicketFailed, ticket, events.TicketFailedPayload{Reason: cause.Error()})
}

func (s *ResolutionService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, payload any) {
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
