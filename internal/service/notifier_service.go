package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/events"
	"github.com/orkdesk/ticket-resolver/internal/repository"
)

// notifiableStatuses are the states eligible for outbound notification.
// hearing_queue is deliberately absent: a ticket that just spawned children
// waits for them to resolve.
var notifiableStatuses = []domain.AIStatus{
	domain.AIStatusAnswered,
	domain.AIStatusHumanWaiting,
	domain.AIStatusFulfilledAnswer,
}

// retryableDeliveryErrors name the error classes worth trying the next
// configured tool for; anything else aborts the attempt chain.
var retryableDeliveryErrors = map[string]bool{
	"channel_not_found": true,
	"not_in_channel":    true,
}

// NotifierService delivers thread replies for resolved and escalated
// tickets, deduplicating by destination within one pass.
type NotifierService struct {
	tickets       repository.TicketRepository
	conversations repository.ConversationRepository
	accounts      repository.AccountRepository
	tools         repository.KnowledgeToolRepository
	dispatcher    events.Dispatcher
	http          *http.Client
	postURL       string
	appBaseURL    string
	logger        *zap.Logger
}

// NotifierDependencies bundles collaborators for NotifierService.
type NotifierDependencies struct {
	TicketRepo       repository.TicketRepository
	ConversationRepo repository.ConversationRepository
	AccountRepo      repository.AccountRepository
	ToolRepo         repository.KnowledgeToolRepository
	Dispatcher       events.Dispatcher
	PostMessageURL   string
	AppBaseURL       string
	Timeout          time.Duration
	Logger           *zap.Logger
}

// NewNotifierService constructs the service.
func NewNotifierService(deps NotifierDependencies) *NotifierService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 15 * time.Second
	}
	return &NotifierService{
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationRepo,
		accounts:      deps.AccountRepo,
		tools:         deps.ToolRepo,
		dispatcher:    deps.Dispatcher,
		http:          &http.Client{Timeout: deps.Timeout},
		postURL:       deps.PostMessageURL,
		appBaseURL:    deps.AppBaseURL,
		logger:        deps.Logger,
	}
}

type chatCredential struct {
	toolID string
	token  string
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`
	Text     string `json:"text"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Dispatch runs one notification pass and returns how many messages were
// delivered. Tickets sharing a destination all have their notify flag
// cleared after the first delivery for that destination.
func (s *NotifierService) Dispatch(ctx context.Context) (int, error) {
	tickets, err := s.tickets.ListNotifyPending(ctx, notifiableStatuses)
	if err != nil {
		return 0, err
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	credentials, err := s.loadCredentials(ctx)
	if err != nil {
		return 0, err
	}
	if len(credentials) == 0 {
		s.logger.Warn("no chat credentials configured; skipping notifications")
		return 0, nil
	}

	sent := 0
	delivered := make(map[string]bool)

	for i := range tickets {
		ticket := &tickets[i]
		key := destinationKey(ticket)

		if delivered[key] {
			// Another ticket already notified this thread; clear the flag
			// so it is not retried next pass.
			ticket.NotifyPending = false
			if err := s.tickets.Update(ctx, ticket); err != nil {
				s.logger.Error("unable to clear notify flag",
					zap.String("ticket_id", ticket.ID), zap.Error(err))
			}
			continue
		}

		text, err := s.composeMessage(ctx, ticket)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				s.logger.Warn("ticket has no answer to notify", zap.String("ticket_id", ticket.ID))
				continue
			}
			s.logger.Error("unable to compose notification",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}

		if s.deliver(ctx, ticket, credentials, text) {
			delivered[key] = true
			sent++
			ticket.NotifyPending = false
			if err := s.tickets.Update(ctx, ticket); err != nil {
				s.logger.Error("unable to clear notify flag",
					zap.String("ticket_id", ticket.ID), zap.Error(err))
			}
		}
	}
	return sent, nil
}

func destinationKey(ticket *domain.Ticket) string {
	channel, thread := "", ""
	if ticket.ChannelID != nil {
		channel = *ticket.ChannelID
	}
	if ticket.ThreadTS != nil {
		thread = *ticket.ThreadTS
	}
	return channel + "_" + thread
}

// loadCredentials collects the usable outbound chat tokens in their
// configured order.
func (s *NotifierService) loadCredentials(ctx context.Context) ([]chatCredential, error) {
	tools, err := s.tools.ListByType(ctx, domain.ToolTypeChat)
	if err != nil {
		return nil, err
	}

	var credentials []chatCredential
	for _, tool := range tools {
		var auth struct {
			Token string `json:"CHAT_API_TOKEN"`
		}
		if err := json.Unmarshal([]byte(tool.AuthInfo), &auth); err != nil {
			s.logger.Warn("chat tool auth info not parseable", zap.String("tool_id", tool.ID))
			continue
		}
		if auth.Token == "" {
			s.logger.Warn("chat tool has no token", zap.String("tool_id", tool.ID))
			continue
		}
		credentials = append(credentials, chatCredential{toolID: tool.ID, token: auth.Token})
	}
	return credentials, nil
}

// composeMessage builds the outbound text: status prefix, a requester
// mention for hearing tickets, the latest answer, and a permalink footer.
func (s *NotifierService) composeMessage(ctx context.Context, ticket *domain.Ticket) (string, error) {
	answer, err := s.conversations.LatestAssistant(ctx, ticket.ID)
	if err != nil {
		return "", err
	}

	prefix := ""
	switch ticket.AIStatus {
	case domain.AIStatusHumanWaiting:
		prefix = "【ヒアリング待ち】"
	case domain.AIStatusFulfilledAnswer:
		prefix = "【ヒアリング完了】"
	}

	account, err := s.accounts.GetByID(ctx, ticket.AccountID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	userName := unknownUserName
	if account != nil && account.Name != "" {
		userName = account.Name
	}

	mention := ""
	if ticket.Mode == domain.TicketModeHearing && account != nil {
		mention = fmt.Sprintf("%s さんからの質問への回答です。\n\n",
			mentionFor(ctx, s.accounts, account, account.Name))
	}

	return fmt.Sprintf("%s%s%s\n\n--\nこの回答は%sさんへの回答です。\n詳細はこちら：%s/?ticketId=%s",
		prefix, mention, answer.Text, userName, s.appBaseURL, ticket.ID), nil
}

// deliver walks the credential chain in order, stopping at the first
// success. Only destination-level errors move on to the next credential.
func (s *NotifierService) deliver(ctx context.Context, ticket *domain.Ticket, credentials []chatCredential, text string) bool {
	payload := postMessageRequest{
		Channel:  *ticket.ChannelID,
		ThreadTS: *ticket.ThreadTS,
		Text:     text,
	}

	for _, credential := range credentials {
		result, err := s.post(ctx, credential.token, payload)
		if err != nil {
			s.logger.Warn("notification post failed",
				zap.String("ticket_id", ticket.ID), zap.String("tool_id", credential.toolID), zap.Error(err))
			continue
		}
		if result.OK {
			s.logger.Info("notification sent",
				zap.String("ticket_id", ticket.ID),
				zap.String("tool_id", credential.toolID),
				zap.String("ai_status", string(ticket.AIStatus)))
			s.publish(ctx, events.EventNotificationSent, ticket, events.NotificationPayload{
				ChannelID: *ticket.ChannelID,
				ThreadTS:  *ticket.ThreadTS,
				ToolName:  credential.toolID,
			})
			return true
		}

		s.logger.Warn("notification rejected",
			zap.String("ticket_id", ticket.ID),
			zap.String("tool_id", credential.toolID),
			zap.String("error", result.Error))
		s.publish(ctx, events.EventNotificationError, ticket, events.NotificationPayload{
			ChannelID: *ticket.ChannelID,
			ThreadTS:  *ticket.ThreadTS,
			ToolName:  credential.toolID,
			Error:     result.Error,
		})
		if !retryableDeliveryErrors[result.Error] {
			break
		}
	}
	return false
}

func (s *NotifierService) post(ctx context.Context, token string, payload postMessageRequest) (*postMessageResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.postURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notification api returned status %d", resp.StatusCode)
	}
	return &result, nil
}

func (s *NotifierService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, payload any) {
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
