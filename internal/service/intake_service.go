package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/events"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	apperrors "github.com/orkdesk/ticket-resolver/pkg/util"
)

// IntakeService accepts questions from upstream channels and queues them for
// resolution. It never touches the workflow itself.
type IntakeService struct {
	tickets       repository.TicketRepository
	conversations repository.ConversationRepository
	dispatcher    events.Dispatcher
	logger        *zap.Logger
}

// IntakeDependencies bundles collaborators for the IntakeService.
type IntakeDependencies struct {
	TicketRepo       repository.TicketRepository
	ConversationRepo repository.ConversationRepository
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
}

// NewIntakeService builds the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationRepo,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
	}
}

// TicketIntakeInput carries a new question from an upstream channel.
type TicketIntakeInput struct {
	TenantID    string
	AccountID   string
	UserGroupID *string
	ModeID      *string
	ChannelID   *string
	ThreadTS    *string
	Message     string
}

// CreateTicket opens a queued ticket carrying the question as its first
// conversation entry.
func (s *IntakeService) CreateTicket(ctx context.Context, input TicketIntakeInput) (*domain.Ticket, *domain.Conversation, error) {
	ticket := &domain.Ticket{
		Status:      domain.TicketStatusOpen,
		AIStatus:    domain.AIStatusQueued,
		Mode:        domain.TicketModeFAQ,
		ModeID:      input.ModeID,
		UserGroupID: input.UserGroupID,
		ChannelID:   input.ChannelID,
		ThreadTS:    input.ThreadTS,
		TenantID:    input.TenantID,
		AccountID:   input.AccountID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, nil, err
	}

	conv := &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         input.Message,
		QuestionType: domain.QuestionTypeQuestion,
		Role:         domain.RoleUser,
		Creator:      domain.CreatorUser,
		TenantID:     input.TenantID,
		AccountID:    input.AccountID,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, nil, err
	}

	s.logger.Info("ticket received",
		zap.String("ticket_id", ticket.ID),
		zap.String("tenant_id", ticket.TenantID))
	s.publish(ctx, ticket)
	return ticket, conv, nil
}

// AppendMessage adds a follow-up question to an existing ticket and requeues
// it for resolution.
func (s *IntakeService) AppendMessage(ctx context.Context, ticketID, accountID, message string) (*domain.Ticket, *domain.Conversation, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, nil, apperrors.NewConflict("ticket is closed", nil)
	}

	conv := &domain.Conversation{
		TicketID:     ticket.ID,
		Text:         message,
		QuestionType: domain.QuestionTypeQuestion,
		Role:         domain.RoleUser,
		Creator:      domain.CreatorUser,
		TenantID:     ticket.TenantID,
		AccountID:    accountID,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, nil, err
	}

	ticket.AIStatus = domain.AIStatusQueued
	ticket.ClaimedAt = nil
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, nil, err
	}

	s.logger.Info("ticket requeued",
		zap.String("ticket_id", ticket.ID),
		zap.String("tenant_id", ticket.TenantID))
	s.publish(ctx, ticket)
	return ticket, conv, nil
}

// GetTicket returns a ticket with its conversation thread.
func (s *IntakeService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Conversation, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	conversations, err := s.conversations.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, conversations, nil
}

func (s *IntakeService) publish(ctx context.Context, ticket *domain.Ticket) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketReceived,
		TicketID:  ticket.ID,
		TenantID:  ticket.TenantID,
		Timestamp: time.Now(),
	})
}
