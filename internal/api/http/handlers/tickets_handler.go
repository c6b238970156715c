package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/orkdesk/ticket-resolver/internal/api/dto"
	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/service"
	apperrors "github.com/orkdesk/ticket-resolver/pkg/util"
)

// TicketsHandler manages intake ticket endpoints.
type TicketsHandler struct {
	intake *service.IntakeService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(intake *service.IntakeService) *TicketsHandler {
	return &TicketsHandler{intake: intake}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TenantID == "" || req.AccountID == "" || strings.TrimSpace(req.Message) == "" {
		return apperrors.NewValidationError("tenant_id, account_id, message required", nil)
	}

	ticket, _, err := h.intake.CreateTicket(c.UserContext(), service.TicketIntakeInput{
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		UserGroupID: req.UserGroupID,
		ModeID:      req.ModeID,
		ChannelID:   req.ChannelID,
		ThreadTS:    req.ThreadTS,
		Message:     req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, conversations, err := h.intake.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, conversations)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AccountID == "" || strings.TrimSpace(req.Message) == "" {
		return apperrors.NewValidationError("account_id, message required", nil)
	}

	ticket, conv, err := h.intake.AppendMessage(c.UserContext(), c.Params("id"), req.AccountID, req.Message)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"ticket":       ticketSummary(ticket),
			"conversation": conversationResponse(conv),
		},
	})
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:             ticket.ID,
		Status:         ticket.Status,
		AIStatus:       ticket.AIStatus,
		Mode:           ticket.Mode,
		Title:          ticket.Title,
		CautionMessage: ticket.CautionMessage,
		HearingIDs:     ticket.HearingIDs,
		UserGroupID:    ticket.UserGroupID,
		TenantID:       ticket.TenantID,
		AccountID:      ticket.AccountID,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, conversations []domain.Conversation) dto.TicketDetailResponse {
	thread := make([]dto.ConversationResponse, 0, len(conversations))
	for i := range conversations {
		thread = append(thread, conversationResponse(&conversations[i]))
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		Conversations: thread,
	}
}

func conversationResponse(conv *domain.Conversation) dto.ConversationResponse {
	return dto.ConversationResponse{
		ID:           conv.ID,
		Text:         conv.Text,
		QuestionType: conv.QuestionType,
		Role:         conv.Role,
		Creator:      conv.Creator,
		AccountID:    conv.AccountID,
		CreatedAt:    conv.CreatedAt,
	}
}
