package dto

import (
	"time"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	TenantID    string  `json:"tenant_id"`
	AccountID   string  `json:"account_id"`
	UserGroupID *string `json:"user_group_id"`
	ModeID      *string `json:"mode_id"`
	ChannelID   *string `json:"channel_id"`
	ThreadTS    *string `json:"thread_ts"`
	Message     string  `json:"message"`
}

// CreateMessageRequest payload for follow-up questions.
type CreateMessageRequest struct {
	AccountID string `json:"account_id"`
	Message   string `json:"message"`
}

// TicketSummary response.
type TicketSummary struct {
	ID             string              `json:"id"`
	Status         domain.TicketStatus `json:"status"`
	AIStatus       domain.AIStatus     `json:"ai_status"`
	Mode           domain.TicketMode   `json:"mode"`
	Title          string              `json:"title"`
	CautionMessage *string             `json:"caution_message,omitempty"`
	HearingIDs     []string            `json:"hearing_ids,omitempty"`
	UserGroupID    *string             `json:"user_group_id"`
	TenantID       string              `json:"tenant_id"`
	AccountID      string              `json:"account_id"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info with its thread.
type TicketDetailResponse struct {
	TicketSummary
	Conversations []ConversationResponse `json:"conversations"`
}

// ConversationResponse represents one thread entry.
type ConversationResponse struct {
	ID           string                  `json:"id"`
	Text         string                  `json:"text"`
	QuestionType domain.QuestionType     `json:"question_type"`
	Role         domain.ConversationRole `json:"role"`
	Creator      domain.Creator          `json:"creator"`
	AccountID    string                  `json:"account_id"`
	CreatedAt    time.Time               `json:"created_at"`
}
