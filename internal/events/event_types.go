package events

import (
	"time"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketReceived    EventType = "ticket_received"
	EventTicketAnswered    EventType = "ticket_answered"
	EventTicketFailed      EventType = "ticket_failed"
	EventHearingSpawned    EventType = "hearing_spawned"
	EventHearingFulfilled  EventType = "hearing_fulfilled"
	EventNotificationSent  EventType = "notification_sent"
	EventNotificationError EventType = "notification_error"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	TenantID  string      `json:"tenant_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketAnsweredPayload payload.
type TicketAnsweredPayload struct {
	ResultCode string          `json:"result_code"`
	AIStatus   domain.AIStatus `json:"ai_status"`
}

// TicketFailedPayload payload.
type TicketFailedPayload struct {
	Reason string `json:"reason"`
}

// HearingSpawnedPayload payload.
type HearingSpawnedPayload struct {
	HearingTicketID  string `json:"hearing_ticket_id"`
	HearingAccountID string `json:"hearing_account_id"`
}

// HearingFulfilledPayload payload.
type HearingFulfilledPayload struct {
	ParentTicketID string `json:"parent_ticket_id"`
}

// NotificationPayload payload.
type NotificationPayload struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
	ToolName  string `json:"tool_name,omitempty"`
	Error     string `json:"error,omitempty"`
}
