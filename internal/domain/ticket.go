package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// AIStatus tracks where a ticket is in the automated resolution flow.
// queued is the entry state; answered, fulfilled_answer and error are
// terminal for the resolution engine.
type AIStatus string

const (
	AIStatusQueued          AIStatus = "queued"
	AIStatusAnswered        AIStatus = "answered"
	AIStatusHumanWaiting    AIStatus = "human_waiting"
	AIStatusHearingQueue    AIStatus = "hearing_queue"
	AIStatusFulfilledAnswer AIStatus = "fulfilled_answer"
	AIStatusError           AIStatus = "error"
)

// TicketMode distinguishes end-user questions from hearing requests routed
// to human responders. Mode is immutable after creation.
type TicketMode string

const (
	TicketModeFAQ     TicketMode = "faq"
	TicketModeHearing TicketMode = "hearing"
)

// Ticket is the aggregate for a question under resolution.
type Ticket struct {
	ID             string
	Status         TicketStatus
	AIStatus       AIStatus
	Mode           TicketMode
	ModeID         *string
	Title          string
	CautionMessage *string
	HearingIDs     []string
	UserGroupID    *string
	NotifyPending  bool
	ChannelID      *string
	ThreadTS       *string
	TenantID       string
	AccountID      string
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasDestination reports whether the ticket carries a usable outbound
// notification destination.
func (t *Ticket) HasDestination() bool {
	return t.ChannelID != nil && *t.ChannelID != "" && t.ThreadTS != nil && *t.ThreadTS != ""
}
