package domain

import "time"

// Hearing records a request routed to a human responder. Each hearing is
// backed by exactly one child ticket (mode=hearing) whose HearingIDs[0]
// equals this hearing's id. TicketID points back at the ticket that
// triggered the hearing.
type Hearing struct {
	ID               string
	TicketID         string
	HearingAccountID string
	HearingReason    string
	TenantID         string
	AccountID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
