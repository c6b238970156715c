package domain

import "time"

// QuestionType classifies a conversation entry.
type QuestionType string

const (
	QuestionTypeQuestion QuestionType = "question"
	QuestionTypeAnswer   QuestionType = "answer"
)

// ConversationRole mirrors the chat-style role of the entry author.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// Creator identifies what produced a conversation entry.
type Creator string

const (
	CreatorUser Creator = "user"
	CreatorAI   Creator = "ai"
)

// Conversation is one entry in a ticket's thread. The pending answer record
// for a ticket starts with an empty text and is mutated exactly once per
// workflow round-trip.
type Conversation struct {
	ID           string
	TicketID     string
	Text         string
	QuestionType QuestionType
	Role         ConversationRole
	Creator      Creator
	TenantID     string
	AccountID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
