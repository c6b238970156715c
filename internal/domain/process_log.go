package domain

import "time"

// ProcessLogType labels a process log entry.
type ProcessLogType string

const (
	ProcessLogProcess   ProcessLogType = "process"
	ProcessLogGenerate  ProcessLogType = "question_answer_generate_process"
	ProcessLogSSEEvent  ProcessLogType = "sse_event"
	ProcessLogError     ProcessLogType = "error"
	ProcessLogException ProcessLogType = "exception"
)

// ProcessLog is an append-only audit entry keyed by conversation, used for
// observability. Write-only from the resolution engine.
type ProcessLog struct {
	ID             string
	ConversationID string
	Type           ProcessLogType
	Data           string
	TenantID       string
	CreatedAt      time.Time
}
