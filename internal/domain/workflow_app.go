package domain

// WorkflowAppKind names the workflow application a credential belongs to.
type WorkflowAppKind string

const (
	AppKindAnswer            WorkflowAppKind = "answer"
	AppKindHearing           WorkflowAppKind = "hearing"
	AppKindTitleGenerator    WorkflowAppKind = "title_generator"
	AppKindKeywordsGenerator WorkflowAppKind = "keywords_generator"
)

// WorkflowApp is a registered external workflow application with its own
// API key, overriding the configured defaults when routed via a ModeProfile.
type WorkflowApp struct {
	ID       string
	Name     string
	Kind     WorkflowAppKind
	APIKey   string
	TenantID string
}

// ModeProfile routes a ticket's modeId to per-mode workflow applications.
type ModeProfile struct {
	ID           string
	FAQAppID     *string
	HearingAppID *string
	TenantID     string
}
