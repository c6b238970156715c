package domain

import "time"

// Account is a directory entry for a person who can ask questions or be
// asked to respond to hearings. Read-only from the resolution engine.
type Account struct {
	ID         string
	Name       string
	Email      string
	ChatUserID *string
	TenantID   string
}

// ChatIdentity links an account to its identity on the outbound chat
// platform. ChatID is the platform-native mention target.
type ChatIdentity struct {
	ID     string
	ChatID string
}

// HumanResource describes a potential hearing responder, including the
// free-text characterization fed to the workflow when picking candidates.
type HumanResource struct {
	ID               string
	RealName         string
	Email            string
	FeaturePrompt    string
	IsDefaultHearing bool
	TenantID         string
}

// UserGroupMember ties an account to a user group inside a tenant.
type UserGroupMember struct {
	ID          string
	UserGroupID string
	AccountID   string
	TenantID    string
	CreatedAt   time.Time
}
