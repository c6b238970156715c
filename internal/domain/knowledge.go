package domain

import "time"

// KnowledgeToolType distinguishes knowledge categories from outbound
// delivery credentials, both stored as tools.
type KnowledgeToolType string

const (
	ToolTypeCustom KnowledgeToolType = "custom"
	ToolTypeChat   KnowledgeToolType = "chat"
)

// KnowledgeTool is either a knowledge category (custom) or a configured
// outbound chat credential (chat). AuthInfo holds a JSON blob whose shape
// depends on the type.
type KnowledgeTool struct {
	ID       string
	Type     KnowledgeToolType
	Name     string
	AuthInfo string
	TenantID string
}

// KnowledgeDocument is one unit of retrievable knowledge. A nil UserGroupID
// marks a tenant-wide document; otherwise the document is visible only to
// the named group.
type KnowledgeDocument struct {
	ID                  string
	Title               string
	Description         string
	Data                string
	Status              string
	Tags                []string
	CrawlerURL          *string
	CrawlerData         *string
	StorageFileURL      *string
	StorageFileData     *string
	StorageFileName     *string
	StorageFileMimeType *string
	KnowledgeToolID     string
	UserGroupID         *string
	TenantID            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
