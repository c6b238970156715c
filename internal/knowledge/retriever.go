package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
)

// MaxKnowledgeChars caps the concatenated knowledge text sent downstream.
const MaxKnowledgeChars = 150000

const keywordCacheTTL = 10 * time.Minute

// WorkflowRunner is the blocking slice of the workflow client the
// retriever needs to generate search keywords.
type WorkflowRunner interface {
	RunBlocking(ctx context.Context, apiKey string, inputs map[string]any) (workflow.Outputs, error)
}

// Scope identifies which slice of the corpus a ticket may see. When
// UserGroupID is nil only tenant-wide documents are eligible; the two
// scopes are never mixed.
type Scope struct {
	TenantID    string
	UserGroupID *string
	Mode        domain.TicketMode
	ModeID      *string
}

// Dependencies wires the retriever.
type Dependencies struct {
	Documents repository.KnowledgeDocumentRepository
	Apps      repository.WorkflowAppRepository
	Runner    WorkflowRunner
	Cache     *redis.Client
	// KeywordsAPIKey is the default key for the keyword-generator
	// workflow, overridable per mode profile.
	KeywordsAPIKey string
	Logger         *zap.Logger
}

// Retriever selects supporting documents for a question by generating
// search keywords and narrowing the corpus with them.
type Retriever struct {
	deps Dependencies
}

// NewRetriever constructs a Retriever.
func NewRetriever(deps Dependencies) *Retriever {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Retriever{deps: deps}
}

// Retrieve returns the documents supporting query within scope. Keyword
// generation failure, search errors, and an empty narrowing result all
// degrade to the full scoped corpus rather than failing the ticket.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope Scope) ([]domain.KnowledgeDocument, error) {
	keywords, err := r.generateKeywords(ctx, query, scope)
	if err != nil || len(keywords) == 0 {
		if err != nil {
			r.deps.Logger.Warn("keyword generation failed; using full corpus",
				zap.String("tenant_id", scope.TenantID), zap.Error(err))
		}
		return r.fullCorpus(ctx, scope)
	}

	counts := make(map[string]int)
	var found []domain.KnowledgeDocument

	for i := len(keywords); i >= 1; i-- {
		filter := repository.KnowledgeFilter{
			TenantID:    scope.TenantID,
			UserGroupID: scope.UserGroupID,
			Keywords:    keywords[:i],
		}
		results, err := r.deps.Documents.Search(ctx, filter)
		if err != nil {
			r.deps.Logger.Warn("keyword search failed; using full corpus", zap.Error(err))
			return r.fullCorpus(ctx, scope)
		}

		for _, doc := range results {
			if _, seen := counts[doc.ID]; seen {
				counts[doc.ID]++
			} else {
				counts[doc.ID] = 1
				found = append(found, doc)
			}
		}

		if matched := withMinCount(found, counts, 2); len(matched) > 0 {
			r.deps.Logger.Debug("keyword narrowing converged",
				zap.Int("keywords", i), zap.Int("documents", len(matched)))
			return matched, nil
		}
	}

	return r.fullCorpus(ctx, scope)
}

func withMinCount(docs []domain.KnowledgeDocument, counts map[string]int, min int) []domain.KnowledgeDocument {
	var out []domain.KnowledgeDocument
	for _, doc := range docs {
		if counts[doc.ID] >= min {
			out = append(out, doc)
		}
	}
	return out
}

func (r *Retriever) fullCorpus(ctx context.Context, scope Scope) ([]domain.KnowledgeDocument, error) {
	return r.deps.Documents.Search(ctx, repository.KnowledgeFilter{
		TenantID:    scope.TenantID,
		UserGroupID: scope.UserGroupID,
	})
}

// generateKeywords asks the keyword-generator workflow for an ordered
// keyword list, consulting the cache first when one is configured.
func (r *Retriever) generateKeywords(ctx context.Context, query string, scope Scope) ([]string, error) {
	cacheKey := keywordCacheKey(scope.TenantID, scope.UserGroupID, query)
	if cached, ok := r.cachedKeywords(ctx, cacheKey); ok {
		return cached, nil
	}

	inputs := map[string]any{
		"q":           query,
		"tenantId":    scope.TenantID,
		"userGroupId": scope.UserGroupID,
	}
	outputs, err := r.deps.Runner.RunBlocking(ctx, r.keywordsAPIKey(ctx, scope), inputs)
	if err != nil {
		return nil, err
	}

	keywords := outputs.StringList("keywords")
	if len(keywords) > 0 {
		r.storeKeywords(ctx, cacheKey, keywords)
	}
	return keywords, nil
}

// keywordsAPIKey resolves the API key for keyword generation. A mode
// profile may route the ticket's mode to a dedicated keyword-generator
// app; anything else falls back to the default key.
func (r *Retriever) keywordsAPIKey(ctx context.Context, scope Scope) string {
	key := r.deps.KeywordsAPIKey
	if scope.ModeID == nil || r.deps.Apps == nil {
		return key
	}

	profile, err := r.deps.Apps.GetProfile(ctx, *scope.ModeID)
	if err != nil || profile == nil {
		return key
	}

	var appID *string
	switch scope.Mode {
	case domain.TicketModeHearing:
		appID = profile.HearingAppID
	case domain.TicketModeFAQ:
		appID = profile.FAQAppID
	}
	if appID == nil {
		return key
	}

	app, err := r.deps.Apps.GetApp(ctx, *appID)
	if err != nil || app == nil || app.APIKey == "" {
		return key
	}
	if app.Kind != domain.AppKindKeywordsGenerator {
		return key
	}
	r.deps.Logger.Debug("using mode-specific keyword generator", zap.String("app", app.Name))
	return app.APIKey
}

func (r *Retriever) cachedKeywords(ctx context.Context, key string) ([]string, bool) {
	if r.deps.Cache == nil {
		return nil, false
	}
	raw, err := r.deps.Cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.deps.Logger.Debug("keyword cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		return nil, false
	}
	return keywords, true
}

func (r *Retriever) storeKeywords(ctx context.Context, key string, keywords []string) {
	if r.deps.Cache == nil {
		return
	}
	raw, err := json.Marshal(keywords)
	if err != nil {
		return
	}
	if err := r.deps.Cache.Set(ctx, key, raw, keywordCacheTTL).Err(); err != nil {
		r.deps.Logger.Debug("keyword cache write failed", zap.Error(err))
	}
}

func keywordCacheKey(tenantID string, userGroupID *string, query string) string {
	group := ""
	if userGroupID != nil {
		group = *userGroupID
	}
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("resolver:keywords:%s:%s:%s", tenantID, group, hex.EncodeToString(sum[:8]))
}

// BuildKnowledgeText concatenates documents into the tagged text block
// consumed by the answer workflows, truncated to MaxKnowledgeChars.
func BuildKnowledgeText(docs []domain.KnowledgeDocument) string {
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString("\n<knowledgeData>\n")
		b.WriteString("知識タイトル: " + doc.Title + "\n")
		b.WriteString("知識の説明: " + doc.Description + "\n")
		b.WriteString("知識データ: " + doc.Data)
		if doc.CrawlerURL != nil {
			b.WriteString("\nリンク: " + *doc.CrawlerURL)
		}
		if doc.CrawlerData != nil {
			b.WriteString("\nクローリングデータ: " + *doc.CrawlerData)
		}
		if doc.StorageFileURL != nil {
			b.WriteString("\nストレージファイルURL: " + *doc.StorageFileURL)
		}
		if doc.StorageFileData != nil {
			b.WriteString("\nストレージファイルデータ: " + *doc.StorageFileData)
		}
		if doc.StorageFileName != nil {
			b.WriteString("\nストレージファイル名: " + *doc.StorageFileName)
		}
		if doc.StorageFileMimeType != nil {
			b.WriteString("\nストレージファイルMIMEタイプ: " + *doc.StorageFileMimeType)
		}
		b.WriteString("\n</knowledgeData>")
	}

	text := b.String()
	if utf8.RuneCountInString(text) > MaxKnowledgeChars {
		runes := []rune(text)
		return string(runes[:MaxKnowledgeChars])
	}
	return text
}
