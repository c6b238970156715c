package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

// KnowledgeFilter scopes a document search. When UserGroupID is nil only
// tenant-wide documents (null group) match; group-scoped and tenant-wide
// documents are never mixed in one query.
type KnowledgeFilter struct {
	TenantID    string
	UserGroupID *string
	// Keywords are ANDed; each keyword must partially match at least one
	// of the document text fields, case-insensitively.
	Keywords []string
}

// KnowledgeDocumentRepository manages the retrievable corpus.
type KnowledgeDocumentRepository interface {
	Create(ctx context.Context, doc *domain.KnowledgeDocument) error
	Search(ctx context.Context, filter KnowledgeFilter) ([]domain.KnowledgeDocument, error)
}

// KnowledgeToolRepository reads tool records (knowledge categories and
// outbound chat credentials).
type KnowledgeToolRepository interface {
	FirstByType(ctx context.Context, toolType domain.KnowledgeToolType) (*domain.KnowledgeTool, error)
	ListByType(ctx context.Context, toolType domain.KnowledgeToolType) ([]domain.KnowledgeTool, error)
}

type knowledgeDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewKnowledgeDocumentRepository builds repository.
func NewKnowledgeDocumentRepository(pool *pgxpool.Pool) KnowledgeDocumentRepository {
	return &knowledgeDocumentRepository{pool: pool}
}

const knowledgeColumns = `id, title, description, data, status, tags, crawler_url, crawler_data,
       storage_file_url, storage_file_data, storage_file_name, storage_file_mime_type,
       knowledge_tool_id, user_group_id, tenant_id, created_at, updated_at`

// searchableFields are the document text fields eligible for keyword match.
var searchableFields = []string{"title", "description", "data", "crawler_data", "storage_file_data"}

func (r *knowledgeDocumentRepository) Create(ctx context.Context, doc *domain.KnowledgeDocument) error {
	const query = `
        INSERT INTO knowledge_documents (title, description, data, status, tags, crawler_url, crawler_data,
            storage_file_url, storage_file_data, storage_file_name, storage_file_mime_type,
            knowledge_tool_id, user_group_id, tenant_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		doc.Title,
		doc.Description,
		doc.Data,
		doc.Status,
		doc.Tags,
		doc.CrawlerURL,
		doc.CrawlerData,
		doc.StorageFileURL,
		doc.StorageFileData,
		doc.StorageFileName,
		doc.StorageFileMimeType,
		doc.KnowledgeToolID,
		doc.UserGroupID,
		doc.TenantID,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *knowledgeDocumentRepository) Search(ctx context.Context, filter KnowledgeFilter) ([]domain.KnowledgeDocument, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}

	if filter.UserGroupID != nil {
		args = append(args, *filter.UserGroupID)
		clauses = append(clauses, fmt.Sprintf("user_group_id=$%d", len(args)))
	} else {
		clauses = append(clauses, "user_group_id IS NULL")
	}

	for _, keyword := range filter.Keywords {
		args = append(args, "%"+keyword+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		fields := make([]string, len(searchableFields))
		for i, field := range searchableFields {
			fields[i] = fmt.Sprintf("%s ILIKE %s", field, placeholder)
		}
		clauses = append(clauses, "("+strings.Join(fields, " OR ")+")")
	}

	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_documents WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeDocuments(rows)
}

func scanKnowledgeDocuments(rows pgx.Rows) ([]domain.KnowledgeDocument, error) {
	var result []domain.KnowledgeDocument
	for rows.Next() {
		var doc domain.KnowledgeDocument
		if err := rows.Scan(
			&doc.ID,
			&doc.Title,
			&doc.Description,
			&doc.Data,
			&doc.Status,
			&doc.Tags,
			&doc.CrawlerURL,
			&doc.CrawlerData,
			&doc.StorageFileURL,
			&doc.StorageFileData,
			&doc.StorageFileName,
			&doc.StorageFileMimeType,
			&doc.KnowledgeToolID,
			&doc.UserGroupID,
			&doc.TenantID,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

type knowledgeToolRepository struct {
	pool *pgxpool.Pool
}

// NewKnowledgeToolRepository builds repository.
func NewKnowledgeToolRepository(pool *pgxpool.Pool) KnowledgeToolRepository {
	return &knowledgeToolRepository{pool: pool}
}

func (r *knowledgeToolRepository) FirstByType(ctx context.Context, toolType domain.KnowledgeToolType) (*domain.KnowledgeTool, error) {
	const query = `
        SELECT id, type, name, auth_info, tenant_id
        FROM knowledge_tools WHERE type=$1 ORDER BY created_at ASC LIMIT 1`
	var tool domain.KnowledgeTool
	if err := r.pool.QueryRow(ctx, query, toolType).Scan(
		&tool.ID, &tool.Type, &tool.Name, &tool.AuthInfo, &tool.TenantID,
	); err != nil {
		return nil, err
	}
	return &tool, nil
}

func (r *knowledgeToolRepository) ListByType(ctx context.Context, toolType domain.KnowledgeToolType) ([]domain.KnowledgeTool, error) {
	const query = `
        SELECT id, type, name, auth_info, tenant_id
        FROM knowledge_tools WHERE type=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, toolType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.KnowledgeTool
	for rows.Next() {
		var tool domain.KnowledgeTool
		if err := rows.Scan(&tool.ID, &tool.Type, &tool.Name, &tool.AuthInfo, &tool.TenantID); err != nil {
			return nil, err
		}
		result = append(result, tool)
	}
	return result, rows.Err()
}
