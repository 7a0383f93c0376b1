package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

const documentColumns = `id, org_id, course_id, title, mime_type, size_bytes,
	content_hash, original_id, ref_count, index_state, index_error,
	created_at, updated_at`

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// FindOrCreateOriginal resolves a content hash to its original document.
// The partial unique index on (content_hash) WHERE original_id = '' makes
// the insert race-safe: a concurrent insert of the same hash loses the
// conflict and falls through to reading the winner's row.
func (s *DocumentStore) FindOrCreateOriginal(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	query := `
		INSERT INTO documents (id, org_id, course_id, title, mime_type, size_bytes,
			content_hash, original_id, ref_count, index_state, index_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', 1, $8, '', NOW(), NOW())
		ON CONFLICT (content_hash) WHERE original_id = '' DO NOTHING
		RETURNING ` + documentColumns

	created, err := s.scanDocument(s.db.QueryRowContext(ctx, query,
		doc.ID,
		doc.OrgID,
		doc.CourseID,
		doc.Title,
		doc.MimeType,
		doc.SizeBytes,
		doc.ContentHash,
		string(domain.IndexStatePending),
	))
	if err == nil {
		return created, true, nil
	}
	if err != domain.ErrNotFound {
		return nil, false, err
	}

	existing, err := s.GetByHash(ctx, doc.ContentHash)
	if err != nil {
		if err == domain.ErrNotFound {
			// The winning original vanished between our insert and this read.
			return nil, false, fmt.Errorf("original for hash removed concurrently: %w", domain.ErrConflict)
		}
		return nil, false, err
	}
	return existing, false, nil
}

// CreateReference inserts a reference row and bumps the original's
// reference count in one transaction.
func (s *DocumentStore) CreateReference(ctx context.Context, ref *domain.Document) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE documents SET ref_count = ref_count + 1, updated_at = NOW()
			WHERE id = $1 AND original_id = ''
		`, ref.OriginalID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, org_id, course_id, title, mime_type, size_bytes,
				content_hash, original_id, ref_count, index_state, index_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, '', NOW(), NOW())
		`,
			ref.ID,
			ref.OrgID,
			ref.CourseID,
			ref.Title,
			ref.MimeType,
			ref.SizeBytes,
			ref.ContentHash,
			ref.OriginalID,
			string(domain.IndexStatePending),
		)
		return err
	})
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return s.scanDocument(s.db.QueryRowContext(ctx, query, id))
}

// GetByHash retrieves the original document for a content hash
func (s *DocumentStore) GetByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = $1 AND original_id = ''`
	return s.scanDocument(s.db.QueryRowContext(ctx, query, contentHash))
}

// ListReferences returns the references pointing at an original
func (s *DocumentStore) ListReferences(ctx context.Context, originalID string) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE original_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, originalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanDocuments(rows)
}

// ListByCourse retrieves documents in a course with pagination
func (s *DocumentStore) ListByCourse(ctx context.Context, orgID, courseID string, limit, offset int) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE org_id = $1 AND course_id = $2
		ORDER BY created_at DESC, id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, courseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanDocuments(rows)
}

// UpdateIndexState transitions a document's lifecycle state
func (s *DocumentStore) UpdateIndexState(ctx context.Context, id string, state domain.IndexState, indexError string) error {
	query := `
		UPDATE documents
		SET index_state = $1, index_error = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, string(state), indexError, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DecrementRefCount atomically decrements an original's reference count
// and returns the remaining count.
func (s *DocumentStore) DecrementRefCount(ctx context.Context, originalID string) (int, error) {
	query := `
		UPDATE documents
		SET ref_count = GREATEST(ref_count - 1, 0), updated_at = NOW()
		WHERE id = $1 AND original_id = ''
		RETURNING ref_count
	`

	var remaining int
	err := s.db.QueryRowContext(ctx, query, originalID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Delete removes a document row
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns total document count for an organisation
func (s *DocumentStore) Count(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE org_id = $1`, orgID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *DocumentStore) scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var state string

	err := row.Scan(
		&doc.ID,
		&doc.OrgID,
		&doc.CourseID,
		&doc.Title,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.ContentHash,
		&doc.OriginalID,
		&doc.RefCount,
		&state,
		&doc.IndexError,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc.IndexState = domain.IndexState(state)
	return &doc, nil
}

func (s *DocumentStore) scanDocuments(rows *sql.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
