package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ChunkStore = (*ChunkStore)(nil)

const chunkColumns = `id, document_id, level, parent_id, sibling_ids, ordinal,
	text, token_count, heading_path, start_offset, end_offset, overlap_prefix_len`

// ChunkStore implements driven.ChunkStore using PostgreSQL.
// Note: vectors live in the vector store, not here.
type ChunkStore struct {
	db *DB
}

// NewChunkStore creates a new ChunkStore
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// SaveBatch saves a document's chunks in a transaction
func (s *ChunkStore) SaveBatch(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO chunks (id, document_id, level, parent_id, sibling_ids, ordinal,
				text, token_count, heading_path, start_offset, end_offset, overlap_prefix_len)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				text = EXCLUDED.text,
				token_count = EXCLUDED.token_count,
				sibling_ids = EXCLUDED.sibling_ids,
				heading_path = EXCLUDED.heading_path,
				start_offset = EXCLUDED.start_offset,
				end_offset = EXCLUDED.end_offset,
				overlap_prefix_len = EXCLUDED.overlap_prefix_len
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			siblings, err := json.Marshal(chunk.SiblingIDs)
			if err != nil {
				return err
			}
			headings, err := json.Marshal(chunk.HeadingPath)
			if err != nil {
				return err
			}

			_, err = stmt.ExecContext(ctx,
				chunk.ID,
				chunk.DocumentID,
				string(chunk.Level),
				chunk.ParentID,
				siblings,
				chunk.Ordinal,
				chunk.Text,
				chunk.TokenCount,
				headings,
				chunk.StartOffset,
				chunk.EndOffset,
				chunk.OverlapPrefixLen,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByDocument retrieves all chunks for a document, parents first, each
// level in ordinal order.
func (s *ChunkStore) GetByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE document_id = $1
		ORDER BY CASE level WHEN 'parent' THEN 0 ELSE 1 END, ordinal ASC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// GetByIDs retrieves chunks by ID
func (s *ChunkStore) GetByIDs(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// DeleteByDocument deletes all chunks for a document
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

func (s *ChunkStore) scanChunks(rows *sql.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		var level string
		var siblings, headings []byte

		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&level,
			&chunk.ParentID,
			&siblings,
			&chunk.Ordinal,
			&chunk.Text,
			&chunk.TokenCount,
			&headings,
			&chunk.StartOffset,
			&chunk.EndOffset,
			&chunk.OverlapPrefixLen,
		)
		if err != nil {
			return nil, err
		}

		chunk.Level = domain.ChunkLevel(level)
		if len(siblings) > 0 {
			if err := json.Unmarshal(siblings, &chunk.SiblingIDs); err != nil {
				return nil, err
			}
		}
		if len(headings) > 0 {
			if err := json.Unmarshal(headings, &chunk.HeadingPath); err != nil {
				return nil, err
			}
		}

		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}
