package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

func chunkRows(chunks ...*domain.Chunk) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "document_id", "level", "parent_id", "sibling_ids", "ordinal",
		"text", "token_count", "heading_path", "start_offset", "end_offset", "overlap_prefix_len",
	})
	for _, c := range chunks {
		rows.AddRow(
			c.ID, c.DocumentID, string(c.Level), c.ParentID, []byte(`[]`), c.Ordinal,
			c.Text, c.TokenCount, []byte(`["Algorithms"]`), c.StartOffset, c.EndOffset, c.OverlapPrefixLen,
		)
	}
	return rows
}

func TestSaveBatchUpsertsEachChunk(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewChunkStore(db)

	chunks := []*domain.Chunk{
		{ID: "chunk-p0", DocumentID: "doc-1", Level: domain.ChunkLevelParent, Ordinal: 0, Text: "parent text", TokenCount: 40},
		{ID: "chunk-c0", DocumentID: "doc-1", Level: domain.ChunkLevelChild, ParentID: "chunk-p0", Ordinal: 0, Text: "child text", TokenCount: 12},
	}

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare("INSERT INTO chunks")
	for range chunks {
		prepared.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := store.SaveBatch(context.Background(), chunks)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchNoopOnEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewChunkStore(db)

	err := store.SaveBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByDocumentDecodesJSONColumns(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewChunkStore(db)

	parent := &domain.Chunk{ID: "chunk-p0", DocumentID: "doc-1", Level: domain.ChunkLevelParent, Ordinal: 0, Text: "parent", TokenCount: 40}
	child := &domain.Chunk{ID: "chunk-c0", DocumentID: "doc-1", Level: domain.ChunkLevelChild, ParentID: "chunk-p0", Ordinal: 0, Text: "child", TokenCount: 12}

	mock.ExpectQuery("FROM chunks").
		WithArgs("doc-1").
		WillReturnRows(chunkRows(parent, child))

	got, err := store.GetByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChunkLevelParent, got[0].Level)
	assert.Equal(t, []string{"Algorithms"}, got[1].HeadingPath)
	assert.Empty(t, got[0].SiblingIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDsUsesArrayParameter(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewChunkStore(db)

	chunk := &domain.Chunk{ID: "chunk-c0", DocumentID: "doc-1", Level: domain.ChunkLevelChild, Ordinal: 0, Text: "child", TokenCount: 12}

	mock.ExpectQuery("WHERE id = ANY").
		WithArgs(pq.Array([]string{"chunk-c0"})).
		WillReturnRows(chunkRows(chunk))

	got, err := store.GetByIDs(context.Background(), []string{"chunk-c0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chunk-c0", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDsEmptyInput(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewChunkStore(db)

	got, err := store.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
