package domain

import "time"

// ChunkLevel distinguishes the two granularities the splitter produces
type ChunkLevel string

const (
	ChunkLevelParent ChunkLevel = "parent" // retrieval context
	ChunkLevelChild  ChunkLevel = "child"  // embedded and searched
)

// Chunk is one split segment of a document's normalized markdown. Parents
// hold large context windows; children subdivide a parent and are the units
// that get embedded and uploaded.
type Chunk struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"document_id"`
	Level            ChunkLevel `json:"level"`
	ParentID         string     `json:"parent_id,omitempty"`   // children only
	SiblingIDs       []string   `json:"sibling_ids,omitempty"` // the other children of the same parent, in order
	Ordinal          int        `json:"ordinal"`               // position within document (parents) or parent (children)
	Text             string     `json:"text"`
	TokenCount       int        `json:"token_count"`
	HeadingPath      []string   `json:"heading_path,omitempty"`
	StartOffset      int        `json:"start_offset"` // byte offsets into the normalized document text
	EndOffset        int        `json:"end_offset"`
	OverlapPrefixLen int        `json:"overlap_prefix_len,omitempty"` // bytes repeated from the previous sibling
}

// DocumentContext carries the per-document fields the enricher stamps onto
// every chunk
type DocumentContext struct {
	DocumentID string
	OrgID      string
	CourseID   string
	Title      string
	MimeType   string
}

// EnrichedChunk is a chunk plus the tenancy and structural metadata the
// payload and filters are built from. Enrichment is a pure derivation.
type EnrichedChunk struct {
	Chunk
	OrgID       string    `json:"org_id"`
	CourseID    string    `json:"course_id"`
	HasCode     bool      `json:"has_code"`
	HasFormulas bool      `json:"has_formulas"`
	HasTables   bool      `json:"has_tables"`
	HasImages   bool      `json:"has_images"`
	PageStart   int       `json:"page_start,omitempty"` // 0 when unknown
	PageEnd     int       `json:"page_end,omitempty"`
	ImageRefs   []string  `json:"image_refs,omitempty"`
	TableRefs   []string  `json:"table_refs,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
