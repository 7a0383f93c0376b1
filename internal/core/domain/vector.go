package domain

// SparseVector is a BM25-weighted bag of hashed terms, sorted ascending by
// index. Two generations over the same text and statistics are identical
// bit for bit.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector carries no terms.
func (v SparseVector) IsZero() bool {
	return len(v.Indices) == 0
}

// EmbeddingTask selects the provider-side instruction tuning for a request
type EmbeddingTask string

const (
	EmbeddingTaskPassage EmbeddingTask = "retrieval.passage"
	EmbeddingTaskQuery   EmbeddingTask = "retrieval.query"
)

// EmbeddingResult pairs one chunk with its computed vectors
type EmbeddingResult struct {
	ChunkID    string       `json:"chunk_id"`
	Dense      []float32    `json:"dense"`
	Sparse     SparseVector `json:"sparse"`
	TokenCount int          `json:"token_count"`
	FromCache  bool         `json:"-"`
}

// ChunkPayload is the typed payload stored alongside every vector point.
// The uploader writes it and the search engine filters and reads it; both
// sides share this one struct so fields cannot drift.
type ChunkPayload struct {
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	ParentID    string   `json:"parent_id,omitempty"`
	OrgID       string   `json:"org_id"`
	CourseID    string   `json:"course_id"`
	Ordinal     int      `json:"ordinal"`
	Text        string   `json:"text"`
	HeadingPath []string `json:"heading_path,omitempty"`
	HasCode     bool     `json:"has_code"`
	HasFormulas bool     `json:"has_formulas"`
	HasTables   bool     `json:"has_tables"`
	HasImages   bool     `json:"has_images"`
	PageStart   int      `json:"page_start,omitempty"`
	PageEnd     int      `json:"page_end,omitempty"`
}

// VectorPoint is one upsert unit for the vector store. ID is derived
// deterministically from the chunk ID so re-uploads overwrite in place.
type VectorPoint struct {
	ID      string       `json:"id"`
	Dense   []float32    `json:"dense"`
	Sparse  SparseVector `json:"sparse"`
	Payload ChunkPayload `json:"payload"`
}

// ScoredPoint is one hit returned by a single-modality vector store query
type ScoredPoint struct {
	ID      string       `json:"id"`
	Score   float64      `json:"score"`
	Payload ChunkPayload `json:"payload"`
}
