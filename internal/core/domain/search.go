package domain

import "time"

// RankSource records which retrieval list(s) produced a fused result
type RankSource string

const (
	RankSourceDense  RankSource = "dense"
	RankSourceSparse RankSource = "sparse"
	RankSourceBoth   RankSource = "both"
)

// SearchOptions configures a search request
type SearchOptions struct {
	Limit       int   `json:"limit"`
	WithParents bool  `json:"with_parents"` // hydrate parent context text
	HasCode     *bool `json:"has_code,omitempty"`
	HasFormulas *bool `json:"has_formulas,omitempty"`
	HasTables   *bool `json:"has_tables,omitempty"`
}

// DefaultSearchOptions returns sensible defaults
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:       10,
		WithParents: true,
	}
}

// SearchResult represents the response to a search query
type SearchResult struct {
	Query   string         `json:"query"`
	Results []*RankedChunk `json:"results"`
	Took    time.Duration  `json:"took"`
	Cached  bool           `json:"cached"`
}

// RankedChunk is one fused search hit
type RankedChunk struct {
	ChunkID    string       `json:"chunk_id"`
	Score      float64      `json:"score"` // fused RRF score
	Source     RankSource   `json:"source"`
	DenseRank  int          `json:"dense_rank,omitempty"`  // 1-based, 0 when absent
	SparseRank int          `json:"sparse_rank,omitempty"` // 1-based, 0 when absent
	Payload    ChunkPayload `json:"payload"`
	ParentText string       `json:"parent_text,omitempty"`
}
