package domain

import "time"

// CorpusStatistics is a point-in-time snapshot of the term and length
// counters BM25 scoring reads. Live counters are served by the stats store;
// snapshots exist for export, import and scoring.
type CorpusStatistics struct {
	TotalChunks       int64            `json:"total_chunks"`
	TotalTokens       int64            `json:"total_tokens"`
	DocumentFrequency map[string]int64 `json:"document_frequency"`
	ExportedAt        time.Time        `json:"exported_at,omitempty"`
}

// AvgChunkLength derives the mean chunk length in tokens. Zero when the
// corpus is empty.
func (s *CorpusStatistics) AvgChunkLength() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.TotalChunks)
}
