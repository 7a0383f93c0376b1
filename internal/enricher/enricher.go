// Package enricher derives the structural and tenancy metadata stored in
// vector payloads. Enrichment is pure: no I/O, no clocks beyond the
// injected timestamp, and identical input always yields identical output.
package enricher

import (
	"regexp"
	"strings"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

var (
	fenceRe    = regexp.MustCompile("(?m)^[ ]*(```|~~~)")
	mathRe     = regexp.MustCompile(`\$\$[^$]+\$\$|\$[^$\n]+\$`)
	imageRe    = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)[^)]*\)`)
	pageRe     = regexp.MustCompile(`<!--\s*page:\s*(\d+)\s*-->`)
	tableRowRe = regexp.MustCompile(`(?m)^\|.+\|\s*$`)
)

// Enricher stamps chunks with tenancy and structural flags
type Enricher struct {
	now func() time.Time
}

// New creates an Enricher using the wall clock
func New() *Enricher {
	return &Enricher{now: time.Now}
}

// NewWithClock creates an Enricher with an injected clock for tests
func NewWithClock(now func() time.Time) *Enricher {
	return &Enricher{now: now}
}

// Enrich derives an EnrichedChunk from a chunk and its document context.
// The input chunk is not modified.
func (e *Enricher) Enrich(chunk domain.Chunk, docCtx domain.DocumentContext) domain.EnrichedChunk {
	text := chunk.Text

	enriched := domain.EnrichedChunk{
		Chunk:       chunk,
		OrgID:       docCtx.OrgID,
		CourseID:    docCtx.CourseID,
		HasCode:     hasCode(text),
		HasFormulas: mathRe.MatchString(text),
		HasTables:   hasTable(text),
		CreatedAt:   e.now(),
	}

	for _, m := range imageRe.FindAllStringSubmatch(text, -1) {
		enriched.ImageRefs = append(enriched.ImageRefs, m[1])
	}
	enriched.HasImages = len(enriched.ImageRefs) > 0

	enriched.TableRefs = tableCaptions(text)

	if start, end, ok := pageRange(text); ok {
		enriched.PageStart = start
		enriched.PageEnd = end
	}

	return enriched
}

// EnrichAll enriches a batch, preserving order
func (e *Enricher) EnrichAll(chunks []*domain.Chunk, docCtx domain.DocumentContext) []domain.EnrichedChunk {
	out := make([]domain.EnrichedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = e.Enrich(*c, docCtx)
	}
	return out
}

// hasCode detects fenced code blocks. A chunk cut mid-fence still counts:
// one delimiter is enough.
func hasCode(text string) bool {
	return fenceRe.MatchString(text)
}

// hasTable requires at least two pipe-table rows so a lone bar in prose
// does not count
func hasTable(text string) bool {
	return len(tableRowRe.FindAllString(text, 2)) >= 2
}

// tableCaptions collects "Table N" style captions referenced in the text
var tableCaptionRe = regexp.MustCompile(`(?mi)^(?:\*\*)?(table\s+\d+[^\n|]*?)(?:\*\*)?\s*$`)

func tableCaptions(text string) []string {
	var refs []string
	for _, m := range tableCaptionRe.FindAllStringSubmatch(text, -1) {
		refs = append(refs, strings.TrimSpace(m[1]))
	}
	return refs
}

// pageRange reads converter page anchors. One anchor marks a single page;
// several mark the chunk's span.
func pageRange(text string) (start, end int, ok bool) {
	matches := pageRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	start = atoiSafe(matches[0][1])
	end = atoiSafe(matches[len(matches)-1][1])
	if start == 0 {
		return 0, 0, false
	}
	if end < start {
		end = start
	}
	return start, end, true
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
