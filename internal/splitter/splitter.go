// Package splitter turns normalized markdown into the two-level chunk
// hierarchy: parent chunks sized for retrieval context and child chunks
// sized for embedding. All budgets are enforced in provider tokens.
package splitter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// Config holds the token budgets for both chunk levels
type Config struct {
	// ParentSize is the maximum tokens per parent chunk
	ParentSize int

	// ChildSize is the maximum tokens per child chunk
	ChildSize int

	// Overlap is the token budget carried from one child into the next
	Overlap int
}

// DefaultConfig returns the standard budgets
func DefaultConfig() Config {
	return Config{
		ParentSize: 1500,
		ChildSize:  400,
		Overlap:    50,
	}
}

// Validate checks the budget relationships
func (c Config) Validate() error {
	if c.ParentSize <= 0 || c.ChildSize <= 0 {
		return fmt.Errorf("%w: chunk sizes must be positive", domain.ErrValidation)
	}
	if c.ChildSize > c.ParentSize {
		return fmt.Errorf("%w: child size %d exceeds parent size %d", domain.ErrValidation, c.ChildSize, c.ParentSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChildSize {
		return fmt.Errorf("%w: overlap %d must be non-negative and smaller than child size %d", domain.ErrValidation, c.Overlap, c.ChildSize)
	}
	return nil
}

// Splitter produces deterministic chunks: the same document text always
// yields the same IDs, spans and token counts.
type Splitter struct {
	cfg Config
	tok driven.Tokenizer
}

// New creates a Splitter
func New(cfg Config, tok driven.Tokenizer) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", domain.ErrValidation)
	}
	return &Splitter{cfg: cfg, tok: tok}, nil
}

// sentence pairs a byte span with its token count
type sentence struct {
	span
	tokens int
}

// Split chunks the normalized document text. The result interleaves each
// parent with its children in document order. Whitespace-only input yields
// no chunks.
func (s *Splitter) Split(ctx context.Context, documentID, text string) ([]*domain.Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrValidation)
	}
	if blank(text) {
		return nil, nil
	}

	var chunks []*domain.Chunk
	parentOrdinal := 0
	childOrdinal := 0

	for _, sec := range scanSections(text) {
		if blank(text[sec.start:sec.end]) {
			continue
		}

		sentences, err := s.tokenize(ctx, text, sec)
		if err != nil {
			return nil, err
		}

		for _, spec := range packParents(sentences, s.cfg.ParentSize) {
			parent := s.buildParent(documentID, text, sec, spec, parentOrdinal)
			children := s.buildChildren(documentID, text, sec, parent, spec, &childOrdinal)
			parentOrdinal++

			chunks = append(chunks, parent)
			chunks = append(chunks, children...)
		}
	}
	return chunks, nil
}

// tokenize scans a section into sentences, counts their tokens in one
// provider call, and hard-splits any sentence that alone exceeds the child
// budget.
func (s *Splitter) tokenize(ctx context.Context, text string, sec section) ([]sentence, error) {
	spans := scanSentences(text, sec.start, sec.end)
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = text[sp.start:sp.end]
	}

	counts, err := s.tok.CountBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("count section tokens: %w", err)
	}
	if len(counts) != len(texts) {
		return nil, fmt.Errorf("%w: tokenizer returned %d counts for %d texts", domain.ErrExternal, len(counts), len(texts))
	}

	sentences := make([]sentence, 0, len(spans))
	for i, sp := range spans {
		if counts[i] <= s.cfg.ChildSize {
			sentences = append(sentences, sentence{span: sp, tokens: counts[i]})
			continue
		}

		pieces, err := s.tok.SplitByTokens(ctx, texts[i], s.cfg.ChildSize)
		if err != nil {
			return nil, fmt.Errorf("hard-split sentence: %w", err)
		}
		pieceCounts, err := s.tok.CountBatch(ctx, pieces)
		if err != nil {
			return nil, fmt.Errorf("count split pieces: %w", err)
		}
		if len(pieceCounts) != len(pieces) {
			return nil, fmt.Errorf("%w: tokenizer returned %d counts for %d pieces", domain.ErrExternal, len(pieceCounts), len(pieces))
		}

		cursor := sp.start
		for j, piece := range pieces {
			sentences = append(sentences, sentence{
				span:   span{start: cursor, end: cursor + len(piece)},
				tokens: pieceCounts[j],
			})
			cursor += len(piece)
		}
		if cursor != sp.end {
			return nil, fmt.Errorf("%w: token split does not reassemble the sentence", domain.ErrCorruption)
		}
	}
	return sentences, nil
}

// parentSpec is a contiguous run of sentences forming one parent chunk
type parentSpec struct {
	sentences []sentence
}

// packParents groups sentences greedily under the parent budget. Parents
// never overlap; consecutive parents tile their section.
func packParents(sentences []sentence, budget int) []parentSpec {
	var parents []parentSpec
	var cur []sentence
	tokens := 0

	for _, sent := range sentences {
		if len(cur) > 0 && tokens+sent.tokens > budget {
			parents = append(parents, parentSpec{sentences: cur})
			cur = nil
			tokens = 0
		}
		cur = append(cur, sent)
		tokens += sent.tokens
	}
	if len(cur) > 0 {
		parents = append(parents, parentSpec{sentences: cur})
	}
	return parents
}

func (s *Splitter) buildParent(documentID, text string, sec section, spec parentSpec, ordinal int) *domain.Chunk {
	first := spec.sentences[0]
	last := spec.sentences[len(spec.sentences)-1]

	tokens := 0
	for _, sent := range spec.sentences {
		tokens += sent.tokens
	}

	return &domain.Chunk{
		ID:          chunkID(documentID, "p", ordinal),
		DocumentID:  documentID,
		Level:       domain.ChunkLevelParent,
		Ordinal:     ordinal,
		Text:        text[first.start:last.end],
		TokenCount:  tokens,
		HeadingPath: clonePath(sec.headingPath),
		StartOffset: first.start,
		EndOffset:   last.end,
	}
}

// buildChildren packs a parent's sentences into children under the child
// budget. Each child after the first starts with an overlap tail taken
// sentence-whole from the previous child's end; the overlap shrinks when
// it would crowd out the first fresh sentence. Stripping OverlapPrefixLen
// from every child and concatenating reconstructs the parent text.
func (s *Splitter) buildChildren(documentID, text string, sec section, parent *domain.Chunk, spec parentSpec, ordinal *int) []*domain.Chunk {
	sents := spec.sentences
	var children []*domain.Chunk

	i := 0
	prevChildStart := 0
	for i < len(sents) {
		freshStart := i

		overlapStart := freshStart
		overlapTokens := 0
		if len(children) > 0 {
			for j := freshStart - 1; j >= prevChildStart; j-- {
				if overlapTokens+sents[j].tokens > s.cfg.Overlap {
					break
				}
				overlapTokens += sents[j].tokens
				overlapStart = j
			}
			for overlapStart < freshStart && overlapTokens+sents[freshStart].tokens > s.cfg.ChildSize {
				overlapTokens -= sents[overlapStart].tokens
				overlapStart++
			}
		}

		total := overlapTokens
		for i < len(sents) && total+sents[i].tokens <= s.cfg.ChildSize {
			total += sents[i].tokens
			i++
		}
		if i == freshStart {
			// Sentences are pre-split to the child budget; this only fires
			// on a misbehaving tokenizer, and progress must not stall.
			total += sents[i].tokens
			i++
		}

		start := sents[overlapStart].start
		end := sents[i-1].end

		child := &domain.Chunk{
			ID:               chunkID(documentID, "c", *ordinal),
			DocumentID:       documentID,
			Level:            domain.ChunkLevelChild,
			ParentID:         parent.ID,
			Ordinal:          *ordinal,
			Text:             text[start:end],
			TokenCount:       total,
			HeadingPath:      clonePath(sec.headingPath),
			StartOffset:      start,
			EndOffset:        end,
			OverlapPrefixLen: sents[freshStart].start - start,
		}
		*ordinal++
		children = append(children, child)
		prevChildStart = overlapStart
	}

	// Each child lists the other children of its parent, in order,
	// excluding itself.
	for _, c := range children {
		ids := make([]string, 0, len(children)-1)
		for _, other := range children {
			if other.ID != c.ID {
				ids = append(ids, other.ID)
			}
		}
		c.SiblingIDs = ids
	}
	return children
}

// chunkNamespace scopes deterministic chunk IDs
var chunkNamespace = uuid.MustParse("6f1c8a52-94da-4d69-9b2c-8f3e1a7d5b20")

// chunkID derives a stable UUID from the document and chunk position, so
// re-splitting identical content yields identical IDs.
func chunkID(documentID, kind string, ordinal int) string {
	name := documentID + ":" + kind + ":" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	cp := make([]string, len(path))
	copy(cp, path)
	return cp
}
