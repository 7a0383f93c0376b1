package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// EmbeddingProvider generates dense vectors from text. Implementations talk
// to a long-context embedding API that supports late chunking: the texts of
// one call are concatenated, encoded with full cross-text attention, and
// pooled back into one vector per input.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order. The task
	// selects passage or query tuning. lateChunking asks the provider to
	// encode the inputs as one context window.
	Embed(ctx context.Context, texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// MaxContextTokens returns the provider's context window in tokens.
	// Late-chunking waves are sized to fit inside it.
	MaxContextTokens() int

	// Model returns the model name being used
	Model() string

	// HealthCheck verifies the embedding service is available
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the provider
	Close() error
}

// Tokenizer counts and splits text with the embedding provider's own
// tokenizer family. Character-count approximations are not acceptable
// substitutes; chunk budgets are enforced in provider tokens.
type Tokenizer interface {
	// CountTokens returns the token count of one text
	CountTokens(ctx context.Context, text string) (int, error)

	// CountBatch returns token counts for several texts in one call
	CountBatch(ctx context.Context, texts []string) ([]int, error)

	// SplitByTokens splits text into pieces of at most maxTokens tokens,
	// cutting at token boundaries. The pieces concatenate back to exactly
	// the input text; offset arithmetic on chunks depends on this.
	SplitByTokens(ctx context.Context, text string, maxTokens int) ([]string, error)
}
