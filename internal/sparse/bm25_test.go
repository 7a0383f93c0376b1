package sparse

import (
	"math"
	"reflect"
	"testing"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

func newTestGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	gen, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return gen
}

func valueAt(t *testing.T, vec domain.SparseVector, index uint32) float64 {
	t.Helper()
	for i, idx := range vec.Indices {
		if idx == index {
			return float64(vec.Values[i])
		}
	}
	t.Fatalf("index %d not present in vector %v", index, vec.Indices)
	return 0
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and strips punctuation",
			text: "Qdrant, the Vector-Store!",
			want: []string{"qdrant", "the", "vector", "store"},
		},
		{
			name: "keeps digit and letter runs together",
			text: "BM25 uses k1=1.5",
			want: []string{"bm25", "uses", "k1", "1", "5"},
		},
		{
			name: "handles non-ascii letters",
			text: "Müller drank café №42",
			want: []string{"müller", "drank", "café", "42"},
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "punctuation only",
			text: "... --- !!!",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig(), wantErr: false},
		{name: "b zero disables length norm", cfg: Config{K1: 1.2, B: 0, VocabSize: 10}, wantErr: false},
		{name: "zero k1", cfg: Config{K1: 0, B: 0.75, VocabSize: 10}, wantErr: true},
		{name: "negative b", cfg: Config{K1: 1.5, B: -0.1, VocabSize: 10}, wantErr: true},
		{name: "b above one", cfg: Config{K1: 1.5, B: 1.1, VocabSize: 10}, wantErr: true},
		{name: "zero vocab", cfg: Config{K1: 1.5, B: 0.75, VocabSize: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSingleTermIDF(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())

	// One-term chunk whose length equals the corpus average, so the
	// length/frequency factor reduces to 1 and the score is the raw IDF.
	stats := &domain.CorpusStatistics{
		TotalChunks:       3,
		TotalTokens:       3,
		DocumentFrequency: map[string]int64{"qdrant": 1},
	}

	vec := gen.Generate("qdrant", stats)
	if len(vec.Indices) != 1 {
		t.Fatalf("len(Indices) = %d, want 1", len(vec.Indices))
	}
	want := math.Log((3-1+0.5)/(1+0.5) + 1)
	if got := float64(vec.Values[0]); math.Abs(got-want) > 1e-6 {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestGenerateEmptyInputs(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())

	if vec := gen.Generate("", nil); !vec.IsZero() {
		t.Errorf("Generate(empty) = %v, want zero vector", vec)
	}
	if vec := gen.Generate("?! --", nil); !vec.IsZero() {
		t.Errorf("Generate(punctuation) = %v, want zero vector", vec)
	}
}

func TestGenerateNilStatsUsesEmptyCorpus(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())

	// With no corpus every term gets the df=0 floor ln(2), and the chunk's
	// own length stands in for the average, so scoring still works.
	vec := gen.Generate("hello world", nil)
	if len(vec.Indices) != 2 {
		t.Fatalf("len(Indices) = %d, want 2", len(vec.Indices))
	}
	for i, v := range vec.Values {
		if math.Abs(float64(v)-math.Ln2) > 1e-6 {
			t.Errorf("Values[%d] = %v, want ln(2)", i, v)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	stats := &domain.CorpusStatistics{
		TotalChunks: 10,
		TotalTokens: 64,
		DocumentFrequency: map[string]int64{
			"vector": 4,
			"search": 7,
			"hybrid": 1,
		},
	}
	text := "Hybrid vector search fuses dense and sparse vector scores."

	first := newTestGenerator(t, DefaultConfig()).Generate(text, stats)
	for i := 0; i < 20; i++ {
		got := newTestGenerator(t, DefaultConfig()).Generate(text, stats)
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d produced %+v, want %+v", i, got, first)
		}
	}
}

func TestGenerateIndicesSortedAndBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VocabSize = 1000
	gen := newTestGenerator(t, cfg)

	vec := gen.Generate("alpha beta gamma delta epsilon zeta eta theta", nil)
	if len(vec.Indices) == 0 {
		t.Fatal("expected a nonempty vector")
	}
	if len(vec.Indices) != len(vec.Values) {
		t.Fatalf("len(Indices) = %d, len(Values) = %d", len(vec.Indices), len(vec.Values))
	}
	for i := 1; i < len(vec.Indices); i++ {
		if vec.Indices[i-1] >= vec.Indices[i] {
			t.Errorf("Indices[%d]=%d not above Indices[%d]=%d", i, vec.Indices[i], i-1, vec.Indices[i-1])
		}
	}
	for i, idx := range vec.Indices {
		if idx >= cfg.VocabSize {
			t.Errorf("Indices[%d] = %d, want < %d", i, idx, cfg.VocabSize)
		}
	}
}

func TestGenerateCollisionsSum(t *testing.T) {
	stats := &domain.CorpusStatistics{
		TotalChunks:       5,
		TotalTokens:       20,
		DocumentFrequency: map[string]int64{"alpha": 2, "beta": 1},
	}

	wide := newTestGenerator(t, DefaultConfig()).Generate("alpha beta", stats)
	if len(wide.Indices) != 2 {
		t.Fatalf("wide vocabulary: len(Indices) = %d, want 2", len(wide.Indices))
	}
	var sum float64
	for _, v := range wide.Values {
		sum += float64(v)
	}

	// A one-slot vocabulary forces both terms onto dimension 0.
	cfg := DefaultConfig()
	cfg.VocabSize = 1
	collided := newTestGenerator(t, cfg).Generate("alpha beta", stats)
	if len(collided.Indices) != 1 || collided.Indices[0] != 0 {
		t.Fatalf("collided vector indices = %v, want [0]", collided.Indices)
	}
	if got := float64(collided.Values[0]); math.Abs(got-sum) > 1e-5 {
		t.Errorf("collided score = %v, want sum of separate scores %v", got, sum)
	}
}

func TestGenerateTermFrequencySaturates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.B = 0 // isolate the term-frequency factor
	gen := newTestGenerator(t, cfg)

	stats := &domain.CorpusStatistics{
		TotalChunks:       4,
		TotalTokens:       16,
		DocumentFrequency: map[string]int64{"go": 1},
	}

	single := float64(gen.Generate("go", stats).Values[0])
	triple := float64(gen.Generate("go go go", stats).Values[0])

	if triple <= single {
		t.Errorf("repeated term scored %v, want above single occurrence %v", triple, single)
	}
	if triple >= 3*single {
		t.Errorf("repeated term scored %v, want saturation below %v", triple, 3*single)
	}
}

func TestGenerateLengthNormalization(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())

	// Average chunk length of 1: any extra term makes the chunk "long" and
	// must drag the shared term's score down.
	stats := &domain.CorpusStatistics{
		TotalChunks:       2,
		TotalTokens:       2,
		DocumentFrequency: map[string]int64{"alpha": 1, "beta": 1},
	}
	dim := gen.dimension("alpha")

	short := valueAt(t, gen.Generate("alpha", stats), dim)
	long := valueAt(t, gen.Generate("alpha beta", stats), dim)
	if long >= short {
		t.Errorf("score in longer chunk = %v, want below %v", long, short)
	}
}

func TestGenerateStaleFrequencyClamped(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())

	// A snapshot can briefly report more occurrences than total chunks
	// after concurrent deletes. The term is dropped, not scored negative.
	stats := &domain.CorpusStatistics{
		TotalChunks:       1,
		TotalTokens:       4,
		DocumentFrequency: map[string]int64{"ghost": 5},
	}
	if vec := gen.Generate("ghost", stats); !vec.IsZero() {
		t.Errorf("Generate() = %+v, want zero vector for clamped term", vec)
	}
}

func TestGenerateQueryMatchesIngestForm(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	stats := &domain.CorpusStatistics{
		TotalChunks:       3,
		TotalTokens:       3,
		DocumentFrequency: map[string]int64{"qdrant": 1},
	}

	ingested := gen.Generate("qdrant", stats)
	queried := gen.Generate("Qdrant?!", stats)
	if !reflect.DeepEqual(ingested, queried) {
		t.Errorf("query form %+v differs from ingest form %+v", queried, ingested)
	}
}
