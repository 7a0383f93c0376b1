package redis

import (
	"context"
	"testing"
)

func TestAddChunkAccumulatesCounters(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"binary", "tree"}, 120); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddChunk(ctx, []string{"binary", "search"}, 80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"binary", "tree", "search"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", stats.TotalChunks)
	}
	if stats.TotalTokens != 200 {
		t.Errorf("expected 200 tokens, got %d", stats.TotalTokens)
	}
	if stats.DocumentFrequency["binary"] != 2 {
		t.Errorf("expected df(binary)=2, got %d", stats.DocumentFrequency["binary"])
	}
	if stats.DocumentFrequency["tree"] != 1 {
		t.Errorf("expected df(tree)=1, got %d", stats.DocumentFrequency["tree"])
	}
}

func TestAddChunkCountsRepeatedTermOnce(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	// "go" appears three times in the chunk; its document frequency must
	// still be 1 so it never exceeds TotalChunks. Repeats only count in
	// the token length.
	if err := store.AddChunk(ctx, []string{"go", "go", "go", "run"}, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"go", "run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 1 {
		t.Errorf("expected 1 chunk, got %d", stats.TotalChunks)
	}
	if stats.TotalTokens != 4 {
		t.Errorf("expected 4 tokens, got %d", stats.TotalTokens)
	}
	if stats.DocumentFrequency["go"] != 1 {
		t.Errorf("expected df(go)=1, got %d", stats.DocumentFrequency["go"])
	}
	if stats.DocumentFrequency["run"] != 1 {
		t.Errorf("expected df(run)=1, got %d", stats.DocumentFrequency["run"])
	}
}

func TestRemoveChunkWithRepeatedTermReversesAdd(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"go", "go", "run"}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddChunk(ctx, []string{"go"}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.RemoveChunk(ctx, []string{"go", "go", "run"}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"go", "run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.DocumentFrequency["go"] != 1 {
		t.Errorf("expected df(go)=1 after removal, got %d", stats.DocumentFrequency["go"])
	}
	if _, ok := stats.DocumentFrequency["run"]; ok {
		t.Error("expected run to drop out of the frequency map at zero")
	}
	if stats.TotalChunks != 1 {
		t.Errorf("expected 1 chunk, got %d", stats.TotalChunks)
	}
	if stats.TotalTokens != 1 {
		t.Errorf("expected 1 token, got %d", stats.TotalTokens)
	}
}

func TestRemoveChunkReversesAdd(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"binary", "tree"}, 120); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddChunk(ctx, []string{"binary"}, 80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.RemoveChunk(ctx, []string{"binary", "tree"}, 120); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"binary", "tree"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 1 {
		t.Errorf("expected 1 chunk, got %d", stats.TotalChunks)
	}
	if stats.TotalTokens != 80 {
		t.Errorf("expected 80 tokens, got %d", stats.TotalTokens)
	}
	if stats.DocumentFrequency["binary"] != 1 {
		t.Errorf("expected df(binary)=1, got %d", stats.DocumentFrequency["binary"])
	}
	if _, ok := stats.DocumentFrequency["tree"]; ok {
		t.Error("expected tree to drop out of the frequency map at zero")
	}
}

func TestRemoveChunkClampsAtZero(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	// Removal on an empty corpus must not push counters negative
	if err := store.RemoveChunk(ctx, []string{"ghost"}, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 0 {
		t.Errorf("expected 0 chunks, got %d", stats.TotalChunks)
	}
	if stats.TotalTokens != 0 {
		t.Errorf("expected 0 tokens, got %d", stats.TotalTokens)
	}
	if len(stats.DocumentFrequency) != 0 {
		t.Errorf("expected empty frequency map, got %v", stats.DocumentFrequency)
	}
}

func TestSnapshotOmitsUnknownTerms(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"graph"}, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, []string{"graph", "nonexistent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.DocumentFrequency["graph"] != 1 {
		t.Errorf("expected df(graph)=1, got %d", stats.DocumentFrequency["graph"])
	}
	if _, ok := stats.DocumentFrequency["nonexistent"]; ok {
		t.Error("expected unknown term to be absent from the map")
	}
}

func TestSnapshotWithNoTerms(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"graph"}, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Snapshot(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 1 {
		t.Errorf("expected totals even without terms, got %d chunks", stats.TotalChunks)
	}
	if len(stats.DocumentFrequency) != 0 {
		t.Errorf("expected empty frequency map, got %v", stats.DocumentFrequency)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"binary", "tree"}, 120); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddChunk(ctx, []string{"binary"}, 80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exported, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exported.ExportedAt.IsZero() {
		t.Error("expected export timestamp to be set")
	}

	// Import into a fresh backend and verify the counters carried over
	other, otherCleanup := setupTestRedis(t)
	defer otherCleanup()
	restored := NewCorpusStatsStore(other)

	if err := restored.Import(ctx, exported); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := restored.Export(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != exported.TotalChunks {
		t.Errorf("expected %d chunks, got %d", exported.TotalChunks, stats.TotalChunks)
	}
	if stats.TotalTokens != exported.TotalTokens {
		t.Errorf("expected %d tokens, got %d", exported.TotalTokens, stats.TotalTokens)
	}
	if stats.DocumentFrequency["binary"] != 2 {
		t.Errorf("expected df(binary)=2 after import, got %d", stats.DocumentFrequency["binary"])
	}
	if stats.DocumentFrequency["tree"] != 1 {
		t.Errorf("expected df(tree)=1 after import, got %d", stats.DocumentFrequency["tree"])
	}
}

func TestImportReplacesLiveCounters(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewCorpusStatsStore(client)
	ctx := context.Background()

	if err := store.AddChunk(ctx, []string{"stale"}, 999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshot.TotalChunks = 5
	snapshot.TotalTokens = 500
	snapshot.DocumentFrequency = map[string]int64{"fresh": 5}

	if err := store.Import(ctx, snapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalChunks != 5 || stats.TotalTokens != 500 {
		t.Errorf("expected imported totals, got %d/%d", stats.TotalChunks, stats.TotalTokens)
	}
	if _, ok := stats.DocumentFrequency["stale"]; ok {
		t.Error("expected stale term to be replaced by import")
	}
	if stats.DocumentFrequency["fresh"] != 5 {
		t.Errorf("expected df(fresh)=5, got %d", stats.DocumentFrequency["fresh"])
	}
}
