package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

type mockClient struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockClient) AnalyzeFrames(context.Context, [][]byte, string, *ai.Schema) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockClient) Summarize(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSplitChunksEmptyDocument(t *testing.T) {
	if got := splitChunks(""); got != nil {
		t.Errorf("empty document must yield no chunks, got %v", got)
	}
	if got := splitChunks("  \n\t\n"); got != nil {
		t.Errorf("whitespace-only document must yield no chunks, got %v", got)
	}
}

func TestSplitChunksTracksLineSpans(t *testing.T) {
	chunks := splitChunks("alpha beta\n\ngamma\ndelta epsilon")
	if len(chunks) != 1 {
		t.Fatalf("short document must fit one chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.startLine != 1 || c.endLine != 4 {
		t.Errorf("line span wrong: %d-%d", c.startLine, c.endLine)
	}
	if c.content != "alpha beta gamma delta epsilon" {
		t.Errorf("content wrong: %q", c.content)
	}
}

func TestSplitChunksOverlap(t *testing.T) {
	// One word per line so word index and line number coincide.
	var b strings.Builder
	for i := 1; i <= 500; i++ {
		fmt.Fprintf(&b, "w%d\n", i)
	}
	chunks := splitChunks(b.String())
	if len(chunks) != 2 {
		t.Fatalf("500 words must split into 2 chunks, got %d", len(chunks))
	}
	if chunks[0].startLine != 1 || chunks[0].endLine != chunkWords {
		t.Errorf("first chunk span wrong: %d-%d", chunks[0].startLine, chunks[0].endLine)
	}
	// The second chunk re-reads the overlap region.
	wantStart := chunkWords - chunkOverlap + 1
	if chunks[1].startLine != wantStart || chunks[1].endLine != 500 {
		t.Errorf("second chunk span wrong: %d-%d, want %d-500", chunks[1].startLine, chunks[1].endLine, wantStart)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("round trip length wrong: %v", got)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("round trip value %d wrong: %v != %v", i, got[i], vec[i])
		}
	}
	if encodeVector(nil) != nil {
		t.Error("empty vector must encode as nil")
	}
	if decodeVector([]byte{1, 2}) != nil {
		t.Error("truncated buffer must decode as nil")
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors must score 1, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors must score 0, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1, 2}); got != 0 {
		t.Errorf("mismatched dimensions must score 0, got %v", got)
	}
}

func TestFtsMatchQuotesTerms(t *testing.T) {
	if got := ftsMatch("go NEAR sqlite"); got != `"go" "NEAR" "sqlite"` {
		t.Errorf("operators must be neutralized by quoting, got %s", got)
	}
	if got := ftsMatch(`say "hi"`); got != `"say" """hi"""` {
		t.Errorf("embedded quotes must be escaped, got %s", got)
	}
}

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, "daily", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestIndexerSkipsUnchangedFiles(t *testing.T) {
	store := openTestStore(t)
	notes := t.TempDir()
	writeNote(t, notes, "2026-08-26.md", "# Daily summary\n\nworked on the parser all morning\n")

	ix := NewIndexer(store, ai.NewSlot(), notes)
	n, err := ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 file indexed, got %d", n)
	}
	count, _ := store.CountChunks()
	if count == 0 {
		t.Fatal("indexing must produce chunks")
	}

	// Unchanged content hashes identically and is skipped.
	n, err = ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unchanged file must not be re-indexed, got %d", n)
	}
	after, _ := store.CountChunks()
	if after != count {
		t.Errorf("chunk count drifted on a no-op cycle: %d -> %d", count, after)
	}
}

func TestIndexerReindexesChangedFiles(t *testing.T) {
	store := openTestStore(t)
	notes := t.TempDir()
	path := writeNote(t, notes, "2026-08-26.md", "first draft\n")

	ix := NewIndexer(store, ai.NewSlot(), notes)
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("second draft with more words\n"), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	n, err := ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce after change failed: %v", err)
	}
	if n != 1 {
		t.Errorf("changed file must be re-indexed, got %d", n)
	}

	chunks, _, err := store.LexicalSearch(ftsMatch("second draft"), 10)
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("new content must be searchable, got %d hits", len(chunks))
	}
	if stale, _, _ := store.LexicalSearch(ftsMatch("first"), 10); len(stale) != 0 {
		t.Errorf("old chunks must be replaced, got %d hits", len(stale))
	}
}

func TestIndexerPrunesVanishedFiles(t *testing.T) {
	store := openTestStore(t)
	notes := t.TempDir()
	path := writeNote(t, notes, "2026-08-26.md", "ephemeral note\n")

	ix := NewIndexer(store, ai.NewSlot(), notes)
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after delete failed: %v", err)
	}

	files, err := store.SearchFiles()
	if err != nil {
		t.Fatalf("SearchFiles failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("vanished file must be pruned from the ledger, got %v", files)
	}
	count, _ := store.CountChunks()
	if count != 0 {
		t.Errorf("vanished file's chunks must be deleted, got %d", count)
	}
}

func TestIndexerToleratesMissingNotesTree(t *testing.T) {
	store := openTestStore(t)
	ix := NewIndexer(store, ai.NewSlot(), filepath.Join(t.TempDir(), "never-created"))
	n, err := ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("missing notes tree must not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("nothing to index, got %d", n)
	}
}

func TestIndexerBackfillsEmbeddingsOnceClientAttaches(t *testing.T) {
	store := openTestStore(t)
	notes := t.TempDir()
	writeNote(t, notes, "2026-08-26.md", "notes indexed before any model was available\n")

	slot := ai.NewSlot()
	ix := NewIndexer(store, slot, notes)
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	missing, _ := store.ChunksMissingEmbedding(10)
	if len(missing) == 0 {
		t.Fatal("chunks indexed without a client must lack embeddings")
	}

	slot.Set(&mockClient{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}})
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce with client failed: %v", err)
	}

	missing, _ = store.ChunksMissingEmbedding(10)
	if len(missing) != 0 {
		t.Errorf("back-fill must embed all pending chunks, %d left", len(missing))
	}
	embedded, _ := store.EmbeddedChunks()
	if len(embedded) == 0 {
		t.Error("back-filled embeddings must be queryable")
	}
}

func seedChunk(t *testing.T, store *storage.Store, path, content string, vec []float32) {
	t.Helper()
	c := storage.SearchChunk{
		ID: path, Path: path, Seq: 0, StartLine: 1, EndLine: 1,
		Content: content, Embedding: encodeVector(vec), CreatedAt: time.Now().UTC(),
	}
	f := storage.SearchFile{Path: path, Hash: path, IndexedAt: time.Now().UTC()}
	if err := store.ReplaceFileChunks(f, []storage.SearchChunk{c}); err != nil {
		t.Fatalf("ReplaceFileChunks failed: %v", err)
	}
}

func TestQuerySemanticOutranksLexicalOnly(t *testing.T) {
	store := openTestStore(t)
	qvec := []float32{1, 0, 0}
	// Lexical hit with an orthogonal embedding.
	seedChunk(t, store, "/n/lex.md", "database tuning session notes", []float32{0, 1, 0})
	// No shared query terms but a perfectly aligned embedding.
	seedChunk(t, store, "/n/sem.md", "optimized sqlite indexes and query plans", qvec)

	slot := ai.NewSlot()
	slot.Set(&mockClient{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		return qvec, nil
	}})

	s := NewSearcher(store, slot)
	results, err := s.Query(context.Background(), "database tuning", 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both chunks ranked, got %d", len(results))
	}
	if results[0].Chunk.Path != "/n/sem.md" {
		t.Errorf("semantic weight must dominate, got %q first", results[0].Chunk.Path)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v", results)
	}
}

func TestQueryLexicalOnlyWithoutClient(t *testing.T) {
	store := openTestStore(t)
	seedChunk(t, store, "/n/a.md", "refactored the payment workflow", nil)
	seedChunk(t, store, "/n/b.md", "unrelated gardening notes", nil)

	s := NewSearcher(store, ai.NewSlot())
	results, err := s.Query(context.Background(), "payment workflow", 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Path != "/n/a.md" {
		t.Fatalf("expected the lexical hit only, got %+v", results)
	}
}

func TestQueryDegradesWhenEmbedFails(t *testing.T) {
	store := openTestStore(t)
	seedChunk(t, store, "/n/a.md", "debugging the scheduler loop", []float32{1, 0})

	slot := ai.NewSlot()
	slot.Set(&mockClient{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedder offline")
	}})

	s := NewSearcher(store, slot)
	results, err := s.Query(context.Background(), "scheduler", 5)
	if err != nil {
		t.Fatalf("embedding failure must degrade, not fail: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("lexical results must survive an embedder outage, got %d", len(results))
	}
}

func TestQueryEmptyInput(t *testing.T) {
	store := openTestStore(t)
	s := NewSearcher(store, ai.NewSlot())
	results, err := s.Query(context.Background(), "   ", 5)
	if err != nil || results != nil {
		t.Errorf("blank query must return nothing, got %v, %v", results, err)
	}
}
