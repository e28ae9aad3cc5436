package search

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

// Hybrid ranking weights. Semantic similarity dominates; the lexical
// score keeps exact-keyword hits from drowning.
const (
	semanticWeight = 0.7
	lexicalWeight  = 0.3
)

// candidateFactor sizes each side's candidate pool relative to the
// requested result count before the merge.
const candidateFactor = 4

// QueryStore abstracts the storage operations a query needs.
// Implemented by storage.Store.
type QueryStore interface {
	LexicalSearch(match string, limit int) ([]storage.SearchChunk, []float64, error)
	EmbeddedChunks() ([]storage.SearchChunk, error)
}

// Result is one ranked chunk.
type Result struct {
	Chunk storage.SearchChunk
	Score float64
}

// Searcher serves hybrid queries over the chunk index.
type Searcher struct {
	store QueryStore
	slot  *ai.Slot
}

func NewSearcher(store QueryStore, slot *ai.Slot) *Searcher {
	return &Searcher{store: store, slot: slot}
}

// Query ranks chunks against the query with a weighted combination of
// vector similarity and bm25. Without an attached embedder (or before
// any chunk has an embedding) ranking is lexical only.
func (s *Searcher) Query(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	pool := limit * candidateFactor

	lexChunks, lexScores, err := s.store.LexicalSearch(ftsMatch(query), pool)
	if err != nil {
		return nil, fmt.Errorf("lexical ranking: %w", err)
	}

	semChunks, semScores, err := s.semanticCandidates(ctx, query, pool)
	if err != nil {
		return nil, err
	}

	merged := merge(lexChunks, normalize(lexScores), semChunks, normalize(semScores))
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// semanticCandidates embeds the query and returns the top chunks by
// cosine similarity. Absent client or embeddings yields empty slices,
// which degrades the query to lexical-only.
func (s *Searcher) semanticCandidates(ctx context.Context, query string, limit int) ([]storage.SearchChunk, []float64, error) {
	client, ok := s.slot.Get()
	if !ok {
		return nil, nil, nil
	}
	qvec, err := client.Embed(ctx, query)
	if err != nil || len(qvec) == 0 {
		return nil, nil, nil
	}

	chunks, err := s.store.EmbeddedChunks()
	if err != nil {
		return nil, nil, fmt.Errorf("loading embedded chunks: %w", err)
	}

	top := &topK{limit: limit}
	heap.Init(top)
	for _, c := range chunks {
		sim := cosine(qvec, decodeVector(c.Embedding))
		if sim <= 0 {
			continue
		}
		top.push(scored{chunk: c, score: sim})
	}

	ranked := top.drain()
	outChunks := make([]storage.SearchChunk, len(ranked))
	outScores := make([]float64, len(ranked))
	for i, r := range ranked {
		outChunks[i] = r.chunk
		outScores[i] = r.score
	}
	return outChunks, outScores, nil
}

// merge combines the two ranked lists by chunk id with the weighted sum.
// A chunk present on only one side contributes only that side's term.
func merge(lexChunks []storage.SearchChunk, lexScores []float64, semChunks []storage.SearchChunk, semScores []float64) []Result {
	byID := make(map[string]*Result)
	var order []string

	for i, c := range lexChunks {
		byID[c.ID] = &Result{Chunk: c, Score: lexicalWeight * lexScores[i]}
		order = append(order, c.ID)
	}
	for i, c := range semChunks {
		if r, ok := byID[c.ID]; ok {
			r.Score += semanticWeight * semScores[i]
			continue
		}
		byID[c.ID] = &Result{Chunk: c, Score: semanticWeight * semScores[i]}
		order = append(order, c.ID)
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// normalize rescales scores into [0, 1] by the maximum, so bm25 and
// cosine live on comparable scales before weighting.
func normalize(scores []float64) []float64 {
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return scores
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s / max
	}
	return out
}

// ftsMatch quotes each query term so user input cannot inject FTS5
// query syntax.
func ftsMatch(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// encodeVector packs an embedding as little-endian float32s.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosine(a []float32, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scored and topK implement a min-heap keeping the best-limit chunks.
type scored struct {
	chunk storage.SearchChunk
	score float64
}

type topK struct {
	items []scored
	limit int
}

func (t *topK) Len() int            { return len(t.items) }
func (t *topK) Less(i, j int) bool  { return t.items[i].score < t.items[j].score }
func (t *topK) Swap(i, j int)       { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)          { t.items = append(t.items, x.(scored)) }
func (t *topK) Pop() any {
	last := t.items[len(t.items)-1]
	t.items = t.items[:len(t.items)-1]
	return last
}

func (t *topK) push(s scored) {
	if t.limit <= 0 {
		return
	}
	if len(t.items) < t.limit {
		heap.Push(t, s)
		return
	}
	if s.score > t.items[0].score {
		t.items[0] = s
		heap.Fix(t, 0)
	}
}

// drain empties the heap, best first.
func (t *topK) drain() []scored {
	out := make([]scored, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(scored)
	}
	return out
}
