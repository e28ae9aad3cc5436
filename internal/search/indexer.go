package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

// IndexStore abstracts the storage operations the indexer needs.
// Implemented by storage.Store.
type IndexStore interface {
	SearchFiles() (map[string]storage.SearchFile, error)
	ReplaceFileChunks(file storage.SearchFile, chunks []storage.SearchChunk) error
	DeleteSearchFile(path string) error
	ChunksMissingEmbedding(limit int) ([]storage.SearchChunk, error)
	SetChunkEmbedding(id string, embedding []byte) error
}

// embedConcurrency bounds parallel embedding calls per cycle.
const embedConcurrency = 4

// backfillBatch bounds how many embedding-less chunks one cycle retries.
const backfillBatch = 64

// Indexer keeps the chunk index in step with the notes tree.
type Indexer struct {
	store    IndexStore
	slot     *ai.Slot
	notesDir string
	logger   *slog.Logger
}

func NewIndexer(store IndexStore, slot *ai.Slot, notesDir string) *Indexer {
	return &Indexer{store: store, slot: slot, notesDir: notesDir, logger: slog.Default()}
}

// RunOnce walks the notes tree, re-splits files whose content hash
// changed, prunes entries for vanished files, and back-fills embeddings
// missed while no embedder was attached. Returns the number of files
// re-indexed. An unreadable file is skipped this cycle, not fatal.
func (ix *Indexer) RunOnce(ctx context.Context) (int, error) {
	known, err := ix.store.SearchFiles()
	if err != nil {
		return 0, fmt.Errorf("loading index ledger: %w", err)
	}

	seen := make(map[string]bool)
	reindexed := 0
	err = filepath.WalkDir(ix.notesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A missing notes tree just means nothing has been generated yet.
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		seen[path] = true

		data, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if f, ok := known[path]; ok && f.Hash == hash {
			return nil
		}

		if err := ix.indexFile(ctx, path, hash, string(data)); err != nil {
			ix.logger.Warn("indexing file failed", "path", path, "error", err)
			return nil
		}
		reindexed++
		return nil
	})
	if err != nil {
		return reindexed, fmt.Errorf("walking notes tree: %w", err)
	}

	for path := range known {
		if seen[path] {
			continue
		}
		if err := ix.store.DeleteSearchFile(path); err != nil {
			ix.logger.Warn("pruning vanished file failed", "path", path, "error", err)
		}
	}

	ix.backfillEmbeddings(ctx)
	return reindexed, nil
}

// indexFile replaces a changed file's chunks with a fresh split,
// embedding each chunk when an AI client is attached. Without one the
// chunks carry nil embeddings and queries fall back to lexical ranking.
func (ix *Indexer) indexFile(ctx context.Context, path, hash, content string) error {
	parts := splitChunks(content)
	now := time.Now().UTC()

	chunks := make([]storage.SearchChunk, len(parts))
	for i, p := range parts {
		chunks[i] = storage.SearchChunk{
			ID:        uuid.New().String(),
			Path:      path,
			Seq:       i,
			StartLine: p.startLine,
			EndLine:   p.endLine,
			Content:   p.content,
			CreatedAt: now,
		}
	}

	if client, ok := ix.slot.Get(); ok {
		ix.embedChunks(ctx, client, chunks)
	}

	return ix.store.ReplaceFileChunks(storage.SearchFile{Path: path, Hash: hash, IndexedAt: now}, chunks)
}

// embedChunks fills embeddings in place with bounded concurrency. A
// failed embedding leaves that chunk nil for the back-fill pass.
func (ix *Indexer) embedChunks(ctx context.Context, client ai.Client, chunks []storage.SearchChunk) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	var mu sync.Mutex

	for i := range chunks {
		g.Go(func() error {
			vec, err := client.Embed(gctx, chunks[i].Content)
			if err != nil {
				ix.logger.Warn("embedding chunk failed", "path", chunks[i].Path, "seq", chunks[i].Seq, "error", err)
				return nil
			}
			mu.Lock()
			chunks[i].Embedding = encodeVector(vec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// backfillEmbeddings retries chunks indexed while no embedder was
// attached. A no-op when the slot is still empty.
func (ix *Indexer) backfillEmbeddings(ctx context.Context) {
	client, ok := ix.slot.Get()
	if !ok {
		return
	}
	chunks, err := ix.store.ChunksMissingEmbedding(backfillBatch)
	if err != nil {
		ix.logger.Warn("loading unembedded chunks failed", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, c := range chunks {
		g.Go(func() error {
			vec, err := client.Embed(gctx, c.Content)
			if err != nil {
				return nil
			}
			if err := ix.store.SetChunkEmbedding(c.ID, encodeVector(vec)); err != nil {
				ix.logger.Warn("storing back-filled embedding failed", "chunk_id", c.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
