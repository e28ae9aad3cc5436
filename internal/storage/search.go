package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SearchFiles returns the indexed-file ledger keyed by path.
func (s *Store) SearchFiles() (map[string]SearchFile, error) {
	rows, err := s.db.Query(`SELECT path, hash, indexed_at FROM search_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make(map[string]SearchFile)
	for rows.Next() {
		var f SearchFile
		var indexedAt string
		if err := rows.Scan(&f.Path, &f.Hash, &indexedAt); err != nil {
			return nil, err
		}
		if f.IndexedAt, err = parseTime(indexedAt); err != nil {
			return nil, fmt.Errorf("parsing indexed_at for %s: %w", f.Path, err)
		}
		files[f.Path] = f
	}
	return files, rows.Err()
}

// ReplaceFileChunks swaps a file's chunks for a fresh split in one
// transaction and records the new content hash. The FTS triggers keep
// the lexical index in step with the chunk table.
func (s *Store) ReplaceFileChunks(file SearchFile, chunks []SearchChunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM search_chunks WHERE path = ?`, file.Path); err != nil {
		return fmt.Errorf("dropping stale chunks for %s: %w", file.Path, err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(`
			INSERT INTO search_chunks (id, path, seq, start_line, end_line, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Path, c.Seq, c.StartLine, c.EndLine, c.Content, c.Embedding,
			c.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting chunk for %s: %w", file.Path, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO search_files (path, hash, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at`,
		file.Path, file.Hash, file.IndexedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording file hash for %s: %w", file.Path, err)
	}
	return tx.Commit()
}

// DeleteSearchFile removes a vanished file and its orphaned chunks.
func (s *Store) DeleteSearchFile(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM search_chunks WHERE path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM search_files WHERE path = ?`, path); err != nil {
		return err
	}
	return tx.Commit()
}

// LexicalSearch ranks chunks against an FTS5 match expression with
// bm25, best first. Scores are returned as positive relevance values.
func (s *Store) LexicalSearch(match string, limit int) ([]SearchChunk, []float64, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.path, c.seq, c.start_line, c.end_line, c.content, c.embedding, c.created_at,
		       -bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN search_chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts) ASC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var chunks []SearchChunk
	var scores []float64
	for rows.Next() {
		c, score, err := scanChunkScore(rows)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, c)
		scores = append(scores, score)
	}
	return chunks, scores, rows.Err()
}

// EmbeddedChunks returns every chunk carrying an embedding, for the
// vector half of a hybrid query.
func (s *Store) EmbeddedChunks() ([]SearchChunk, error) {
	rows, err := s.db.Query(`
		SELECT id, path, seq, start_line, end_line, content, embedding, created_at
		FROM search_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksMissingEmbedding returns chunks indexed while no embedder was
// attached, oldest first, so the indexer can back-fill them.
func (s *Store) ChunksMissingEmbedding(limit int) ([]SearchChunk, error) {
	rows, err := s.db.Query(`
		SELECT id, path, seq, start_line, end_line, content, embedding, created_at
		FROM search_chunks WHERE embedding IS NULL
		ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SetChunkEmbedding back-fills one chunk's embedding blob.
func (s *Store) SetChunkEmbedding(id string, embedding []byte) error {
	res, err := s.db.Exec(`UPDATE search_chunks SET embedding = ? WHERE id = ?`, embedding, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CountChunks() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM search_chunks`).Scan(&n)
	return n, err
}

func scanChunks(rows *sql.Rows) ([]SearchChunk, error) {
	var chunks []SearchChunk
	for rows.Next() {
		var c SearchChunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Path, &c.Seq, &c.StartLine, &c.EndLine, &c.Content, &c.Embedding, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunkScore(rows *sql.Rows) (SearchChunk, float64, error) {
	var c SearchChunk
	var createdAt string
	var score float64
	if err := rows.Scan(&c.ID, &c.Path, &c.Seq, &c.StartLine, &c.EndLine, &c.Content, &c.Embedding, &createdAt, &score); err != nil {
		return SearchChunk{}, 0, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return SearchChunk{}, 0, fmt.Errorf("parsing created_at for chunk %s: %w", c.ID, err)
	}
	return c, score, nil
}
