package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DocumentRow is one embedded piece of a conversation segment.
type DocumentRow struct {
	ID        uuid.UUID
	Content   string
	Metadata  []byte // JSON object
	Embedding []float32
	CreatedAt time.Time
	Score     float64 // cosine similarity, set by Search
}

// InsertDocuments writes rows in a single batch. Rows without an ID get a new one.
func (s *Store) InsertDocuments(ctx context.Context, rows []DocumentRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		meta := rows[i].Metadata
		if len(meta) == 0 {
			meta = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO chat_documents (id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4)`,
			rows[i].ID, rows[i].Content, string(meta), pgVector(rows[i].Embedding),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}
	return nil
}

// Search returns the k rows nearest to embedding by cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]DocumentRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata::text, created_at, 1 - (embedding <=> $1) AS similarity
		FROM chat_documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgVector(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var r DocumentRow
		var meta string
		if err := rows.Scan(&r.ID, &r.Content, &meta, &r.CreatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		r.Metadata = []byte(meta)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// Clear deletes every document and reports how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_documents`)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
