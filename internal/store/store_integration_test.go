//go:build integration

package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_InsertSearchClear(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	meta, _ := json.Marshal(map[string]any{"chunkId": 0, "participants": []string{"Alice", "Bob"}})
	rows := []DocumentRow{
		{Content: "Alice: lunch at noon?", Metadata: meta, Embedding: []float32{1, 0, 0}},
		{Content: "Bob: the deploy broke", Metadata: meta, Embedding: []float32{0, 1, 0}},
		{ID: uuid.New(), Content: "Alice: ramen again", Embedding: []float32{0.9, 0.1, 0}},
	}
	if err := s.InsertDocuments(ctx, rows); err != nil {
		t.Fatalf("InsertDocuments failed: %v", err)
	}
	for i, r := range rows {
		if r.ID == uuid.Nil {
			t.Errorf("row %d: expected an assigned ID", i)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 documents, got %d", n)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Content != "Alice: lunch at noon?" {
		t.Errorf("expected nearest hit first, got %q", hits[0].Content)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not ordered by similarity: %f < %f", hits[0].Score, hits[1].Score)
	}

	var got map[string]any
	if err := json.Unmarshal(hits[0].Metadata, &got); err != nil {
		t.Fatalf("metadata not JSON: %v", err)
	}

	deleted, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
}
