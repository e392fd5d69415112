package store

import (
	"context"
	"testing"

	"github.com/rcliao/ctxrt/internal/model"
)

func TestSearch_Basic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Put(ctx, PutParams{Snapshot: sampleSnapshot("r1", "")})
	s.Put(ctx, PutParams{Snapshot: model.Snapshot{
		RunID: "r2",
		Contexts: []model.ContextRecord{{
			ID: 0, Parent: -1, Name: "global", State: "live", RegionID: "R", RegionKind: "durable",
			Memory: []model.MemoryEntry{{Seq: 1, Key: "note", Kind: "string", Value: "pay attention"}},
		}},
	}})

	// Match by value across snapshots
	results, err := s.Search(ctx, SearchParams{Query: "attention"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Match by key
	results, err = s.Search(ctx, SearchParams{Query: "topic"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ContextName != "research" || results[0].ContextID != 1 {
		t.Errorf("expected match in research context, got %+v", results[0])
	}

	// Restrict to one snapshot
	results, _ = s.Search(ctx, SearchParams{Query: "attention", SnapshotID: first.ID})
	if len(results) != 1 {
		t.Errorf("expected 1 result in snapshot, got %d", len(results))
	}
}

func TestSearch_KindAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Put(ctx, PutParams{Snapshot: sampleSnapshot("r", "")})

	results, _ := s.Search(ctx, SearchParams{Query: "", Kind: "int"})
	if len(results) != 1 || results[0].Key != "answer" {
		t.Errorf("expected only the int entry, got %+v", results)
	}

	results, _ = s.Search(ctx, SearchParams{Query: "", Limit: 2})
	if len(results) != 2 {
		t.Errorf("expected limit 2, got %d", len(results))
	}
}

func TestSearch_NoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Put(ctx, PutParams{Snapshot: sampleSnapshot("r", "")})

	results, err := s.Search(ctx, SearchParams{Query: "nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}
