package catalog

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fee := 39.75
	item := Item{
		Code:        "23",
		Title:       "Level B consultation",
		Description: "Professional attendance at consulting rooms, at least 6 minutes",
		Group:       "A1",
		Fee:         &fee,
	}
	if err := s.Upsert(ctx, item); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "23")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected item to be found")
	}
	if got.Title != item.Title || got.Group != "A1" {
		t.Fatalf("expected matching item, got %+v", got)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected item to be absent")
	}
}

func TestUpsertIsIdempotentReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := Item{Code: "104", Title: "v1", Description: "desc v1"}
	if err := s.Upsert(ctx, item); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item.Title = "v2"
	item.Description = "desc v2"
	if err := s.Upsert(ctx, item); err != nil {
		t.Fatalf("Upsert (replace): %v", err)
	}

	got, ok, err := s.Get(ctx, "104")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != "v2" {
		t.Fatalf("expected replaced title v2, got %q", got.Title)
	}
}

func TestSearchMatchesDescription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []Item{
		{Code: "36", Title: "Level C", Description: "Professional attendance at consulting rooms for review"},
		{Code: "44", Title: "Level D", Description: "Extended attendance in hospital for complex management"},
	}
	for _, it := range items {
		if err := s.Upsert(ctx, it); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	codes, err := s.Search(ctx, "hospital", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(codes) != 1 || codes[0] != "44" {
		t.Fatalf("expected [44], got %v", codes)
	}
}
