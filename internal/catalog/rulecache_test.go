package catalog

import (
	"context"
	"testing"
)

func TestParseRuleMemoizes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := Item{
		Code:        "104",
		Title:       "Specialist consultation",
		Description: "Attendance at least 20 minutes and less than 40 minutes by a specialist",
		Group:       "A3",
	}

	first, err := s.ParseRule(ctx, item)
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if first.TimeWindow == nil || first.TimeWindow.Min == nil || *first.TimeWindow.Min != 20 {
		t.Fatalf("expected parsed time window min 20, got %+v", first.TimeWindow)
	}

	var cached string
	row := s.db.QueryRowContext(ctx, `SELECT content_hash FROM rule_cache WHERE code = ?`, "104")
	if err := row.Scan(&cached); err != nil {
		t.Fatalf("expected a cache row after first parse: %v", err)
	}

	second, err := s.ParseRule(ctx, item)
	if err != nil {
		t.Fatalf("ParseRule (cached): %v", err)
	}
	if *second.TimeWindow.Min != *first.TimeWindow.Min {
		t.Fatalf("expected cached parse to match first parse, got %+v vs %+v", second.TimeWindow, first.TimeWindow)
	}
}

func TestParseRuleReparsesOnContentChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := Item{Code: "36", Description: "Attendance at least 20 minutes"}
	if _, err := s.ParseRule(ctx, item); err != nil {
		t.Fatalf("ParseRule: %v", err)
	}

	item.Description = "Attendance at least 40 minutes"
	updated, err := s.ParseRule(ctx, item)
	if err != nil {
		t.Fatalf("ParseRule (updated): %v", err)
	}
	if updated.TimeWindow == nil || updated.TimeWindow.Min == nil || *updated.TimeWindow.Min != 40 {
		t.Fatalf("expected reparsed time window min 40, got %+v", updated.TimeWindow)
	}
}
