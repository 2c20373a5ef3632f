package clinical

import (
	"context"
	"testing"

	"github.com/hurttlocker/mbsagent/internal/llmclient"
)

func TestExtractSkipsLLMWhenHeuristicsComplete(t *testing.T) {
	note := "Patient seen for exactly 20 minutes in consulting rooms, aged 45, video consult."
	fake := &llmclient.FakeProvider{Responses: []string{`{}`}}

	facts := Extract(context.Background(), fake, nil, note)

	if len(fake.Prompts) != 0 {
		t.Fatalf("expected no LLM call when heuristics resolved all fields, got %d calls", len(fake.Prompts))
	}
	if facts.Duration == nil || facts.Duration.Min == nil || *facts.Duration.Min != 20 {
		t.Fatalf("expected heuristic duration 20, got %+v", facts.Duration)
	}
}

func TestExtractFillsGapsFromLLM(t *testing.T) {
	note := "Patient attended for a consultation."
	fake := &llmclient.FakeProvider{Responses: []string{
		`{"duration_min": 15, "duration_max": 20, "duration_min_inclusive": true, "duration_max_inclusive": false, "age": 34, "modality": "phone", "setting": "home"}`,
	}}

	facts := Extract(context.Background(), fake, nil, note)

	if len(fake.Prompts) != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", len(fake.Prompts))
	}
	if facts.Duration == nil || facts.Duration.Min == nil || *facts.Duration.Min != 15 {
		t.Fatalf("expected LLM-completed duration min 15, got %+v", facts.Duration)
	}
	if facts.Age == nil || *facts.Age != 34 {
		t.Fatalf("expected LLM-completed age 34, got %v", facts.Age)
	}
	if facts.Modality == nil || *facts.Modality != ModalityPhone {
		t.Fatalf("expected LLM-completed modality phone, got %v", facts.Modality)
	}
	if facts.Setting == nil || *facts.Setting != SettingHome {
		t.Fatalf("expected LLM-completed setting home, got %v", facts.Setting)
	}
	if !facts.FromLLM("duration") || !facts.FromLLM("age") || !facts.FromLLM("modality") || !facts.FromLLM("setting") {
		t.Fatal("expected all LLM-filled fields to be marked as such")
	}
}

func TestExtractHeuristicValuesNeverOverwrittenByLLM(t *testing.T) {
	note := "Patient seen for exactly 20 minutes, no other detail."
	fake := &llmclient.FakeProvider{Responses: []string{
		`{"duration_min": 999, "age": 50, "modality": "video", "setting": "hospital"}`,
	}}

	facts := Extract(context.Background(), fake, nil, note)

	if facts.Duration == nil || facts.Duration.Min == nil || *facts.Duration.Min != 20 {
		t.Fatalf("expected heuristic duration 20 to win over LLM value, got %+v", facts.Duration)
	}
	if facts.Age == nil || *facts.Age != 50 {
		t.Fatalf("expected LLM to fill missing age, got %v", facts.Age)
	}
	if facts.FromLLM("duration") {
		t.Fatal("duration was resolved by heuristics; should not be marked as LLM-sourced")
	}
}

func TestExtractReturnsHeuristicOnLLMFailure(t *testing.T) {
	note := "Patient attended for a consultation, no further detail."
	fake := &llmclient.FakeProvider{Err: context.DeadlineExceeded}

	facts := Extract(context.Background(), fake, nil, note)

	if facts.Duration != nil {
		t.Fatalf("expected nil duration when both heuristics and LLM found nothing, got %+v", facts.Duration)
	}
}

func TestExtractReturnsHeuristicWhenProviderNil(t *testing.T) {
	note := "Patient attended for a consultation."
	facts := Extract(context.Background(), nil, nil, note)
	if facts.Age != nil {
		t.Fatalf("expected nil age with no provider, got %v", facts.Age)
	}
}

func TestExtractIgnoresInvalidLLMEnumValues(t *testing.T) {
	note := "Patient attended for a consultation."
	fake := &llmclient.FakeProvider{Responses: []string{
		`{"modality": "carrier_pigeon", "setting": "moon_base"}`,
	}}

	facts := Extract(context.Background(), fake, nil, note)

	if facts.Modality != nil {
		t.Fatalf("expected invalid modality to be rejected, got %v", facts.Modality)
	}
	if facts.Setting != nil {
		t.Fatalf("expected invalid setting to be rejected, got %v", facts.Setting)
	}
}
