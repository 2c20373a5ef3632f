package reflect

import (
	"context"
	"testing"

	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
)

func modality(m clinical.Modality) *clinical.Modality { return &m }
func setting(s clinical.Setting) *clinical.Setting     { return &s }
func interval(min, max *int) *clinical.Interval {
	return &clinical.Interval{Min: min, Max: max, LeftClosed: true, RightClosed: false}
}
func intp(i int) *int { return &i }

func TestCompletenessScoreBaseline(t *testing.T) {
	r := &Reflector{}
	out := r.Reflect(context.Background(), "patient seen today", clinical.NoteFacts{})
	if out.CompletenessScore != 0.6 {
		t.Errorf("expected base score 0.6, got %f", out.CompletenessScore)
	}
	if len(out.NeedsLLM) == 0 {
		t.Error("expected low-completeness reason to be flagged")
	}
}

func TestCompletenessScoreIncrementsPerFact(t *testing.T) {
	r := &Reflector{}
	facts := clinical.NoteFacts{
		Duration: interval(intp(20), intp(40)),
		Age:      intp(45),
		Modality: modality(clinical.ModalityVideo),
	}
	out := r.Reflect(context.Background(), "video consult with patient, review of hypertension treatment", facts)
	if out.CompletenessScore < 0.89 || out.CompletenessScore > 0.91 {
		t.Errorf("expected score near 0.9, got %f", out.CompletenessScore)
	}
}

func TestCompletenessScoreCapsAtOne(t *testing.T) {
	r := &Reflector{}
	facts := clinical.NoteFacts{
		Duration: interval(intp(20), intp(40)),
		Age:      intp(45),
		Modality: modality(clinical.ModalityVideo),
	}
	out := r.Reflect(context.Background(), "review", facts)
	if out.CompletenessScore > 1.0 {
		t.Errorf("score exceeded 1.0: %f", out.CompletenessScore)
	}
}

func TestAbbreviationTriggersLLMFlag(t *testing.T) {
	r := &Reflector{}
	out := r.Reflect(context.Background(), "patient with htn and dm, review", clinical.NoteFacts{
		Duration: interval(intp(20), intp(40)),
		Age:      intp(50),
	})
	found := map[string]bool{}
	for _, reason := range out.NeedsLLM {
		found[reason] = true
	}
	if !found["clinical_abbreviation:htn"] || !found["clinical_abbreviation:dm"] {
		t.Errorf("expected htn/dm abbreviation flags, got %v", out.NeedsLLM)
	}
}

func TestMissingClinicalContextFlagged(t *testing.T) {
	r := &Reflector{}
	out := r.Reflect(context.Background(), "xyz abc 123", clinical.NoteFacts{})
	found := false
	for _, reason := range out.NeedsLLM {
		if reason == "missing_clinical_context" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing_clinical_context flag, got %v", out.NeedsLLM)
	}
}

func TestReflectSkipsLLMWhenNoReasonsAndScoreHigh(t *testing.T) {
	r := &Reflector{}
	facts := clinical.NoteFacts{
		Duration: interval(intp(20), intp(40)),
		Age:      intp(50),
		Modality: modality(clinical.ModalityVideo),
	}
	out := r.Reflect(context.Background(), "video review consultation for chronic condition management", facts)
	if len(out.NeedsLLM) != 0 {
		t.Fatalf("expected no LLM reasons, got %v", out.NeedsLLM)
	}
	if out.UsedLLM {
		t.Error("expected UsedLLM false when no reasons present")
	}
}

func TestReflectCallsLLMWhenFlagged(t *testing.T) {
	provider := &llmclient.FakeProvider{Responses: []string{
		`{"enhanced_query":"45yo patient htn review","standardized_terms":["hypertension"],"added_constraints":["modality:in_person"],"removed_noise":["today"],"confidence":0.82,"reasoning":"clarified abbreviation"}`,
	}}
	r := &Reflector{LLM: provider}
	out := r.Reflect(context.Background(), "htn review today", clinical.NoteFacts{Age: intp(45)})
	if !out.UsedLLM {
		t.Fatal("expected UsedLLM true")
	}
	if out.EnhancedQuery != "45yo patient htn review" {
		t.Errorf("expected enhanced query from LLM, got %q", out.EnhancedQuery)
	}
	if out.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %f", out.Confidence)
	}
}

func TestReflectFallsBackToOriginalNoteOnLLMFailure(t *testing.T) {
	provider := &llmclient.FakeProvider{Err: context.DeadlineExceeded}
	r := &Reflector{LLM: provider}
	note := "htn review today"
	out := r.Reflect(context.Background(), note, clinical.NoteFacts{Age: intp(45)})
	if out.UsedLLM {
		t.Error("expected UsedLLM false on failure")
	}
	if out.EnhancedQuery != note {
		t.Errorf("expected fallback to original note, got %q", out.EnhancedQuery)
	}
}

func TestFactConstraintsSynthesizesDurationModalitySetting(t *testing.T) {
	facts := clinical.NoteFacts{
		Duration: interval(intp(20), nil),
		Modality: modality(clinical.ModalityPhone),
		Setting:  setting(clinical.SettingHome),
	}
	got := factConstraints(facts)
	want := []string{"duration:>=20", "modality:phone", "setting:home"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyConstraintsUnionsLLMAddedConstraints(t *testing.T) {
	provider := &llmclient.FakeProvider{Responses: []string{
		`{"enhanced_query":"note","added_constraints":["group:A1","duration:20-40"],"confidence":0.9}`,
	}}
	r := &Reflector{LLM: provider}
	facts := clinical.NoteFacts{Duration: interval(intp(20), intp(40))}
	out := r.Reflect(context.Background(), "xyz abc", facts)
	found := map[string]bool{}
	for _, c := range out.KeyConstraints {
		found[c] = true
	}
	if !found["duration:20-40"] || !found["group:A1"] {
		t.Errorf("expected union of fact and llm constraints, got %v", out.KeyConstraints)
	}
	// duration:20-40 appears once despite being in both sources.
	count := 0
	for _, c := range out.KeyConstraints {
		if c == "duration:20-40" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected deduped duration constraint, got %d occurrences", count)
	}
}
