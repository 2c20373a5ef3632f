package promptlib

import (
	"strings"
	"testing"
)

func TestDefaultRegistryHasCorePrompts(t *testing.T) {
	r := Default()
	for _, name := range []string{"fact_completion", "query_reflection", "answer_synthesis", "llm_rerank"} {
		if _, ok := r.templates[name]; !ok {
			t.Fatalf("expected prompt %q to be registered", name)
		}
	}
}

func TestRenderSubstitutesVariables(t *testing.T) {
	r := Default()
	_, user, err := r.Render("fact_completion", map[string]string{
		"note":           "patient seen for 20 minutes",
		"missing_fields": "age, setting",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "patient seen for 20 minutes"; !strings.Contains(user, want) {
		t.Fatalf("expected rendered user prompt to contain %q, got %q", want, user)
	}
	if !strings.Contains(user, "age, setting") {
		t.Fatalf("expected missing_fields substitution in %q", user)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := Default()
	if _, _, err := r.Render("does_not_exist", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
