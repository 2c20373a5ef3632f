package clinical

import (
	"context"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/promptlib"
)

// llmFactResponse mirrors NoteFacts' LLM-completable subset.
type llmFactResponse struct {
	DurationMin          *int    `json:"duration_min"`
	DurationMax          *int    `json:"duration_max"`
	DurationMinInclusive *bool   `json:"duration_min_inclusive"`
	DurationMaxInclusive *bool   `json:"duration_max_inclusive"`
	Age                  *int    `json:"age"`
	Modality             *string `json:"modality"`
	Setting              *string `json:"setting"`
}

// missingFields lists which completable fields are still unknown after
// the heuristic pass. LLM completion is invoked only if any of
// {duration_min, modality, setting, age, inclusivity booleans} are
// missing after heuristics.
func missingFields(f NoteFacts) []string {
	var missing []string
	if f.Duration == nil {
		missing = append(missing, "duration_min", "duration_max", "duration_min_inclusive", "duration_max_inclusive")
	} else if f.Duration.Min != nil && f.Duration.Max == nil {
		missing = append(missing, "duration_max")
	}
	if f.Age == nil {
		missing = append(missing, "age")
	}
	if f.Modality == nil {
		missing = append(missing, "modality")
	}
	if f.Setting == nil {
		missing = append(missing, "setting")
	}
	return missing
}

// Extract runs the heuristic pass and, only if it left completable fields
// unknown, asks provider to fill the gaps. Heuristic values always take
// precedence: the LLM response can only populate nil fields, never
// overwrite a heuristic one.
//
// On LLM failure (including provider == nil), the heuristic view is
// returned unchanged — this path never raises.
func Extract(ctx context.Context, provider llmclient.Provider, registry *promptlib.Registry, note string) NoteFacts {
	facts := ExtractHeuristic(note)

	missing := missingFields(facts)
	if len(missing) == 0 || provider == nil {
		return facts
	}
	if registry == nil {
		registry = promptlib.Default()
	}

	system, user, err := registry.Render("fact_completion", map[string]string{
		"note":           note,
		"missing_fields": strings.Join(missing, ", "),
	})
	if err != nil {
		return facts
	}

	var resp llmFactResponse
	completeErr := llmclient.CompleteJSON(ctx, provider, user, llmclient.CompletionOpts{
		System:      system,
		Temperature: 0,
	}, &resp)
	if completeErr != nil {
		return facts
	}

	applyLLMCompletion(&facts, resp)
	return facts
}

func applyLLMCompletion(f *NoteFacts, resp llmFactResponse) {
	if f.fromLLM == nil {
		f.fromLLM = make(map[string]bool)
	}
	if f.Duration == nil && resp.DurationMin != nil {
		iv := Interval{
			Min:         resp.DurationMin,
			Max:         resp.DurationMax,
			LeftClosed:  resp.DurationMinInclusive == nil || *resp.DurationMinInclusive,
			RightClosed: resp.DurationMaxInclusive != nil && *resp.DurationMaxInclusive,
		}
		f.Duration = &iv
		f.fromLLM["duration"] = true
	}
	if f.Age == nil && resp.Age != nil {
		f.Age = resp.Age
		f.fromLLM["age"] = true
	}
	if f.Modality == nil && resp.Modality != nil {
		if m := Modality(*resp.Modality); isValidModality(m) {
			f.Modality = &m
			f.fromLLM["modality"] = true
		}
	}
	if f.Setting == nil && resp.Setting != nil {
		if s := Setting(*resp.Setting); isValidSetting(s) {
			f.Setting = &s
			f.fromLLM["setting"] = true
		}
	}
}

func isValidModality(m Modality) bool {
	switch m {
	case ModalityInPerson, ModalityVideo, ModalityPhone:
		return true
	}
	return false
}

func isValidSetting(s Setting) bool {
	switch s {
	case SettingConsultingRooms, SettingHospital, SettingResidentialCare, SettingHome, SettingOther:
		return true
	}
	return false
}
