package reflect

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/promptlib"
)

// Reflector implements the two-phase Query Reflector.
type Reflector struct {
	LLM     llmclient.Provider // optional; nil skips phase 2 entirely
	Prompts *promptlib.Registry
	Logger  *log.Logger
}

func (r *Reflector) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
}

func (r *Reflector) prompts() *promptlib.Registry {
	if r.Prompts != nil {
		return r.Prompts
	}
	return promptlib.Default()
}

// Reflect scores note/facts completeness, optionally refines the query
// through an LLM call, and synthesizes keyConstraints.
func (r *Reflector) Reflect(ctx context.Context, note string, facts clinical.NoteFacts) Reflection {
	score, reasons := completenessScore(note, facts)
	keyConstraints := factConstraints(facts)

	out := Reflection{
		CompletenessScore: score,
		NeedsLLM:          reasons,
		EnhancedQuery:     note,
		KeyConstraints:     keyConstraints,
	}

	if len(reasons) == 0 || r.LLM == nil {
		return out
	}

	system, user, err := r.prompts().Render("query_reflection", map[string]string{
		"note":               note,
		"facts_summary":      summarizeFacts(facts),
		"completeness_score": fmt.Sprintf("%.2f", score),
		"flags":              strings.Join(reasons, ", "),
	})
	if err != nil {
		return out
	}

	var resp llmReflectionResponse
	if completeErr := llmclient.CompleteJSON(ctx, r.LLM, user, llmclient.CompletionOpts{
		System:      system,
		Temperature: 0.1,
	}, &resp); completeErr != nil {
		r.logger().Printf("reflect: llm refinement failed, falling back to original note: %v", completeErr)
		return out
	}

	out.UsedLLM = true
	out.Confidence = resp.Confidence
	out.Reasoning = resp.Reasoning
	out.StandardizedTerms = resp.StandardizedTerms
	out.AddedConstraints = resp.AddedConstraints
	out.RemovedNoise = resp.RemovedNoise
	if strings.TrimSpace(resp.EnhancedQuery) != "" {
		out.EnhancedQuery = resp.EnhancedQuery
	}
	out.KeyConstraints = unionConstraints(keyConstraints, resp.AddedConstraints)
	return out
}

type llmReflectionResponse struct {
	EnhancedQuery     string   `json:"enhanced_query"`
	StandardizedTerms []string `json:"standardized_terms"`
	AddedConstraints  []string `json:"added_constraints"`
	RemovedNoise      []string `json:"removed_noise"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
}

// completenessScore starts at 0.6, adds fixed increments per structured
// fact present, and flags reasons an LLM pass is warranted.
func completenessScore(note string, facts clinical.NoteFacts) (float64, []string) {
	const base = 0.6
	const increment = 0.1

	score := base
	var reasons []string

	if facts.Duration != nil {
		score += increment
	}
	if facts.Age != nil {
		score += increment
	}
	if facts.Modality != nil && *facts.Modality != clinical.ModalityInPerson {
		score += increment
	}
	if score > 1 {
		score = 1
	}

	lower := strings.ToLower(note)
	for _, abbr := range clinicalAbbreviations {
		if containsWord(lower, abbr) {
			reasons = append(reasons, "clinical_abbreviation:"+abbr)
		}
	}
	if !containsAnyWord(lower, contextVocabulary) {
		reasons = append(reasons, "missing_clinical_context")
	}
	if score < 0.8 {
		reasons = append(reasons, "low_completeness_score")
	}
	return score, reasons
}

var wordBoundaryCache = map[string]*regexp.Regexp{}

func containsWord(text, word string) bool {
	re, ok := wordBoundaryCache[word]
	if !ok {
		re = regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
		wordBoundaryCache[word] = re
	}
	return re.MatchString(text)
}

func containsAnyWord(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// factConstraints synthesizes duration/modality/setting constraints
// directly from the extracted facts.
func factConstraints(facts clinical.NoteFacts) []string {
	var out []string
	if d := durationConstraint(facts.Duration); d != "" {
		out = append(out, "duration:"+d)
	}
	if facts.Modality != nil {
		out = append(out, "modality:"+string(*facts.Modality))
	}
	if facts.Setting != nil {
		out = append(out, "setting:"+string(*facts.Setting))
	}
	return out
}

func durationConstraint(iv *clinical.Interval) string {
	if iv == nil {
		return ""
	}
	switch {
	case iv.Min != nil && iv.Max != nil:
		return fmt.Sprintf("%d-%d", *iv.Min, *iv.Max)
	case iv.Min != nil:
		return fmt.Sprintf(">=%d", *iv.Min)
	case iv.Max != nil:
		return fmt.Sprintf("<%d", *iv.Max)
	default:
		return ""
	}
}

// unionConstraints dedups facts-derived and LLM-added constraints,
// preserving facts-derived order first.
func unionConstraints(factDerived, llmAdded []string) []string {
	seen := make(map[string]bool, len(factDerived)+len(llmAdded))
	var out []string
	for _, c := range factDerived {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range llmAdded {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func summarizeFacts(facts clinical.NoteFacts) string {
	var parts []string
	if facts.Duration != nil {
		if d := durationConstraint(facts.Duration); d != "" {
			parts = append(parts, "duration="+d)
		}
	}
	if facts.Age != nil {
		parts = append(parts, fmt.Sprintf("age=%d", *facts.Age))
	}
	if facts.Modality != nil {
		parts = append(parts, "modality="+string(*facts.Modality))
	}
	if facts.Setting != nil {
		parts = append(parts, "setting="+string(*facts.Setting))
	}
	if facts.FirstOrReview != nil {
		parts = append(parts, "visit="+string(*facts.FirstOrReview))
	}
	if facts.IsGP != nil && *facts.IsGP {
		parts = append(parts, "provider=gp")
	}
	if facts.IsSpecialist != nil && *facts.IsSpecialist {
		parts = append(parts, "provider=specialist")
	}
	if len(facts.Keywords) > 0 {
		kw := append([]string{}, facts.Keywords...)
		sort.Strings(kw)
		parts = append(parts, "keywords="+strings.Join(kw, "|"))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "; ")
}
