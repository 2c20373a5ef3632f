// Package reflect implements the Query Reflector: a heuristic
// completeness score over the extracted clinical facts, followed by an
// optional LLM refinement pass, plus synthesis of advisory retrieval
// constraints from those facts.
//
// The reflector's output is advisory only: it feeds the next iteration's
// retrieval query and +must constraints but never filters anything
// itself.
package reflect

// Reflection is the Query Reflector's output for one note/fact pair.
type Reflection struct {
	// CompletenessScore is the heuristic score in step 1, always computed.
	CompletenessScore float64
	// NeedsLLM records why step 2 ran (or would have run had a provider
	// been configured) — empty when the heuristic pass judged the note
	// complete.
	NeedsLLM []string

	// EnhancedQuery is the query text to retrieve with: the LLM's
	// enhanced_query on success, or the original note otherwise.
	EnhancedQuery string
	StandardizedTerms []string
	AddedConstraints  []string
	RemovedNoise      []string
	Confidence        float64
	Reasoning         string
	UsedLLM           bool

	// KeyConstraints unions facts-derived constraints (duration bucket,
	// modality, setting) with any LLM AddedConstraints, deduplicated.
	KeyConstraints []string
}

// clinicalAbbreviations trigger an LLM pass regardless of the heuristic
// score: they're too ambiguous for the heuristic extractor to resolve on
// its own.
var clinicalAbbreviations = []string{"mi", "copd", "dm", "htn", "af", "dvt", "pe"}

// contextVocabulary is scanned to detect whether the note mentions any
// symptom/diagnosis/procedure at all; its complete absence is itself a
// red flag for the heuristic scorer.
var contextVocabulary = []string{
	"pain", "ache", "injury", "wound", "infection", "fracture", "fever",
	"consultation", "consult", "review", "assessment", "examination",
	"diagnosis", "procedure", "surgery", "biopsy", "excision", "scan",
	"referral", "management", "follow-up", "follow up", "treatment",
	"symptom", "condition", "disease", "disorder",
}
