// Package retrieve implements the Retriever: vector similarity search
// with an optional metadata prefilter, optional cross-encoder rerank,
// optional constraint-aware local rerank, and optional LLM rerank,
// followed by LLM answer synthesis.
package retrieve

import "github.com/hurttlocker/mbsagent/internal/catalog"

// Candidate is one retrieved item moving through the rerank pipeline.
type Candidate struct {
	Code  string
	Item  catalog.Item
	Score float64 // normalized relevance, 0..1, higher is better
}

// ResultItem is one final recommendation.
type ResultItem struct {
	ItemNum    string
	Title      string
	MatchReason string
	MatchScore float64
	Fee        *float64
}

// Result is the Retriever's output for one query.
type Result struct {
	Items []ResultItem
}

// ModeFlags gates the two optional reflection-driven rerank stages
//.
type ModeFlags struct {
	EnableStage2Reflection bool
	EnableLLMReflection    bool
}

const (
	minCandidates     = 30
	maxCandidates     = 200
	defaultCandidates = 150
)

// clampCandidates enforces the [30,200] default-150 pool size invariant
//.
func clampCandidates(n int) int {
	if n <= 0 {
		return defaultCandidates
	}
	if n < minCandidates {
		return minCandidates
	}
	if n > maxCandidates {
		return maxCandidates
	}
	return n
}
