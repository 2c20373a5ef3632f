// Package agent implements the Agent Orchestrator: a small directed state
// graph composing the Fact Extractor, Query Reflector, Retriever, Rule
// Parser, and Verifier under bounded iteration with banned-code
// bookkeeping.
package agent

import (
	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/reflect"
	"github.com/hurttlocker/mbsagent/internal/verify"
)

// Mode selects the orchestrator's operating mode.
type Mode int

const (
	// ModeDeep runs the full propose/verify/critic/refine loop.
	ModeDeep Mode = iota
	// ModeSmart runs a single retrieval pass with no Verifier reports.
	ModeSmart
)

// AgentState is the orchestrator's working state across the graph's
// nodes.
type AgentState struct {
	Note       string
	TopN       int
	Iterations int
	Done       bool

	Facts                 clinical.NoteFacts
	EnhancedQuery         string
	ReflectionConstraints []string

	Proposal []ProposedItem

	Accepted          []verify.VerifiedItem
	BannedCodes       []string
	SeenCodes         []string
	ConflictsResolved []string
}

// ProposedItem is one retriever-returned candidate awaiting verification.
type ProposedItem struct {
	Code        string
	Title       string
	Fee         *float64
	Score       float64
	MatchReason string
}

// Result is the Agent Orchestrator's return value.
type Result struct {
	NoteFacts         clinical.NoteFacts
	Items             []verify.VerifiedItem
	ConflictsResolved []string
	Iterations        int
	Reflection        *reflect.Reflection
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func appendCodeUnique(codes []string, code string) []string {
	if containsCode(codes, code) {
		return codes
	}
	return append(codes, code)
}
