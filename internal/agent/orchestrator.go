package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/catalog"
	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/promptlib"
	"github.com/hurttlocker/mbsagent/internal/reflect"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/rules"
	"github.com/hurttlocker/mbsagent/internal/verify"
)

// RuleSource derives an ItemRule for a catalog item — satisfied by
// *catalog.Store (via its content-hash-memoized ParseRule).
type RuleSource interface {
	ParseRule(ctx context.Context, item catalog.Item) (rules.ItemRule, error)
}

// Config bounds the orchestrator's loop.
type Config struct {
	// MaxDeepIterations caps the number of refinement rounds after the
	// initial Deep-mode propose/verify pass (default 2, for 3 propose
	// rounds total); reaching it ends the run even if Verify hasn't
	// marked it done.
	MaxDeepIterations int
	// ProposeRetries caps the unique-code accumulation retries within
	// one propose/refine_propose round.
	ProposeRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxDeepIterations <= 0 {
		c.MaxDeepIterations = 2
	}
	if c.ProposeRetries <= 0 {
		c.ProposeRetries = 3
	}
	return c
}

// Orchestrator wires the Fact Extractor, Query Reflector, Retriever,
// Rule Parser, and Verifier into the bounded state graph.
type Orchestrator struct {
	Retriever *retrieve.Retriever
	Reflector *reflect.Reflector
	Rules     RuleSource
	Items     retrieve.ItemSource
	Provider  llmclient.Provider // optional; nil skips LLM fact completion
	Prompts   *promptlib.Registry
	Config    Config
	Logger    *log.Logger
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
}

// Run executes the Agent Orchestrator graph for one note.
// In Deep mode, a failed initial propose round falls back to a linear
// propose/verify/critic pass, and an error is returned only when that
// fallback's retrieval also fails; a failed refinement round ends the
// loop with the items accepted so far. Smart mode has no fallback: a
// retrieval error is returned to the caller.
func (o *Orchestrator) Run(ctx context.Context, note string, topN int, mode Mode) (Result, error) {
	if strings.TrimSpace(note) == "" {
		return Result{}, fmt.Errorf("agent: empty note")
	}
	if topN <= 0 {
		topN = 10
	}
	cfg := o.Config.withDefaults()

	state := &AgentState{Note: note, TopN: topN}
	state.Facts = clinical.Extract(ctx, o.Provider, o.Prompts, note)

	reflection := o.Reflector.Reflect(ctx, note, state.Facts)
	state.EnhancedQuery = reflection.EnhancedQuery
	state.ReflectionConstraints = reflection.KeyConstraints

	if mode == ModeSmart {
		return o.runSmart(ctx, state, reflection)
	}
	return o.runDeep(ctx, state, reflection, cfg)
}

func (o *Orchestrator) runSmart(ctx context.Context, state *AgentState, reflection reflect.Reflection) (Result, error) {
	query := appendConstraints(state.EnhancedQuery, state.ReflectionConstraints)
	res, err := o.Retriever.Run(ctx, query, state.TopN, nil, retrieve.ModeFlags{
		EnableStage2Reflection: true,
		EnableLLMReflection:    true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: smart retrieval failed: %w", err)
	}

	items := make([]verify.VerifiedItem, 0, len(res.Items))
	for _, r := range res.Items {
		reason := r.MatchReason
		if reason == "" {
			reason = "Enhanced by query self-reflection"
		}
		items = append(items, verify.VerifiedItem{
			Code:    r.ItemNum,
			Display: r.Title,
			Fee:     r.Fee,
			Score:   floatPtr(r.MatchScore),
			Group:   "",
			Verify:  verify.VerifyReport{ItemCode: r.ItemNum, RationaleMarkdown: reason},
		})
	}

	return Result{
		NoteFacts:  state.Facts,
		Items:      items,
		Iterations: 1,
		Reflection: &reflection,
	}, nil
}

func (o *Orchestrator) runDeep(ctx context.Context, state *AgentState, reflection reflect.Reflection, cfg Config) (Result, error) {
	query := appendConstraints(state.EnhancedQuery, state.ReflectionConstraints)

	proposal, err := o.proposeRound(ctx, query, state.TopN+3, state.BannedCodes, cfg.ProposeRetries)
	if err != nil {
		o.logger().Printf("agent: propose failed, falling back to linear pipeline: %v", err)
		return o.runFallbackLinear(ctx, state, reflection)
	}
	state.Proposal = proposal
	state.Iterations = 1
	o.verifyState(ctx, state)

	// refinements counts refinement rounds only, decoupled from
	// state.Iterations (which counts total propose rounds including the
	// initial pass), so the loop caps at MaxDeepIterations refinements —
	// MaxDeepIterations+1 propose rounds total.
	refinements := 0
	for !state.Done && refinements < cfg.MaxDeepIterations {
		refinements++
		state.Iterations++
		critic := buildCriticQuery(query, state.Facts, state.BannedCodes)
		proposal, err := o.proposeRound(ctx, critic, state.TopN+3, state.BannedCodes, cfg.ProposeRetries)
		if err != nil {
			o.logger().Printf("agent: refine_propose failed on refinement %d: %v", refinements, err)
			break
		}
		state.Proposal = proposal
		o.verifyState(ctx, state)
	}

	if len(state.Accepted) > state.TopN {
		state.Accepted = state.Accepted[:state.TopN]
	}

	return Result{
		NoteFacts:         state.Facts,
		Items:             state.Accepted,
		ConflictsResolved: state.ConflictsResolved,
		Iterations:        state.Iterations,
		Reflection:        &reflection,
	}, nil
}

// runFallbackLinear is the non-graph fallback path: a
// single retrieve → verify pass, and if under-filled, one refinement
// round built from critic hints, capped at one refinement total.
func (o *Orchestrator) runFallbackLinear(ctx context.Context, state *AgentState, reflection reflect.Reflection) (Result, error) {
	query := appendConstraints(state.EnhancedQuery, state.ReflectionConstraints)

	res, err := o.Retriever.Run(ctx, query, state.TopN, state.BannedCodes, retrieve.ModeFlags{})
	if err != nil {
		return Result{}, fmt.Errorf("agent: fallback retrieval failed: %w", err)
	}
	state.Proposal = resultItemsToProposed(res.Items)
	state.Iterations = 1
	o.verifyState(ctx, state)

	if !state.Done {
		critic := buildCriticQuery(query, state.Facts, state.BannedCodes)
		res, err = o.Retriever.Run(ctx, critic, state.TopN, state.BannedCodes, retrieve.ModeFlags{})
		if err == nil {
			state.Proposal = resultItemsToProposed(res.Items)
			state.Iterations = 2
			o.verifyState(ctx, state)
		}
	}

	if len(state.Accepted) > state.TopN {
		state.Accepted = state.Accepted[:state.TopN]
	}
	return Result{
		NoteFacts:         state.Facts,
		Items:             state.Accepted,
		ConflictsResolved: state.ConflictsResolved,
		Iterations:        state.Iterations,
		Reflection:        &reflection,
	}, nil
}

func resultItemsToProposed(items []retrieve.ResultItem) []ProposedItem {
	out := make([]ProposedItem, len(items))
	for i, item := range items {
		out[i] = ProposedItem{
			Code:        item.ItemNum,
			Title:       item.Title,
			Fee:         item.Fee,
			Score:       item.MatchScore,
			MatchReason: item.MatchReason,
		}
	}
	return out
}

// proposeRound asks the Retriever for up to count unique, non-banned
// candidates, retrying accumulation up to maxTries times.
func (o *Orchestrator) proposeRound(ctx context.Context, query string, count int, banned []string, maxTries int) ([]ProposedItem, error) {
	seen := map[string]bool{}
	exclude := append([]string{}, banned...)
	var out []ProposedItem

	for try := 0; try < maxTries && len(out) < count; try++ {
		res, err := o.Retriever.Run(ctx, query, count, exclude, retrieve.ModeFlags{EnableStage2Reflection: true})
		if err != nil {
			if try == 0 {
				return nil, err
			}
			break
		}
		before := len(out)
		for _, item := range res.Items {
			if seen[item.ItemNum] {
				continue
			}
			seen[item.ItemNum] = true
			exclude = append(exclude, item.ItemNum)
			out = append(out, ProposedItem{
				Code:        item.ItemNum,
				Title:       item.Title,
				Fee:         item.Fee,
				Score:       item.MatchScore,
				MatchReason: item.MatchReason,
			})
			if len(out) == count {
				break
			}
		}
		if len(out) == before {
			break // no new codes returned; further retries won't help
		}
	}
	return out, nil
}

// verifyState runs the Rule Parser + Verifier over state.Proposal,
// updating BannedCodes/SeenCodes/Accepted/Done in place.
func (o *Orchestrator) verifyState(ctx context.Context, state *AgentState) {
	newCodes := 0
	for _, p := range state.Proposal {
		if containsCode(state.SeenCodes, p.Code) {
			continue
		}
		newCodes++
		state.SeenCodes = appendCodeUnique(state.SeenCodes, p.Code)
		state.BannedCodes = appendCodeUnique(state.BannedCodes, p.Code)

		catalogItem, ok, err := o.Items.Get(ctx, p.Code)
		if err != nil || !ok {
			o.logger().Printf("agent: catalog lookup failed for %s, skipping verification", p.Code)
			continue
		}
		rule, err := o.Rules.ParseRule(ctx, catalogItem)
		if err != nil {
			o.logger().Printf("agent: rule parse failed for %s: %v", p.Code, err)
			continue
		}
		report := verify.Verify(state.Facts, rule, catalogItem)
		if !report.Passes {
			continue
		}
		state.Accepted = mergeAccepted(state.Accepted, verify.VerifiedItem{
			Code:    p.Code,
			Display: p.Title,
			Fee:     p.Fee,
			Score:   floatPtr(p.Score),
			Verify:  report,
			Group:   rule.Group,
		})
	}
	state.Done = newCodes == 0 || len(state.Accepted) >= state.TopN
}

// mergeAccepted dedups by code, last writer wins.
func mergeAccepted(accepted []verify.VerifiedItem, item verify.VerifiedItem) []verify.VerifiedItem {
	for i, existing := range accepted {
		if existing.Code == item.Code {
			accepted[i] = item
			return accepted
		}
	}
	return append(accepted, item)
}

// buildCriticQuery computes the critic's must/must_not constraints from
// NoteFacts: duration and banned codes are
// emitted as structured +/-key:value tokens that the Retriever's filter
// understands; modality/setting/specialty/visit have no filter-side
// representation yet, so they're appended as plain descriptive context
// to still influence the embedding-similarity pass.
func buildCriticQuery(base string, facts clinical.NoteFacts, banned []string) string {
	var sb strings.Builder
	sb.WriteString(base)

	if d := durationToken(facts.Duration); d != "" {
		fmt.Fprintf(&sb, " +duration:%s", d)
	}
	for _, code := range banned {
		fmt.Fprintf(&sb, " -code:%s", code)
	}

	var context []string
	if facts.Modality != nil {
		context = append(context, "modality="+string(*facts.Modality))
	}
	if facts.Setting != nil && *facts.Setting != clinical.SettingOther {
		context = append(context, "setting="+string(*facts.Setting))
	}
	if facts.Specialty != "" {
		context = append(context, "specialty="+facts.Specialty)
	}
	if facts.FirstOrReview != nil {
		context = append(context, "visit="+string(*facts.FirstOrReview))
	}
	if len(context) > 0 {
		sb.WriteString(". Context: ")
		sb.WriteString(strings.Join(context, ", "))
	}
	return sb.String()
}

func durationToken(iv *clinical.Interval) string {
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

// filterableKeys mirrors the retriever's constraint DSL keys that the
// metadata filter actually understands; only these are worth spending a
// "+key:value" token on, since the filter silently ignores any other key
// while the query parser still strips it from the embedded text. Every
// other key is appended as descriptive context instead, so it still
// reaches the embedder.
var filterableKeys = map[string]bool{"duration": true, "code": true, "group": true, "subgroup": true}

func appendConstraints(query string, constraints []string) string {
	if len(constraints) == 0 {
		return query
	}
	var sb strings.Builder
	sb.WriteString(query)
	var context []string
	for _, c := range constraints {
		key, _, ok := strings.Cut(c, ":")
		if ok && filterableKeys[key] {
			sb.WriteString(" +")
			sb.WriteString(c)
		} else {
			context = append(context, c)
		}
	}
	if len(context) > 0 {
		sb.WriteString(". Context: ")
		sb.WriteString(strings.Join(context, ", "))
	}
	return sb.String()
}

func floatPtr(f float64) *float64 { return &f }
