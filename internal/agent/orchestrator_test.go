package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/hurttlocker/mbsagent/internal/catalog"
	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/reflect"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/rules"
	"github.com/hurttlocker/mbsagent/internal/vectorindex"
	"github.com/hurttlocker/mbsagent/internal/verify"
)

// fakeEmbedder satisfies embedclient.Embedder with a fixed-dimension
// constant vector; the retriever's composite rerank, not vector distance,
// drives ordering in these tests.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	v[0] = 1
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeSearcher returns its fixed result list filtered by the allow
// predicate, honoring k.
type fakeSearcher struct {
	results []vectorindex.Result
}

func (s *fakeSearcher) SearchFiltered(query []float32, k int, allow func(code string) bool) []vectorindex.Result {
	var out []vectorindex.Result
	for _, r := range s.results {
		if allow != nil && !allow(r.Code) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out
}

// fakeStore satisfies both retrieve.ItemSource and agent.RuleSource from a
// single in-memory map, standing in for *catalog.Store in these tests.
type fakeStore struct {
	items map[string]catalog.Item
}

func (s *fakeStore) Get(ctx context.Context, code string) (catalog.Item, bool, error) {
	item, ok := s.items[code]
	return item, ok, nil
}

func (s *fakeStore) ParseRule(ctx context.Context, item catalog.Item) (rules.ItemRule, error) {
	return rules.Parse(item.Code, item.Description, rules.Metadata{
		Group:    item.Group,
		Subgroup: item.Subgroup,
	}), nil
}

// permissiveItems builds n catalog items whose descriptions carry none of
// the rule parser's constraint keywords, so Verify trivially passes every
// check (each item is "Standard attendance").
func permissiveItems(n int) (*fakeStore, *fakeSearcher) {
	items := map[string]catalog.Item{}
	var results []vectorindex.Result
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("%d", 100+i)
		items[code] = catalog.Item{
			Code:        code,
			Title:       "Standard attendance",
			Description: "Professional attendance, not otherwise specified",
		}
		results = append(results, vectorindex.Result{Code: code, Distance: float32(i) * 0.01})
	}
	return &fakeStore{items: items}, &fakeSearcher{results: results}
}

func newOrchestrator(store *fakeStore, searcher *fakeSearcher) *Orchestrator {
	retriever := &retrieve.Retriever{
		Embedder: &fakeEmbedder{dims: 4},
		Index:    searcher,
		Items:    store,
	}
	return &Orchestrator{
		Retriever: retriever,
		Reflector: &reflect.Reflector{},
		Rules:     store,
		Items:     store,
	}
}

func TestRunRejectsEmptyNote(t *testing.T) {
	o := newOrchestrator(permissiveItems(3))
	_, err := o.Run(context.Background(), "   ", 3, ModeDeep)
	if err == nil {
		t.Fatal("expected error for empty note")
	}
}

func TestRunSmartModeReturnsItemsWithNoVerifyChecks(t *testing.T) {
	store, searcher := permissiveItems(5)
	o := newOrchestrator(store, searcher)

	res, err := o.Run(context.Background(), "patient review consultation", 3, ModeSmart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("expected Smart mode to report 1 iteration, got %d", res.Iterations)
	}
	if len(res.Items) == 0 {
		t.Fatal("expected at least one item")
	}
	for _, item := range res.Items {
		if item.Verify.RationaleMarkdown == "" {
			t.Error("expected a non-empty synthetic rationale")
		}
		if len(item.Verify.Checks) != 0 {
			t.Errorf("Smart mode should not populate Checks, got %+v", item.Verify.Checks)
		}
	}
	if res.Reflection == nil {
		t.Error("expected a non-nil Reflection")
	}
}

// TestRunSmartModeDefaultsEmptyMatchReason covers the branch where the
// retriever's synthesis genuinely returns no match reason (only possible
// via an LLM synthesis response that omits it, since the no-LLM fallback
// always attaches a fixed reason string).
func TestRunSmartModeDefaultsEmptyMatchReason(t *testing.T) {
	store, searcher := permissiveItems(2)
	o := newOrchestrator(store, searcher)
	o.Retriever.LLM = &llmclient.FakeProvider{Responses: []string{
		`[{"itemNum":"100","title":"Standard attendance","match_reason":"","match_score":0.5}]`,
	}}

	res, err := o.Run(context.Background(), "patient review consultation", 3, ModeSmart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 synthesized item, got %d", len(res.Items))
	}
	if res.Items[0].Verify.RationaleMarkdown != "Enhanced by query self-reflection" {
		t.Errorf("expected default synthetic reason, got %q", res.Items[0].Verify.RationaleMarkdown)
	}
}

func TestRunDeepModeAcceptsPermissiveItemsAndBansAllSeen(t *testing.T) {
	store, searcher := permissiveItems(5)
	o := newOrchestrator(store, searcher)

	res, err := o.Run(context.Background(), "patient attendance", 3, ModeDeep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) > 3 {
		t.Fatalf("accepted.length must be <= topN(3), got %d", len(res.Items))
	}
	if len(res.Items) == 0 {
		t.Fatal("expected permissive items to be accepted")
	}
	if res.Iterations < 1 {
		t.Errorf("expected at least 1 iteration, got %d", res.Iterations)
	}
}

func TestRunDeepModeRespectsTopN(t *testing.T) {
	store, searcher := permissiveItems(8)
	o := newOrchestrator(store, searcher)

	res, err := o.Run(context.Background(), "patient attendance", 2, ModeDeep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) > 2 {
		t.Fatalf("accepted.length must be <= topN(2), got %d", len(res.Items))
	}
}

// TestRunDeepModeCapsIterationsWhenNothingPasses builds items that always
// FAIL verification (a GP-only rule contradicted by specialist-indicating
// facts) and a large enough candidate pool that proposeRound never runs
// dry, so the loop must stop solely because refinements >= MaxDeepIterations
// (initial pass + 2 refinements = 3 total propose rounds).
func TestRunDeepModeCapsIterationsWhenNothingPasses(t *testing.T) {
	items := map[string]catalog.Item{}
	var results []vectorindex.Result
	for i := 0; i < 40; i++ {
		code := fmt.Sprintf("%d", 200+i)
		items[code] = catalog.Item{
			Code:        code,
			Title:       "GP attendance",
			Description: "Professional attendance by a general practitioner",
			Group:       "A1",
		}
		results = append(results, vectorindex.Result{Code: code, Distance: float32(i) * 0.01})
	}
	store := &fakeStore{items: items}
	searcher := &fakeSearcher{results: results}
	o := newOrchestrator(store, searcher)
	o.Config = Config{MaxDeepIterations: 2}

	// Facts indicate a specialist visit, contradicting every item's
	// GP-only rule, so is_gp fails every check (verify.TestIsGPCategoryConflictFails
	// exercises the same contradiction at the verify-package level).
	note := "Specialist review of referred patient in consulting rooms."
	res, err := o.Run(context.Background(), note, 5, ModeDeep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Iterations != 3 {
		t.Fatalf("expected loop to stop after 2 refinements (3 propose rounds total), got %d iterations", res.Iterations)
	}
	if len(res.Items) != 0 {
		t.Fatalf("expected zero accepted items when every candidate fails is_gp, got %d", len(res.Items))
	}
}

func TestBannedCodesGrowMonotonicallyAcrossIterations(t *testing.T) {
	store, searcher := permissiveItems(3) // fewer than topN so the loop must iterate
	o := newOrchestrator(store, searcher)
	o.Config = Config{MaxDeepIterations: 2}

	state := &AgentState{Note: "n", TopN: 10}
	state.Facts = clinical.NoteFacts{}
	reflection := reflect.Reflection{EnhancedQuery: "n"}
	res, err := o.runDeep(context.Background(), state, reflection, o.Config.withDefaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.BannedCodes) != 3 {
		t.Fatalf("expected all 3 distinct codes to be banned once seen, got %v", state.BannedCodes)
	}
	seen := map[string]bool{}
	for _, c := range state.BannedCodes {
		if seen[c] {
			t.Fatalf("bannedCodes must be unique, duplicate %s in %v", c, state.BannedCodes)
		}
		seen[c] = true
	}
	_ = res
}

func TestMergeAcceptedDedupesLastWriterWins(t *testing.T) {
	accepted := mergeAccepted(nil, verifiedItem("1", 0.5))
	accepted = mergeAccepted(accepted, verifiedItem("2", 0.5))
	accepted = mergeAccepted(accepted, verifiedItem("1", 0.9))

	if len(accepted) != 2 {
		t.Fatalf("expected dedup to 2 entries, got %d", len(accepted))
	}
	for _, item := range accepted {
		if item.Code == "1" && *item.Score != 0.9 {
			t.Errorf("expected last-writer-wins score 0.9 for code 1, got %v", *item.Score)
		}
	}
}

func TestAppendConstraintsSplitsFilterableFromContext(t *testing.T) {
	query := appendConstraints("base query", []string{"duration:10-20", "modality:video", "specialty:cardiology"})

	if !contains(query, "+duration:10-20") {
		t.Errorf("expected filterable duration constraint as +key:value, got %q", query)
	}
	if contains(query, "+modality:video") || contains(query, "+specialty:cardiology") {
		t.Errorf("non-filterable keys must not become +key:value tokens, got %q", query)
	}
	if !contains(query, "modality=video") && !contains(query, "modality:video") {
		t.Errorf("expected modality to still reach the query as context text, got %q", query)
	}
}

func TestBuildCriticQueryIncludesDurationAndBannedCodesAsFilterTokens(t *testing.T) {
	facts := clinical.NoteFacts{Duration: &clinical.Interval{Min: intp(10), Max: intp(20), LeftClosed: true, RightClosed: false}}
	query := buildCriticQuery("base", facts, []string{"23", "36"})

	if !contains(query, "+duration:10-20") {
		t.Errorf("expected duration filter token, got %q", query)
	}
	if !contains(query, "-code:23") || !contains(query, "-code:36") {
		t.Errorf("expected a -code token per banned code, got %q", query)
	}
}

// TestProposeRoundErrorsOnEmptyQuery exercises the only way Retriever.Run
// actually returns a non-nil error (every other internal failure degrades
// to an empty, error-free Result) — the path runDeep's first propose call
// relies on to detect a graph failure and divert to the fallback pipeline.
func TestProposeRoundErrorsOnEmptyQuery(t *testing.T) {
	store, searcher := permissiveItems(3)
	o := newOrchestrator(store, searcher)

	_, err := o.proposeRound(context.Background(), "   ", 5, nil, 3)
	if err == nil {
		t.Fatal("expected proposeRound to surface Retriever.Run's empty-query error on the first try")
	}
}

func TestRunDeepFallsBackToLinearPipelineOnProposeFailure(t *testing.T) {
	store, searcher := permissiveItems(3)
	o := newOrchestrator(store, searcher)

	state := &AgentState{Note: "n", TopN: 3}
	state.Facts = clinical.NoteFacts{}
	// An empty EnhancedQuery with no constraints leaves appendConstraints'
	// output empty too, forcing the same empty-query failure runDeep's
	// initial propose call would hit on a genuine graph failure. The
	// fallback pipeline hits the identical empty-query wall for the same
	// root cause, so this only proves runDeep actually delegates to
	// runFallbackLinear rather than returning the propose error directly.
	reflection := reflect.Reflection{EnhancedQuery: "   "}

	_, err := o.runDeep(context.Background(), state, reflection, o.Config.withDefaults())
	if err == nil || !contains(err.Error(), "fallback retrieval failed") {
		t.Fatalf("expected runDeep to delegate into runFallbackLinear on propose failure, got err=%v", err)
	}
}

func TestRunFallbackLinearAcceptsPermissiveItems(t *testing.T) {
	store, searcher := permissiveItems(5)
	o := newOrchestrator(store, searcher)

	state := &AgentState{Note: "n", TopN: 2}
	state.Facts = clinical.NoteFacts{}
	state.EnhancedQuery = "patient attendance"
	reflection := reflect.Reflection{EnhancedQuery: state.EnhancedQuery}

	res, err := o.runFallbackLinear(context.Background(), state, reflection)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatal("expected the linear fallback to accept permissive items")
	}
	if len(res.Items) > state.TopN {
		t.Fatalf("accepted.length must be <= topN(%d), got %d", state.TopN, len(res.Items))
	}
	if res.Iterations < 1 || res.Iterations > 2 {
		t.Errorf("fallback pipeline is capped at one refinement (iterations in [1,2]), got %d", res.Iterations)
	}
}

func verifiedItem(code string, score float64) verify.VerifiedItem {
	return verify.VerifiedItem{Code: code, Score: &score}
}

func intp(i int) *int { return &i }

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
