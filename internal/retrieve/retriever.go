package retrieve

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/mbsagent/internal/embedclient"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/promptlib"
	"github.com/hurttlocker/mbsagent/internal/vectorindex"
)

// VectorSearcher is satisfied by *vectorindex.Index, and by a fixture in
// tests.
type VectorSearcher interface {
	SearchFiltered(query []float32, k int, allow func(code string) bool) []vectorindex.Result
}

// Reranker is an optional cross-encoder reranker.
// A nil Reranker on the Retriever skips this stage entirely.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// Config tunes the Retriever's behavior.
type Config struct {
	RerankCandidates int // desired candidate pool size; clamped to [30,200]
}

// Retriever implements the retrieval + rerank + synthesis pipeline.
type Retriever struct {
	Embedder embedclient.Embedder
	Index    VectorSearcher
	Items    ItemSource
	Reranker Reranker // optional
	LLM      llmclient.Provider // optional; nil disables LLM rerank + synthesis
	Prompts  *promptlib.Registry
	Config   Config
	Logger   *log.Logger
}

func (r *Retriever) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
}

func (r *Retriever) prompts() *promptlib.Registry {
	if r.Prompts != nil {
		return r.Prompts
	}
	return promptlib.Default()
}

// Run executes the full Retriever algorithm for one query.
// Failures never raise: an empty query returns an error (fail fast, per
// spec), but every downstream failure (embedding unavailable, LLM
// synthesis failure) degrades to an empty result.
func (r *Retriever) Run(ctx context.Context, query string, topK int, excludeCodes []string, mode ModeFlags) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("retrieve: empty query")
	}
	if topK <= 0 {
		topK = 10
	}

	parsed := ParseQuery(query)
	filter := compileFilter(parsed)
	excluded := map[string]bool{}
	for _, c := range excludeCodes {
		excluded[c] = true
	}
	for code := range filter.banned {
		excluded[code] = true
	}

	candidates, err := r.vectorSearch(ctx, parsed, filter)
	if err != nil {
		r.logger().Printf("retrieve: vector search failed, returning empty candidates: %v", err)
		return Result{}, nil
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	if r.Reranker != nil {
		topN := topK + 5
		if topN < 12 {
			topN = 12
		}
		reranked, err := r.Reranker.Rerank(ctx, parsed.CleanQuery, candidates)
		if err != nil {
			r.logger().Printf("retrieve: cross-encoder rerank failed, keeping vector order: %v", err)
		} else {
			candidates = reranked
		}
		if len(candidates) > topN {
			candidates = candidates[:topN]
		}
	}

	if mode.EnableStage2Reflection {
		candidates = r.stage2Rerank(candidates, parsed, filter)
	}

	if mode.EnableLLMReflection && r.LLM != nil {
		candidates = r.llmRerank(ctx, parsed.CleanQuery, candidates)
	}

	items := r.synthesize(ctx, query, candidates, topK, excluded)
	return Result{Items: items}, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, parsed Query, filter compiledFilter) ([]Candidate, error) {
	if r.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vec, err := r.Embedder.Embed(ctx, parsed.CleanQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	n := clampCandidates(r.Config.RerankCandidates)
	allow := filter.allow(ctx, r.Items)

	results := r.Index.SearchFiltered(vec, n, allow)
	if len(results) == 0 && !filter.empty() {
		// Retry without the filter on filter error/over-restriction.
		results = r.Index.SearchFiltered(vec, n, nil)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		item, ok, err := r.Items.Get(ctx, res.Code)
		if err != nil || !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Code:  res.Code,
			Item:  item,
			Score: 1 - float64(res.Distance)/2, // cosine distance in [0,2] -> relevance in [0,1]
		})
	}
	return candidates, nil
}

// stage2Rerank is the purely local, constraint-aware composite rerank
//, in the shape of internal/search's RRF fusion:
// a base score plus additive per-constraint bonuses, sorted descending,
// with must_not code matches dropped.
func (r *Retriever) stage2Rerank(candidates []Candidate, parsed Query, filter compiledFilter) []Candidate {
	type scored struct {
		c Candidate
		s float64
	}
	var out []scored
	for _, c := range candidates {
		if filter.banned[c.Code] {
			continue
		}
		score := 0.5 * c.Score
		for _, tok := range parsed.Must {
			switch tok.Key {
			case "code":
				if c.Code == tok.Value {
					score += 3
				}
			case "group":
				if strings.EqualFold(c.Item.Group, tok.Value) {
					score += 2
				}
			case "subgroup":
				if strings.EqualFold(c.Item.Subgroup, tok.Value) {
					score += 1.5
				}
			case "duration":
				if bucket, ok := ParseDurationBucket(tok.Value); ok &&
					bucket.Matches(c.Item.DurationMinMinutes, c.Item.DurationMaxMinutes) {
					score += 1.5
				}
			}
		}
		out = append(out, scored{c: c, s: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].s > out[j].s })

	result := make([]Candidate, len(out))
	for i, s := range out {
		result[i] = s.c
	}
	return result
}

// llmRerank reorders the top 5-25 candidates via a small-model rubric
// call. On any failure it returns candidates
// unchanged.
func (r *Retriever) llmRerank(ctx context.Context, query string, candidates []Candidate) []Candidate {
	window := len(candidates)
	if window > 25 {
		window = 25
	}
	if window < 5 {
		return candidates
	}
	head := candidates[:window]

	var sb strings.Builder
	for _, c := range head {
		fmt.Fprintf(&sb, "%s: %s\n", c.Code, c.Item.Description)
	}

	system, user, err := r.prompts().Render("llm_rerank", map[string]string{
		"note":        query,
		"constraints": "",
		"candidates":  sb.String(),
	})
	if err != nil {
		return candidates
	}

	var order []string
	if err := llmclient.CompleteJSON(ctx, r.LLM, user, llmclient.CompletionOpts{System: system, Temperature: 0.1}, &order); err != nil {
		r.logger().Printf("retrieve: llm rerank failed, keeping prior order: %v", err)
		return candidates
	}

	byCode := make(map[string]Candidate, len(head))
	for _, c := range head {
		byCode[c.Code] = c
	}
	reordered := make([]Candidate, 0, len(candidates))
	seen := map[string]bool{}
	for _, code := range order {
		if c, ok := byCode[code]; ok && !seen[code] {
			reordered = append(reordered, c)
			seen[code] = true
		}
	}
	// Unseen codes sink to the bottom.
	for _, c := range head {
		if !seen[c.Code] {
			reordered = append(reordered, c)
		}
	}
	reordered = append(reordered, candidates[window:]...)
	return reordered
}

type synthesizedItem struct {
	ItemNum     string   `json:"itemNum"`
	Title       string   `json:"title"`
	MatchReason string   `json:"match_reason"`
	MatchScore  float64  `json:"match_score"`
	Fee         *float64 `json:"fee"`
}

// synthesize asks the LLM to pick the final topK items from the top
// topK+6 candidate contents, then re-filters
// against excluded and attaches catalog metadata + the best upstream
// rerank score. On any LLM failure, returns an empty result (never
// raises).
func (r *Retriever) synthesize(ctx context.Context, note string, candidates []Candidate, topK int, excluded map[string]bool) []ResultItem {
	if r.LLM == nil {
		return fallbackSynthesis(candidates, topK, excluded)
	}

	window := topK + 6
	if window > len(candidates) {
		window = len(candidates)
	}
	head := candidates[:window]

	var sb strings.Builder
	for _, c := range head {
		fmt.Fprintf(&sb, "%s | %s | %s\n", c.Code, c.Item.Title, c.Item.Description)
	}
	var excludedList []string
	for code := range excluded {
		excludedList = append(excludedList, code)
	}
	sort.Strings(excludedList)

	system, user, err := r.prompts().Render("answer_synthesis", map[string]string{
		"top_k":          fmt.Sprintf("%d", topK),
		"today":          time.Now().UTC().Format("2006-01-02"),
		"note":           note,
		"excluded_codes": strings.Join(excludedList, ", "),
		"candidates":     sb.String(),
	})
	if err != nil {
		return fallbackSynthesis(candidates, topK, excluded)
	}

	var synthesized []synthesizedItem
	if synthErr := llmclient.CompleteJSON(ctx, r.LLM, user, llmclient.CompletionOpts{System: system, Temperature: 0.2}, &synthesized); synthErr != nil {
		r.logger().Printf("retrieve: answer synthesis failed, returning empty results: %v", synthErr)
		return nil
	}

	byCode := make(map[string]Candidate, len(head))
	for _, c := range head {
		byCode[c.Code] = c
	}

	var out []ResultItem
	for _, s := range synthesized {
		if excluded[s.ItemNum] {
			continue
		}
		item := ResultItem{
			ItemNum:     s.ItemNum,
			Title:       s.Title,
			MatchReason: s.MatchReason,
			MatchScore:  s.MatchScore,
			Fee:         s.Fee,
		}
		if c, ok := byCode[s.ItemNum]; ok {
			item.MatchScore = c.Score
			if item.Fee == nil {
				item.Fee = c.Item.Fee
			}
			if item.Title == "" {
				item.Title = c.Item.Title
			}
		}
		out = append(out, item)
		if len(out) == topK {
			break
		}
	}
	return out
}

// fallbackSynthesis is used when no LLM is configured: it takes the
// top-ranked non-excluded candidates directly, attaching an advisory
// match reason.
func fallbackSynthesis(candidates []Candidate, topK int, excluded map[string]bool) []ResultItem {
	var out []ResultItem
	for _, c := range candidates {
		if excluded[c.Code] {
			continue
		}
		out = append(out, ResultItem{
			ItemNum:     c.Code,
			Title:       c.Item.Title,
			MatchReason: "Top-ranked by vector similarity",
			MatchScore:  c.Score,
			Fee:         c.Item.Fee,
		})
		if len(out) == topK {
			break
		}
	}
	return out
}
