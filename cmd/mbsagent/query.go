package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/retrieve"
)

// runQuery is bare retrieval: vector search + rerank + synthesis, with no
// clinical fact extraction or rule verification layered on top.
func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	top := fs.Int("top", 10, "Desired number of results")
	jsonOut := fs.Bool("json", false, "Print raw JSON instead of a formatted table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: mbsagent query [--top N] [--json] <query, supports +key:value / -key:value>")
	}

	cfg, err := resolvedConfig()
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	store, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}

	ctx := context.Background()
	codes, err := store.AllCodes(ctx)
	if err != nil {
		return fmt.Errorf("listing catalog codes: %w", err)
	}
	idx, err := buildIndex(ctx, store, embedder, codes)
	if err != nil {
		return fmt.Errorf("building vector index: %w", err)
	}

	retriever := &retrieve.Retriever{
		Embedder: embedder,
		Index:    idx,
		Items:    store,
		LLM:      buildLLM(cfg, "rerank"),
		Config:   retrieve.Config{RerankCandidates: cfg.RerankCandidatesInt(60)},
		Logger:   logger(),
	}

	result, err := retriever.Run(ctx, query, *top, nil, retrieve.ModeFlags{})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Items)
	}

	if len(result.Items) == 0 {
		fmt.Println("No matching item codes found.")
		return nil
	}
	for _, item := range result.Items {
		fee := "unknown"
		if item.Fee != nil {
			fee = fmt.Sprintf("$%.2f", *item.Fee)
		}
		fmt.Printf("%-8s %-60s score=%.3f fee=%s\n", item.ItemNum, item.Title, item.MatchScore, fee)
	}
	return nil
}
