package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/agent"
)

func runRecommend(args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	top := fs.Int("top", 10, "Desired number of accepted codes")
	jsonOut := fs.Bool("json", false, "Print raw JSON instead of a formatted table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	note := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("usage: mbsagent recommend [--top N] [--json] <clinical note>")
	}

	return recommendAndPrint(note, *top, agent.ModeDeep, "", *jsonOut)
}

func runSmart(args []string) error {
	fs := flag.NewFlagSet("smart", flag.ContinueOnError)
	top := fs.Int("top", 10, "Desired number of results")
	jsonOut := fs.Bool("json", false, "Print raw JSON instead of a formatted table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	note := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("usage: mbsagent smart [--top N] [--json] <clinical note>")
	}

	return recommendAndPrint(note, *top, agent.ModeSmart, "smart", *jsonOut)
}

func recommendAndPrint(note string, top int, mode agent.Mode, modeLabel string, jsonOut bool) error {
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

	orch := buildOrchestrator(store, embedder, idx, cfg)
	result, err := orch.Run(ctx, note, top, mode)
	if err != nil {
		return fmt.Errorf("recommendation failed: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Mode  string      `json:"mode,omitempty"`
			Items interface{} `json:"items"`
		}{Mode: modeLabel, Items: result.Items})
	}

	if modeLabel != "" {
		fmt.Printf("Mode: %s\n", modeLabel)
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
		fmt.Printf("%-8s %-60s fee=%s\n", item.Code, item.Display, fee)
		if item.Verify.RationaleMarkdown != "" {
			fmt.Printf("         %s\n", item.Verify.RationaleMarkdown)
		}
	}
	return nil
}
