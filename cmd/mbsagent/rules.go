package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

// runRules prints the parsed ItemRule for a single catalog code, mainly
// for debugging why a candidate passed, soft-failed, or hard-failed
// verification.
func runRules(args []string) error {
	fs := flag.NewFlagSet("rules", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) != 1 {
		return fmt.Errorf("usage: mbsagent rules <item code>")
	}
	code := strings.TrimSpace(fs.Args()[0])

	cfg, err := resolvedConfig()
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	store, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	item, ok, err := store.Get(ctx, code)
	if err != nil {
		return fmt.Errorf("looking up item %s: %w", code, err)
	}
	if !ok {
		return fmt.Errorf("no catalog item with code %s", code)
	}

	rule, err := store.ParseRule(ctx, item)
	if err != nil {
		return fmt.Errorf("parsing rule for %s: %w", code, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rule)
}
