// Command mbsagent recommends Australian Medicare Benefits Schedule item
// codes for a clinical note, using an agentic retrieval + verification
// pipeline (propose, verify, critique, refine).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/catalog"
	"github.com/hurttlocker/mbsagent/internal/config"
	"github.com/hurttlocker/mbsagent/internal/embedclient"
	"github.com/hurttlocker/mbsagent/internal/llmclient"
	"github.com/hurttlocker/mbsagent/internal/reflect"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/vectorindex"
)

var version = "0.1.0-dev"

var (
	globalDBPath  string
	globalVerbose bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "recommend":
		err = runRecommend(args[1:])
	case "smart":
		err = runSmart(args[1:])
	case "query":
		err = runQuery(args[1:])
	case "rules":
		err = runRules(args[1:])
	case "serve":
		err = runServe(args[1:])
	case "demo":
		err = runDemo(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("mbsagent %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags extracts --db and --verbose from args regardless of
// position, returning the remaining positional arguments.
func parseGlobalFlags(args []string) []string {
	var filtered []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--db" && i+1 < len(args):
			globalDBPath = args[i+1]
			i++
		case hasPrefix(args[i], "--db="):
			globalDBPath = args[i][len("--db="):]
		case args[i] == "--verbose" || args[i] == "-v":
			globalVerbose = true
		default:
			filtered = append(filtered, args[i])
		}
	}
	return filtered
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func printUsage() {
	fmt.Print(usageText())
}

func usageText() string {
	return fmt.Sprintf(`mbsagent %s — Agentic MBS item code recommender

Usage:
  mbsagent [global-flags] <command> [arguments]

Commands:
  recommend <note>   Recommend item codes via the full Deep agentic loop
  smart <note>        Recommend item codes via a single Smart retrieval pass
  query <query>        Bare catalog retrieval, no clinical verification
  rules <code>          Print the parsed ItemRule for a catalog item code
  serve                  Start the HTTP API (see --port)
  demo                    Seed a temporary demo catalog and run one note end to end
  mcp                     Start the MCP tool server (stdio, or --port for SSE)
  version                 Print version

Global Flags:
  --db <path>         Catalog database path (overrides MBSAGENT_DB env var)
  --verbose, -v       Show detailed output
  -h, --help          Show this help message
`, version)
}

func logger() *log.Logger {
	if globalVerbose {
		return log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[mbsagent] ", 0)
}

func resolvedConfig() (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{CLIDBPath: globalDBPath})
}

func catalogPath(cfg config.ResolvedConfig) string {
	if globalDBPath != "" {
		return globalDBPath
	}
	if cfg.CatalogDBPath.Value != "" {
		return cfg.CatalogDBPath.Value
	}
	return "mbsagent-catalog.db"
}

// openCatalog opens the catalog store at the resolved path.
func openCatalog(cfg config.ResolvedConfig) (*catalog.Store, error) {
	return catalog.Open(catalogPath(cfg), logger())
}

// buildEmbedder constructs the configured embedding provider, or nil if
// none is configured — callers that need embeddings should treat a nil
// return as a clear configuration error, not silently degrade.
func buildEmbedder(cfg config.ResolvedConfig) (embedclient.Embedder, error) {
	provider := cfg.EmbedProvider.Value
	if provider == "" {
		provider = "onnx"
	}
	return embedclient.New(embedclient.Config{
		Provider: provider,
		Model:    cfg.EmbedModel.Value,
		APIKey:   cfg.EmbedAPIKey.Value,
		Endpoint: cfg.EmbedEndpoint.Value,
	})
}

// buildLLM constructs the configured chat LLM provider for role, or nil if
// none is configured; callers treat nil as "degrade to the no-LLM path".
func buildLLM(cfg config.ResolvedConfig, role string) llmclient.Provider {
	model := cfg.EffectiveLLMModel(role, "")
	if model.Value == "" {
		return nil
	}
	providerCfg, err := llmclient.ParseProviderFlag(model.Value)
	if err != nil {
		return nil
	}
	providerCfg.APIKey = cfg.APIKeyForProvider(model.Value).Value
	provider, err := llmclient.NewProvider(providerCfg)
	if err != nil {
		return nil
	}
	return provider
}

// buildIndex embeds every catalog item's description into a fresh HNSW
// index. Used by serve/demo/recommend/query to stand up an in-memory
// index from the on-disk catalog at startup; catalog vectors aren't
// persisted between runs.
func buildIndex(ctx context.Context, store *catalog.Store, embedder embedclient.Embedder, codes []string) (*vectorindex.Index, error) {
	idx := vectorindex.New(embedder.Dimensions())
	for _, code := range codes {
		item, ok, err := store.Get(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("loading catalog item %s: %w", code, err)
		}
		if !ok {
			continue
		}
		vec, err := embedder.Embed(ctx, item.Description)
		if err != nil {
			return nil, fmt.Errorf("embedding catalog item %s: %w", code, err)
		}
		idx.Insert(code, vec)
	}
	return idx, nil
}

// buildOrchestrator wires the Retriever, Reflector, and catalog store into
// an Orchestrator; serve and mcp hand the result to internal/httpapi and
// internal/mcptools rather than those packages building their own.
func buildOrchestrator(store *catalog.Store, embedder embedclient.Embedder, idx *vectorindex.Index, cfg config.ResolvedConfig) *agent.Orchestrator {
	retriever := &retrieve.Retriever{
		Embedder: embedder,
		Index:    idx,
		Items:    store,
		LLM:      buildLLM(cfg, "rerank"),
		Config:   retrieve.Config{RerankCandidates: cfg.RerankCandidatesInt(60)},
		Logger:   logger(),
	}
	return &agent.Orchestrator{
		Retriever: retriever,
		Reflector: &reflect.Reflector{LLM: buildLLM(cfg, "reflect"), Logger: logger()},
		Rules:     store,
		Items:     store,
		Provider:  buildLLM(cfg, "extract"),
		Logger:    logger(),
	}
}
