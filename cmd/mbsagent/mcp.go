package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/mcptools"
	"github.com/mark3labs/mcp-go/server"
)

func runMCP(args []string) error {
	var port int

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--port" && i+1 < len(args):
			p, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid port: %s", args[i+1])
			}
			port = p
			i++
		case strings.HasPrefix(args[i], "--port="):
			p, err := strconv.Atoi(strings.TrimPrefix(args[i], "--port="))
			if err != nil {
				return fmt.Errorf("invalid port: %s", strings.TrimPrefix(args[i], "--port="))
			}
			port = p
		case args[i] == "--help" || args[i] == "-h":
			fmt.Println(`mbsagent mcp — Start the Model Context Protocol server

Usage:
  mbsagent mcp                Start MCP server (stdio transport)
  mbsagent mcp --port 8080    Start MCP server (HTTP+SSE transport)

Flags:
  --port <N>    HTTP+SSE port (default: stdio)
  -h, --help    Show this help

Tools exposed:
  recommend_codes    Full Deep-mode agentic recommendation
  smart_recommend     Single-pass Smart-mode recommendation
  search_catalog        Bare catalog retrieval

Resources:
  cortex://schema/recommend_codes
  cortex://schema/smart_recommend
  cortex://schema/search_catalog`)
			return nil
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
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

	orch := buildOrchestrator(store, embedder, idx, cfg)
	mcpServer := mcptools.NewServer(mcptools.ServerConfig{
		Orchestrator: orch,
		Retriever:    orch.Retriever,
		Version:      version,
	})

	if port > 0 {
		sseServer := server.NewSSEServer(mcpServer)
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(os.Stderr, "mbsagent MCP server listening on http://localhost%s/sse\n", addr)
		return sseServer.Start(addr)
	}

	return server.ServeStdio(mcpServer)
}
