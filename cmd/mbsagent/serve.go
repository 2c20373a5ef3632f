package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/httpapi"
)

func runServe(args []string) error {
	port := 8080

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
			fmt.Println(`mbsagent serve — Start the HTTP API

Usage:
  mbsagent serve [--port 8080]

Routes:
  POST /rag/agentic   Full Deep-mode agentic recommendation
  POST /rag/smart      Single-pass Smart-mode recommendation
  POST /rag/query        Bare catalog retrieval
  GET  /rag/status      Which providers are configured
  GET  /rag/health       Liveness check`)
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
	llmConfigured := buildLLM(cfg, "extract") != nil
	rerankerModel := cfg.RerankerModel.Value

	srv := &httpapi.Server{
		Orchestrator: orch,
		Retriever:    orch.Retriever,
		Status: httpapi.StatusInfo{
			IndexName:           catalogPath(cfg),
			RerankerModel:       rerankerModel,
			EmbeddingConfigured: true,
			LLMConfigured:       llmConfigured,
			RerankerConfigured:  rerankerModel != "",
		},
		Logger: logger(),
	}

	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("mbsagent HTTP API listening on http://localhost%s\n", addr)
	return http.ListenAndServe(addr, srv.Mux())
}
