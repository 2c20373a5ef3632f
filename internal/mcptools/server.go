package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/verify"
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds the dependencies wired into the MCP tool server.
type ServerConfig struct {
	Orchestrator *agent.Orchestrator
	Retriever    *retrieve.Retriever
	Version      string
}

// callMu serializes tool calls against the shared retrieval/orchestration
// state.
var callMu sync.Mutex

// NewServer builds an MCP server exposing the recommender as three tools:
// recommend_codes (deep agentic mode), smart_recommend (single-pass mode),
// and search_catalog (bare retrieval, no verification).
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"MBS Agent",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRecommendTool(s, cfg.Orchestrator, "recommend_codes", agent.ModeDeep, "")
	registerRecommendTool(s, cfg.Orchestrator, "smart_recommend", agent.ModeSmart, "smart")
	registerSearchCatalogTool(s, cfg.Retriever)

	// Publish the reflected input schemas as resources, the way the
	// teacher publishes memory/graph snapshots as resources rather than
	// baking them into every tool call.
	registerSchemaResource(s, "cortex://schema/recommend_codes", "recommend_codes input schema", RecommendInput{})
	registerSchemaResource(s, "cortex://schema/smart_recommend", "smart_recommend input schema", RecommendInput{})
	registerSchemaResource(s, "cortex://schema/search_catalog", "search_catalog input schema", SearchCatalogInput{})

	return s
}

const defaultTopN = 10

func registerRecommendTool(s *server.MCPServer, orch *agent.Orchestrator, name string, mode agent.Mode, modeLabel string) {
	desc := "Recommend MBS item codes for a clinical note using the full agentic propose/verify/critique loop. Returns accepted codes with rationale and confidence."
	if mode == agent.ModeSmart {
		desc = "Recommend MBS item codes for a clinical note using a single retrieval pass (no iterative critique). Faster, lower-confidence than recommend_codes."
	}

	tool := mcp.NewTool(name,
		mcp.WithDescription(desc),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("note",
			mcp.Required(),
			mcp.Description("Free-text clinical note describing the encounter"),
		),
		mcp.WithNumber("top",
			mcp.Description("Desired number of accepted codes (default 10)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callMu.Lock()
		defer callMu.Unlock()

		note, err := req.RequireString("note")
		if err != nil || strings.TrimSpace(note) == "" {
			return mcp.NewToolResultError("note is required"), nil
		}

		top := defaultTopN
		if v, err := req.RequireFloat("top"); err == nil && v > 0 {
			top = int(v)
		}

		result, err := orch.Run(ctx, note, top, mode)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("recommend error: %v", err)), nil
		}

		out := struct {
			Results []toolResultItem `json:"results"`
			Mode    string           `json:"mode,omitempty"`
		}{
			Results: toToolResultItems(result.Items),
			Mode:    modeLabel,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSearchCatalogTool(s *server.MCPServer, retriever *retrieve.Retriever) {
	tool := mcp.NewTool("search_catalog",
		mcp.WithDescription("Search the MBS catalog directly without clinical verification. Supports the +key:value / -key:value constraint syntax (duration, code, group, subgroup). Use for exploring candidates, not for a final recommendation (use recommend_codes or smart_recommend for that)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Retrieval query, optionally including +key:value / -key:value filter tokens"),
		),
		mcp.WithNumber("top",
			mcp.Description("Desired number of results (default 10)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callMu.Lock()
		defer callMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		top := defaultTopN
		if v, err := req.RequireFloat("top"); err == nil && v > 0 {
			top = int(v)
		}

		res, err := retriever.Run(ctx, query, top, nil, retrieve.ModeFlags{})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		items := make([]toolResultItem, 0, len(res.Items))
		for _, it := range res.Items {
			items = append(items, toolResultItem{
				ItemNum:     it.ItemNum,
				Title:       it.Title,
				MatchReason: it.MatchReason,
				MatchScore:  it.MatchScore,
				Fee:         it.Fee,
			})
		}
		data, _ := json.MarshalIndent(struct {
			Results []toolResultItem `json:"results"`
		}{Results: items}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// registerSchemaResource reflects a Go input struct into a JSON Schema
// document and exposes it as a read-only MCP resource, so a client can
// fetch a tool's full input schema (including the jsonschema tags'
// descriptions and required markers) ahead of calling it.
func registerSchemaResource(s *server.MCPServer, uri, description string, input interface{}) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(input)
	data, _ := json.MarshalIndent(schema, "", "  ")

	resource := mcp.NewResource(
		uri,
		description,
		mcp.WithResourceDescription(description),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func toToolResultItems(items []verify.VerifiedItem) []toolResultItem {
	out := make([]toolResultItem, 0, len(items))
	for _, it := range items {
		score := 0.0
		if it.Score != nil {
			score = *it.Score
		}
		out = append(out, toolResultItem{
			ItemNum:     it.Code,
			Title:       it.Display,
			MatchReason: it.Verify.RationaleMarkdown,
			MatchScore:  score,
			Fee:         it.Fee,
		})
	}
	return out
}
