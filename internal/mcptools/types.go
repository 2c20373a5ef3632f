// Package mcptools exposes the Agent Orchestrator and Retriever as Model
// Context Protocol tools, the same way internal/mcp exposes a memory
// graph as tools.
package mcptools

// RecommendInput is the shared input shape for recommend_codes and
// smart_recommend.
type RecommendInput struct {
	Note string `json:"note" jsonschema:"required,description=Free-text clinical note to recommend MBS item codes for"`
	Top  int    `json:"top,omitempty" jsonschema:"description=Desired number of accepted codes (default 10)"`
}

// SearchCatalogInput is the input shape for search_catalog.
type SearchCatalogInput struct {
	Query string `json:"query" jsonschema:"required,description=Retrieval query; supports the +key:value / -key:value constraint DSL"`
	Top   int    `json:"top,omitempty" jsonschema:"description=Desired number of results (default 10)"`
}

// toolResultItem mirrors internal/httpapi's result shape so both surfaces
// return identical JSON for the same underlying data.
type toolResultItem struct {
	ItemNum     string   `json:"itemNum"`
	Title       string   `json:"title"`
	MatchReason string   `json:"match_reason"`
	MatchScore  float64  `json:"match_score"`
	Fee         *float64 `json:"fee"`
}
