package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/verify"
)

const defaultTopN = 10

func (s *Server) handleAgentic(w http.ResponseWriter, r *http.Request) {
	s.runRecommend(w, r, agent.ModeDeep, "")
}

func (s *Server) handleSmart(w http.ResponseWriter, r *http.Request) {
	s.runRecommend(w, r, agent.ModeSmart, "smart")
}

func (s *Server) runRecommend(w http.ResponseWriter, r *http.Request, mode agent.Mode, modeLabel string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		writeError(w, http.StatusBadRequest, "note must not be empty")
		return
	}
	top := req.Top
	if top <= 0 {
		top = defaultTopN
	}

	result, err := s.Orchestrator.Run(r.Context(), req.Note, top, mode)
	if err != nil {
		s.logger().Printf("httpapi: %s failed: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "recommendation failed")
		return
	}

	writeJSON(w, http.StatusOK, recommendResponse{
		Results: toResultItems(result.Items),
		Mode:    modeLabel,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	top := req.Top
	if top <= 0 {
		top = defaultTopN
	}

	res, err := s.Retriever.Run(r.Context(), req.Query, top, nil, retrieve.ModeFlags{})
	if err != nil {
		s.logger().Printf("httpapi: %s failed: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	items := make([]resultItem, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, resultItem{
			ItemNum:     it.ItemNum,
			Title:       it.Title,
			MatchReason: it.MatchReason,
			MatchScore:  it.MatchScore,
			Fee:         it.Fee,
		})
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: items})
}

// toResultItems flattens the Orchestrator's VerifiedItem into the shared
// result shape, using the rationale markdown as the match_reason (the
// Verifier's tri-state findings are the agent's stated reason for
// recommending, or excluding, a code).
func toResultItems(items []verify.VerifiedItem) []resultItem {
	out := make([]resultItem, 0, len(items))
	for _, it := range items {
		score := 0.0
		if it.Score != nil {
			score = *it.Score
		}
		out = append(out, resultItem{
			ItemNum:     it.Code,
			Title:       it.Display,
			MatchReason: it.Verify.RationaleMarkdown,
			MatchScore:  score,
			Fee:         it.Fee,
		})
	}
	return out
}
