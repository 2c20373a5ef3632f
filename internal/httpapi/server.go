package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
)

// Server wires the Agent Orchestrator and bare Retriever into the HTTP
// surface.
type Server struct {
	Orchestrator *agent.Orchestrator
	Retriever    *retrieve.Retriever
	Status       StatusInfo
	Logger       *log.Logger
}

func (s *Server) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
}

// Mux builds the route table. /rag/ingest, /rag/clear, and /rag/refresh
// are registered but always return 501 — catalog ingestion is owned by a
// separate service, out of scope here.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/rag/agentic", s.handleAgentic)
	mux.HandleFunc("/rag/smart", s.handleSmart)
	mux.HandleFunc("/rag/query", s.handleQuery)
	mux.HandleFunc("/rag/status", s.handleStatus)
	mux.HandleFunc("/rag/health", s.handleHealth)
	mux.HandleFunc("/rag/ingest", s.handleUnimplemented)
	mux.HandleFunc("/rag/clear", s.handleUnimplemented)
	mux.HandleFunc("/rag/refresh", s.handleUnimplemented)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) handleUnimplemented(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "owned by the ingestion service; not implemented here")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status)
}
