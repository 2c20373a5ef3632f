package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/catalog"
	"github.com/hurttlocker/mbsagent/internal/reflect"
	"github.com/hurttlocker/mbsagent/internal/retrieve"
	"github.com/hurttlocker/mbsagent/internal/rules"
	"github.com/hurttlocker/mbsagent/internal/vectorindex"
)

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	v[0] = 1
	return v, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeSearcher struct{ results []vectorindex.Result }

func (s *fakeSearcher) SearchFiltered(query []float32, k int, allow func(code string) bool) []vectorindex.Result {
	var out []vectorindex.Result
	for _, r := range s.results {
		if allow != nil && !allow(r.Code) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out
}

type fakeStore struct{ items map[string]catalog.Item }

func (s *fakeStore) Get(ctx context.Context, code string) (catalog.Item, bool, error) {
	item, ok := s.items[code]
	return item, ok, nil
}

func (s *fakeStore) ParseRule(ctx context.Context, item catalog.Item) (rules.ItemRule, error) {
	return rules.Parse(item.Code, item.Description, rules.Metadata{Group: item.Group, Subgroup: item.Subgroup}), nil
}

func permissiveServer() *Server {
	items := map[string]catalog.Item{}
	var results []vectorindex.Result
	for i := 0; i < 5; i++ {
		code := fmt.Sprintf("%d", 100+i)
		items[code] = catalog.Item{Code: code, Title: "Standard attendance", Description: "Professional attendance, not otherwise specified"}
		results = append(results, vectorindex.Result{Code: code, Distance: float32(i) * 0.01})
	}
	store := &fakeStore{items: items}
	retriever := &retrieve.Retriever{
		Embedder: &fakeEmbedder{dims: 4},
		Index:    &fakeSearcher{results: results},
		Items:    store,
	}
	orch := &agent.Orchestrator{
		Retriever: retriever,
		Reflector: &reflect.Reflector{},
		Rules:     store,
		Items:     store,
	}
	return &Server{
		Orchestrator: orch,
		Retriever:    retriever,
		Status: StatusInfo{
			IndexName:     "mbs-catalog",
			RerankerModel: "none",
		},
	}
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHandleAgenticRejectsEmptyNote(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "POST", "/rag/agentic", recommendRequest{Note: "   "})
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAgenticReturnsResults(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "POST", "/rag/agentic", recommendRequest{Note: "patient attendance", Top: 2})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp recommendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) == 0 || len(resp.Results) > 2 {
		t.Fatalf("expected 1-2 results, got %d", len(resp.Results))
	}
	if resp.Mode != "" {
		t.Errorf("expected no mode field on /rag/agentic, got %q", resp.Mode)
	}
}

func TestHandleSmartSetsModeField(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "POST", "/rag/smart", recommendRequest{Note: "patient attendance"})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp recommendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Mode != "smart" {
		t.Errorf("expected mode=smart, got %q", resp.Mode)
	}
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "POST", "/rag/query", queryRequest{Query: ""})
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleQueryReturnsResults(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "POST", "/rag/query", queryRequest{Query: "consultation", Top: 3})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected at least one result")
	}
}

func TestHandleStatusReturnsConfiguredInfo(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "GET", "/rag/status", nil)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status StatusInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.IndexName != "mbs-catalog" {
		t.Errorf("expected index_name to round-trip, got %q", status.IndexName)
	}
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "GET", "/rag/health", nil)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestClearRefreshReturnNotImplemented(t *testing.T) {
	s := permissiveServer()
	for _, path := range []string{"/rag/ingest", "/rag/clear", "/rag/refresh"} {
		rec := doRequest(t, s, "POST", path, map[string]string{"token": "x"})
		if rec.Code != 501 {
			t.Errorf("%s: expected 501, got %d", path, rec.Code)
		}
	}
}

func TestHandleAgenticRejectsWrongMethod(t *testing.T) {
	s := permissiveServer()
	rec := doRequest(t, s, "GET", "/rag/agentic", nil)
	if rec.Code != 405 {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
