package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var httpEndpoints = map[string]string{
	"openai":  "https://api.openai.com/v1/embeddings",
	"mistral": "https://api.mistral.ai/v1/embeddings",
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// httpProvider is an Embedder backed by an OpenAI-compatible HTTP
// embeddings endpoint.
type httpProvider struct {
	cfg  Config
	http *http.Client

	mu   sync.Mutex
	dims int
}

func newHTTPProvider(cfg Config) (*httpProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedclient: model is required for provider %q", cfg.Provider)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = httpEndpoints[cfg.Provider]
	}
	if endpoint == "" {
		return nil, fmt.Errorf("embedclient: unknown http embedding provider %q", cfg.Provider)
	}
	cfg.Endpoint = endpoint
	return &httpProvider{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (p *httpProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedclient: empty text")
	}
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *httpProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedclient: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("embedclient: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedclient: http %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedclient: parsing response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedclient: expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedclient: invalid embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}

	if len(out) > 0 && len(out[0]) > 0 {
		p.mu.Lock()
		p.dims = len(out[0])
		p.mu.Unlock()
	}
	return out, nil
}

func (p *httpProvider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}
