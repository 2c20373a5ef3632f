package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompleteJSON sends prompt with JSONMode set and unmarshals the response
// into out. It strips a leading/trailing markdown code fence if the
// provider ignored JSONMode and wrapped the payload in one anyway — cheap
// insurance since not every provider honors response_format reliably.
func CompleteJSON(ctx context.Context, p Provider, prompt string, opts CompletionOpts, out any) error {
	opts.JSONMode = true
	raw, err := p.Complete(ctx, prompt, opts)
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}
	raw = stripCodeFence(raw)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parsing llm json response: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// FakeProvider is a fixture-backed Provider for tests. Responses are consumed in order; while Err is
// set, every Complete call returns it.
type FakeProvider struct {
	ModelName string
	Responses []string
	Err       error
	calls     int
	Prompts   []string
}

func (f *FakeProvider) Name() string {
	if f.ModelName == "" {
		return "fake/test"
	}
	return f.ModelName
}

func (f *FakeProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if f.calls >= len(f.Responses) {
		return "", fmt.Errorf("fake provider: no more canned responses (call %d)", f.calls+1)
	}
	r := f.Responses[f.calls]
	f.calls++
	return r, nil
}
