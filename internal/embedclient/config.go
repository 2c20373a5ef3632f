package embedclient

import "fmt"

// New builds an Embedder for cfg.Provider: "onnx" for the local backend,
// or "openai"/"mistral" for the OpenAI-compatible HTTP backend.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "onnx":
		return newONNXProvider(cfg)
	case "openai", "mistral":
		return newHTTPProvider(cfg)
	default:
		return nil, fmt.Errorf("embedclient: unknown provider %q (want onnx, openai, or mistral)", cfg.Provider)
	}
}
