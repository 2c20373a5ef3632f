// Package embedclient provides text-to-vector embedding backends for the
// Retriever's vector search step, behind a single
// Embedder interface so internal/retrieve never branches on provider.
package embedclient

import "context"

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is "onnx" (local, no network) or an OpenAI-compatible HTTP
	// backend name: "openai" | "mistral".
	Provider string
	Model    string
	Endpoint string
	APIKey   string

	// ONNXModelPath/ONNXTokenizerPath are only used by the "onnx" provider.
	ONNXModelPath     string
	ONNXTokenizerPath string
}
