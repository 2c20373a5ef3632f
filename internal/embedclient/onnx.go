package embedclient

import (
	"context"
	"fmt"
	"math"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	pretrained "github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// onnxProvider is a local, no-network Embedder running a sentence-
// embedding ONNX model (all-MiniLM-L6-v2 by default), with
// sugarme/tokenizer producing its input ids/attention mask. This is the
// Retriever's no-external-API default path.
type onnxProvider struct {
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession

	mu   sync.Mutex
	dims int
}

func newONNXProvider(cfg Config) (*onnxProvider, error) {
	if cfg.ONNXModelPath == "" || cfg.ONNXTokenizerPath == "" {
		return nil, fmt.Errorf("embedclient: onnx provider requires ONNXModelPath and ONNXTokenizerPath")
	}

	tk, err := pretrained.FromFile(cfg.ONNXTokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("embedclient: loading tokenizer: %w", err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("embedclient: initializing onnxruntime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ONNXModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("embedclient: loading onnx session: %w", err)
	}

	return &onnxProvider{tk: tk, session: session}, nil
}

func (p *onnxProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch tokenizes each text, runs it through the ONNX session one at
// a time (the all-MiniLM-L6-v2 graph has no batch axis support in the
// shapes it ships), mean-pools the token embeddings over the attention
// mask, and L2-normalizes the result.
func (p *onnxProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vec, err := p.embedOne(text)
		if err != nil {
			return nil, fmt.Errorf("embedclient: embedding text %d: %w", i, err)
		}
		out[i] = vec
	}

	p.mu.Lock()
	if len(out) > 0 {
		p.dims = len(out[0])
	}
	p.mu.Unlock()
	return out, nil
}

func (p *onnxProvider) embedOne(text string) ([]float32, error) {
	encoding, err := p.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}

	ids := encoding.GetIds()
	mask := encoding.GetAttentionMask()
	seqLen := len(ids)

	inputIDs := make([]int64, seqLen)
	attentionMask := make([]int64, seqLen)
	tokenTypeIDs := make([]int64, seqLen)
	for i := range ids {
		inputIDs[i] = int64(ids[i])
		attentionMask[i] = int64(mask[i])
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("building input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("building attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("building token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("running onnx session: %w", err)
	}
	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected onnx output tensor type")
	}
	defer hidden.Destroy()

	return meanPoolNormalize(hidden.GetData(), attentionMask, seqLen), nil
}

func (p *onnxProvider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

// meanPoolNormalize mean-pools per-token hidden states (flattened
// [seqLen x hidden]) over the attention mask, then L2-normalizes —
// the standard sentence-embedding pooling for all-MiniLM-L6-v2.
func meanPoolNormalize(hidden []float32, mask []int64, seqLen int) []float32 {
	if seqLen == 0 || len(hidden)%seqLen != 0 {
		return nil
	}
	hiddenDim := len(hidden) / seqLen

	sums := make([]float32, hiddenDim)
	var count float32
	for t := 0; t < seqLen; t++ {
		if mask[t] == 0 {
			continue
		}
		count++
		row := hidden[t*hiddenDim : (t+1)*hiddenDim]
		for d, v := range row {
			sums[d] += v
		}
	}
	if count == 0 {
		count = 1
	}
	for d := range sums {
		sums[d] /= count
	}

	var norm float64
	for _, v := range sums {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return sums
	}
	for d := range sums {
		sums[d] = float32(float64(sums[d]) / norm)
	}
	return sums
}
