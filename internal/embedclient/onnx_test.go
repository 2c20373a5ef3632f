package embedclient

import (
	"math"
	"testing"
)

func TestMeanPoolNormalizeAveragesMaskedTokens(t *testing.T) {
	// seqLen=3, hiddenDim=2; token 2 is padding (mask=0) and must be excluded.
	hidden := []float32{
		1, 0,
		3, 0,
		100, 100, // padding, ignored
	}
	mask := []int64{1, 1, 0}

	got := meanPoolNormalize(hidden, mask, 3)
	if len(got) != 2 {
		t.Fatalf("expected 2-dim vector, got %d", len(got))
	}

	// Mean of (1,0) and (3,0) is (2,0), normalized to (1,0).
	if math.Abs(float64(got[0])-1.0) > 1e-6 || math.Abs(float64(got[1])) > 1e-6 {
		t.Fatalf("expected normalized (1,0), got %+v", got)
	}
}

func TestMeanPoolNormalizeHandlesAllMaskedOut(t *testing.T) {
	hidden := []float32{1, 2, 3, 4}
	mask := []int64{0, 0}
	got := meanPoolNormalize(hidden, mask, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2-dim vector, got %d", len(got))
	}
}

func TestNewONNXProviderRequiresPaths(t *testing.T) {
	if _, err := New(Config{Provider: "onnx"}); err == nil {
		t.Fatal("expected error when onnx model/tokenizer paths are missing")
	}
}
