package vectorindex

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func randomVector(dims int, rng *rand.Rand) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func bruteForceNN(query []float32, vectors [][]float32, codes []string, k int) []Result {
	type scored struct {
		code string
		dist float32
	}
	var all []scored
	for i, v := range vectors {
		all = append(all, scored{code: codes[i], dist: cosineDistance(query, v)})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].dist < all[j-1].dist; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > k {
		all = all[:k]
	}
	results := make([]Result, len(all))
	for i, s := range all {
		results[i] = Result{Code: s.code, Distance: s.dist}
	}
	return results
}

func computeRecall(predicted, truth []Result) float64 {
	truthSet := make(map[string]bool)
	for _, r := range truth {
		truthSet[r.Code] = true
	}
	hits := 0
	for _, r := range predicted {
		if truthSet[r.Code] {
			hits++
		}
	}
	if len(truth) == 0 {
		return 1.0
	}
	return float64(hits) / float64(len(truth))
}

func TestNew(t *testing.T) {
	idx := New(768)
	if idx.dims != 768 {
		t.Errorf("dims = %d, want 768", idx.dims)
	}
	if idx.M != DefaultM {
		t.Errorf("M = %d, want %d", idx.M, DefaultM)
	}
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0", idx.Len())
	}
}

func TestInsertAndSearchSmall(t *testing.T) {
	dims := 32
	rng := rand.New(rand.NewSource(42))
	idx := New(dims)

	vectors := make([][]float32, 100)
	codes := make([]string, 100)
	for i := 0; i < 100; i++ {
		vectors[i] = randomVector(dims, rng)
		codes[i] = fmt.Sprintf("%d", i+1)
		idx.Insert(codes[i], vectors[i])
	}

	if idx.Len() != 100 {
		t.Fatalf("Len = %d, want 100", idx.Len())
	}

	query := randomVector(dims, rng)
	results := idx.Search(query, 5)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not sorted by distance")
		}
	}

	bfResults := bruteForceNN(query, vectors, codes, 5)
	recall := computeRecall(results, bfResults)
	if recall < 0.6 {
		t.Errorf("recall = %.2f, want >= 0.6", recall)
	}
}

func TestSearchEmpty(t *testing.T) {
	idx := New(32)
	results := idx.Search(randomVector(32, rand.New(rand.NewSource(1))), 5)
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestSearchSingleNode(t *testing.T) {
	idx := New(4)
	idx.Insert("23", []float32{1, 0, 0, 0})

	results := idx.Search([]float32{1, 0, 0, 0}, 5)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Code != "23" {
		t.Errorf("code = %q, want 23", results[0].Code)
	}
	if results[0].Distance > 0.001 {
		t.Errorf("distance = %f, want ~0 for identical vector", results[0].Distance)
	}
}

func TestDuplicateInsert(t *testing.T) {
	idx := New(4)
	idx.Insert("104", []float32{1, 0, 0, 0})
	idx.Insert("104", []float32{0, 1, 0, 0})
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1 after duplicate insert", idx.Len())
	}
}

func TestHas(t *testing.T) {
	idx := New(4)
	idx.Insert("99", []float32{1, 0, 0, 0})
	if !idx.Has("99") {
		t.Error("Has(99) = false, want true")
	}
	if idx.Has("100") {
		t.Error("Has(100) = true, want false")
	}
}

func TestSearchEf(t *testing.T) {
	dims := 64
	n := 500
	rng := rand.New(rand.NewSource(77))
	idx := New(dims)

	vectors := make([][]float32, n)
	codes := make([]string, n)
	for i := 0; i < n; i++ {
		vectors[i] = randomVector(dims, rng)
		codes[i] = fmt.Sprintf("%d", i)
		idx.Insert(codes[i], vectors[i])
	}

	query := randomVector(dims, rng)
	k := 10

	resultsLowEf := idx.SearchEf(query, k, 20)
	resultsHighEf := idx.SearchEf(query, k, 200)
	bfResults := bruteForceNN(query, vectors, codes, k)

	recallLow := computeRecall(resultsLowEf, bfResults)
	recallHigh := computeRecall(resultsHighEf, bfResults)
	if recallHigh < recallLow {
		t.Errorf("higher ef should give equal/better recall: ef=20 -> %.2f, ef=200 -> %.2f", recallLow, recallHigh)
	}
}

func TestSearchFilteredOnlyReturnsAllowed(t *testing.T) {
	dims := 16
	rng := rand.New(rand.NewSource(7))
	idx := New(dims)

	for i := 0; i < 200; i++ {
		idx.Insert(fmt.Sprintf("%d", i), randomVector(dims, rng))
	}

	allowed := map[string]bool{"3": true, "47": true, "150": true}
	query := randomVector(dims, rng)
	results := idx.SearchFiltered(query, 3, func(code string) bool { return allowed[code] })

	if len(results) != 3 {
		t.Fatalf("expected all 3 allowed codes to surface, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if !allowed[r.Code] {
			t.Errorf("unexpected disallowed code %q in filtered results", r.Code)
		}
	}
}

func TestSearchFilteredWithNilAllowBehavesUnfiltered(t *testing.T) {
	dims := 8
	rng := rand.New(rand.NewSource(3))
	idx := New(dims)
	for i := 0; i < 20; i++ {
		idx.Insert(fmt.Sprintf("%d", i), randomVector(dims, rng))
	}
	query := randomVector(dims, rng)
	results := idx.SearchFiltered(query, 5, nil)
	if len(results) != 5 {
		t.Fatalf("expected 5 results with nil allow, got %d", len(results))
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float32
	}{
		{[]float32{1, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0}, []float32{0, 1}, 1},
		{[]float32{1, 0}, []float32{-1, 0}, 2},
		{[]float32{}, []float32{}, 2},
		{[]float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		got := cosineDistance(tt.a, tt.b)
		if math.Abs(float64(got-tt.want)) > 0.001 {
			t.Errorf("cosineDistance(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
