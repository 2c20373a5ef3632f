// Package vectorindex provides the in-process HNSW (Hierarchical
// Navigable Small World) approximate nearest neighbor index backing the
// Retriever's vector search step, keyed by MBS
// catalog item code instead of a numeric memory ID.
//
// Pure Go, zero CGO, following Malkov & Yashunin (2018): "Efficient and
// robust approximate nearest neighbor using Hierarchical Navigable Small
// World graphs" — https://arxiv.org/abs/1603.09320
package vectorindex

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Index is an in-memory HNSW index over catalog item embeddings.
type Index struct {
	mu         sync.RWMutex
	nodes      []node
	codeToIdx  map[string]int // item code → node index
	entryPoint int            // index of entry point node (-1 if empty)
	maxLevel   int            // current max level in the graph
	dims       int            // vector dimensionality

	M              int     // max connections per layer
	Mmax0          int     // max connections for layer 0
	EfConstruction int     // build-time beam width
	EfSearch       int     // search-time beam width
	LevelMult      float64 // level generation multiplier: 1/ln(M)

	rng *rand.Rand
}

type node struct {
	code    string
	vector  []float32
	friends [][]int
	level   int
}

// Result is a search hit: item code and cosine distance (1 - similarity;
// lower is more similar).
type Result struct {
	Code     string
	Distance float32
}

type candidate struct {
	idx  int
	dist float32
}

const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// New creates an index for vectors of the given dimensionality, using
// default tuning parameters.
func New(dims int) *Index {
	return NewWithParams(dims, DefaultM, DefaultEfConstruction, DefaultEfSearch)
}

// NewWithParams creates an index with custom HNSW tuning parameters.
func NewWithParams(dims, m, efConstruction, efSearch int) *Index {
	if m < 2 {
		m = 2
	}
	return &Index{
		dims:           dims,
		M:              m,
		Mmax0:          2 * m,
		EfConstruction: efConstruction,
		EfSearch:       efSearch,
		LevelMult:      1.0 / math.Log(float64(m)),
		entryPoint:     -1,
		maxLevel:       -1,
		codeToIdx:      make(map[string]int),
		rng:            rand.New(rand.NewSource(42)),
	}
}

// Len returns the number of vectors in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Has reports whether code is already indexed.
func (idx *Index) Has(code string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.codeToIdx[code]
	return ok
}

// Insert adds a vector under code. A repeat code is a no-op: callers that
// need to replace a vector must build a new index, since HNSW graphs are
// not designed for in-place vector updates.
func (idx *Index) Insert(code string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.codeToIdx[code]; exists {
		return
	}

	nodeIdx := len(idx.nodes)
	level := idx.randomLevel()

	n := node{
		code:    code,
		vector:  vector,
		friends: make([][]int, level+1),
		level:   level,
	}
	idx.nodes = append(idx.nodes, n)
	idx.codeToIdx[code] = nodeIdx

	if idx.entryPoint == -1 {
		idx.entryPoint = nodeIdx
		idx.maxLevel = level
		return
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		ep = idx.greedyClosest(vector, ep, l)
	}

	topLayer := level
	if topLayer > idx.maxLevel {
		topLayer = idx.maxLevel
	}

	for l := topLayer; l >= 0; l-- {
		candidates := idx.searchLayer(vector, ep, idx.EfConstruction, l)

		maxConn := idx.M
		if l == 0 {
			maxConn = idx.Mmax0
		}
		neighbors := idx.selectNeighbors(candidates, maxConn)
		idx.nodes[nodeIdx].friends[l] = neighbors

		for _, neighborIdx := range neighbors {
			idx.nodes[neighborIdx].friends[l] = append(idx.nodes[neighborIdx].friends[l], nodeIdx)
			if len(idx.nodes[neighborIdx].friends[l]) > maxConn {
				idx.nodes[neighborIdx].friends[l] = idx.shrinkNeighbors(
					neighborIdx, idx.nodes[neighborIdx].friends[l], maxConn,
				)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = nodeIdx
		idx.maxLevel = level
	}
}

// Search finds the k nearest neighbors to query, closest first.
func (idx *Index) Search(query []float32, k int) []Result {
	return idx.SearchEf(query, k, idx.EfSearch)
}

// SearchEf finds the k nearest neighbors using a custom beam width ef.
// Higher ef trades speed for recall. ef is raised to k if lower.
func (idx *Index) SearchEf(query []float32, k, ef int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.searchEfLocked(query, k, ef)
}

func (idx *Index) searchEfLocked(query []float32, k, ef int) []Result {
	if len(idx.nodes) == 0 || idx.entryPoint == -1 {
		return nil
	}
	if ef < k {
		ef = k
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.greedyClosest(query, ep, l)
	}

	candidates := idx.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Code: idx.nodes[c.idx].code, Distance: c.dist}
	}
	return results
}

// SearchFiltered returns up to k neighbors whose code satisfies allow,
// used to apply the Retriever's metadata prefilter.
// HNSW has no native predicate pushdown, so this over-fetches a widened
// candidate set and discards filtered-out results; if fewer than k survive
// filtering it widens ef geometrically, up to the total node count; once
// that bound is reached it returns whatever allowed results it found.
func (idx *Index) SearchFiltered(query []float32, k int, allow func(code string) bool) []Result {
	if allow == nil {
		return idx.Search(query, k)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ef := idx.EfSearch
	if ef < k {
		ef = k
	}
	maxEf := len(idx.nodes)
	if maxEf == 0 {
		return nil
	}

	for {
		raw := idx.searchEfLocked(query, ef, ef)
		var filtered []Result
		for _, r := range raw {
			if allow(r.Code) {
				filtered = append(filtered, r)
				if len(filtered) == k {
					return filtered
				}
			}
		}
		if len(raw) >= maxEf {
			return filtered
		}
		ef *= 4
		if ef > maxEf {
			ef = maxEf
		}
	}
}

func (idx *Index) randomLevel() int {
	r := idx.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * idx.LevelMult))
}

func (idx *Index) greedyClosest(query []float32, ep int, layer int) int {
	dist := cosineDistance(query, idx.nodes[ep].vector)
	for {
		improved := false
		if layer < len(idx.nodes[ep].friends) {
			for _, friendIdx := range idx.nodes[ep].friends[layer] {
				friendDist := cosineDistance(query, idx.nodes[friendIdx].vector)
				if friendDist < dist {
					ep = friendIdx
					dist = friendDist
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return ep
}

func (idx *Index) searchLayer(query []float32, ep int, ef int, layer int) []candidate {
	visited := make(map[int]bool)
	visited[ep] = true

	epDist := cosineDistance(query, idx.nodes[ep].vector)
	candidates := []candidate{{idx: ep, dist: epDist}}
	results := []candidate{{idx: ep, dist: epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		farthest := results[len(results)-1]
		if closest.dist > farthest.dist && len(results) >= ef {
			break
		}

		if layer < len(idx.nodes[closest.idx].friends) {
			for _, neighborIdx := range idx.nodes[closest.idx].friends[layer] {
				if visited[neighborIdx] {
					continue
				}
				visited[neighborIdx] = true

				neighborDist := cosineDistance(query, idx.nodes[neighborIdx].vector)
				if neighborDist < results[len(results)-1].dist || len(results) < ef {
					candidates = insertSorted(candidates, candidate{idx: neighborIdx, dist: neighborDist})
					results = insertSorted(results, candidate{idx: neighborIdx, dist: neighborDist})
					if len(results) > ef {
						results = results[:ef]
					}
				}
			}
		}
	}
	return results
}

func (idx *Index) selectNeighbors(candidates []candidate, maxConn int) []int {
	if len(candidates) <= maxConn {
		neighbors := make([]int, len(candidates))
		for i, c := range candidates {
			neighbors[i] = c.idx
		}
		return neighbors
	}
	neighbors := make([]int, maxConn)
	for i := 0; i < maxConn; i++ {
		neighbors[i] = candidates[i].idx
	}
	return neighbors
}

func (idx *Index) shrinkNeighbors(nodeIdx int, neighbors []int, maxConn int) []int {
	if len(neighbors) <= maxConn {
		return neighbors
	}
	type scored struct {
		idx  int
		dist float32
	}
	scoredNeighbors := make([]scored, len(neighbors))
	vec := idx.nodes[nodeIdx].vector
	for i, nIdx := range neighbors {
		scoredNeighbors[i] = scored{idx: nIdx, dist: cosineDistance(vec, idx.nodes[nIdx].vector)}
	}
	sort.Slice(scoredNeighbors, func(i, j int) bool { return scoredNeighbors[i].dist < scoredNeighbors[j].dist })

	result := make([]int, maxConn)
	for i := 0; i < maxConn; i++ {
		result[i] = scoredNeighbors[i].idx
	}
	return result
}

func insertSorted(s []candidate, c candidate) []candidate {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, candidate{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
