package main

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Match is one search hit: the stored entry's position in insertion order
// and its cosine similarity to the query.
type Match struct {
	ID    int
	Score float64
}

// VectorIndex is an in-memory brute-force cosine similarity index over
// the case base. Insertion order is preserved so equal-scoring entries
// come back in a deterministic order.
//
// It is safe for concurrent use.
type VectorIndex struct {
	mu      sync.RWMutex
	vectors [][]float64
	dim     int
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{}
}

// Insert adds a vector and returns its ID (the insertion position).
func (ix *VectorIndex) Insert(vector []float64) (int, error) {
	if len(vector) == 0 {
		return 0, fmt.Errorf("vecindex: empty vector")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(vector)
	} else if len(vector) != ix.dim {
		return 0, fmt.Errorf("vecindex: dimension mismatch: index holds %d-dim vectors, got %d", ix.dim, len(vector))
	}

	cp := make([]float64, len(vector))
	copy(cp, vector)
	ix.vectors = append(ix.vectors, cp)
	return len(ix.vectors) - 1, nil
}

// BatchInsert adds vectors in order.
func (ix *VectorIndex) BatchInsert(vectors [][]float64) error {
	for _, v := range vectors {
		if _, err := ix.Insert(v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored vectors.
func (ix *VectorIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Search returns up to topK matches with similarity >= threshold, ordered
// by descending similarity. Ties keep insertion order. Entries whose ID is
// in exclude are skipped.
func (ix *VectorIndex) Search(query []float64, topK int, threshold float64, exclude map[int]bool) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if topK <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("vecindex: query dimension %d != index dimension %d", len(query), ix.dim)
	}

	matches := make([]Match, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		if exclude[id] {
			continue
		}
		score := CosineSimilarity(query, vec)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{ID: id, Score: score})
	}

	// SliceStable keeps insertion order among equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, in [-1, 1]. A zero-norm vector yields 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
