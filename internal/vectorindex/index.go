// Package vectorindex is an exact inner-product index over unit vectors with
// a parallel list of chunks. Position i of the chunk list belongs to the i-th
// stored vector.
package vectorindex

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"chatpdf/internal/model"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrLengthMismatch    = errors.New("vectors and chunks differ in length")
)

type Hit struct {
	Score float32     `json:"score"`
	Chunk model.Chunk `json:"chunk"`
}

type Index struct {
	dim     int
	vectors []float32
	chunks  []model.Chunk
}

// New returns an empty index. A zero dim is fixed by the first Add.
func New(dim int) *Index {
	return &Index{dim: dim}
}

func (x *Index) Dimension() int {
	return x.dim
}

func (x *Index) Len() int {
	return len(x.chunks)
}

// Chunks returns a copy of the chunk list in index order.
func (x *Index) Chunks() []model.Chunk {
	return slices.Clone(x.chunks)
}

// Add appends vectors and their chunks. It never modifies stored entries.
func (x *Index) Add(vectors [][]float32, chunks []model.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors, %d chunks", ErrLengthMismatch, len(vectors), len(chunks))
	}
	if len(vectors) == 0 {
		return nil
	}
	dim := x.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("%w: vector %d has width %d, index expects %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	x.dim = dim
	x.vectors = slices.Grow(x.vectors, len(vectors)*dim)
	for _, v := range vectors {
		x.vectors = append(x.vectors, v...)
	}
	x.chunks = append(x.chunks, chunks...)
	return nil
}

// Search returns the k best hits by descending inner product. Equal scores
// keep insertion order.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	n := x.Len()
	if n == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has width %d, index expects %d", ErrDimensionMismatch, len(query), x.dim)
	}

	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		row := x.vectors[i*x.dim : (i+1)*x.dim]
		var dot float32
		for j, q := range query {
			dot += row[j] * q
		}
		scores[i] = dot
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	k = min(k, n)
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		idx := order[i]
		hits[i] = Hit{Score: scores[idx], Chunk: x.chunks[idx]}
	}
	return hits, nil
}
