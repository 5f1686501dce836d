// Package optim holds sparse row gradients for embedding tables and the
// optimizers that apply them in place.
package optim

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShapeMismatch is returned when gradients and parameters disagree in
	// count or row width.
	ErrShapeMismatch = errors.New("optim: shape mismatch")

	// ErrRowOutOfRange is returned when a gradient row does not exist in its table.
	ErrRowOutOfRange = errors.New("optim: row out of range")
)

// SparseRows accumulates gradients for the rows of one table that a batch
// touched. Rows are stored contiguously in first-touch order.
type SparseRows struct {
	dim   int
	index map[int]int
	rows  []int
	data  []float64
}

// NewSparseRows returns an empty gradient for a table of row width dim.
func NewSparseRows(dim int) *SparseRows {
	return &SparseRows{
		dim:   dim,
		index: make(map[int]int),
	}
}

// Dim returns the row width.
func (s *SparseRows) Dim() int { return s.dim }

// Len returns the number of rows touched.
func (s *SparseRows) Len() int { return len(s.rows) }

// Row returns the i-th touched row id and its gradient.
func (s *SparseRows) Row(i int) (int, []float64) {
	off := i * s.dim
	return s.rows[i], s.data[off : off+s.dim]
}

// Get returns the gradient of row id, or nil if the row was never touched.
func (s *SparseRows) Get(id int) []float64 {
	i, ok := s.index[id]
	if !ok {
		return nil
	}
	_, g := s.Row(i)
	return g
}

// Add accumulates alpha*vec into row id.
func (s *SparseRows) Add(id int, alpha float64, vec []float64) {
	floats.AddScaled(s.slot(id), alpha, vec)
}

// AddProduct accumulates alpha*a*b element-wise into row id.
func (s *SparseRows) AddProduct(id int, alpha float64, a, b []float64) {
	dst := s.slot(id)
	for d := range dst {
		dst[d] += alpha * a[d] * b[d]
	}
}

func (s *SparseRows) slot(id int) []float64 {
	i, ok := s.index[id]
	if !ok {
		i = len(s.rows)
		s.index[id] = i
		s.rows = append(s.rows, id)
		s.data = append(s.data, make([]float64, s.dim)...)
	}
	off := i * s.dim
	return s.data[off : off+s.dim]
}

// Rows returns the touched row ids in ascending order.
func (s *SparseRows) Rows() []int {
	ids := make([]int, len(s.rows))
	copy(ids, s.rows)
	sort.Ints(ids)
	return ids
}
