// Package analogy implements ANALOGY knowledge graph embeddings: a bilinear
// model whose score adds a complex-valued (ComplEx-style) term, able to model
// antisymmetric relations, to a real-valued DistMult term, which is symmetric
// in subject and object. It is trained with a softplus logistic loss plus L2
// regularization over the embeddings a batch touches.
//
// The model owns six tables, entity and relation × {real, imaginary, plain}.
// The real and imaginary tables have hiddenSize/2 columns, the plain tables
// hiddenSize. Each table is a contiguous gonum arena addressed by id.
//
// Scoring and loss computation never log and never recover: every invalid
// input is returned to the caller as an error.
package analogy

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Table identifies one of the six embedding tables.
type Table int

// Tables in Parameters order.
const (
	EntityRe Table = iota
	EntityIm
	Entity
	RelationRe
	RelationIm
	Relation
	numTables
)

var tableNames = [...]string{"entity_re", "entity_im", "entity", "relation_re", "relation_im", "relation"}

func (t Table) String() string {
	if t < 0 || t >= numTables {
		return fmt.Sprintf("Table(%d)", int(t))
	}
	return tableNames[t]
}

// Analogy is the embedding scoring model.
type Analogy struct {
	numEntities  int
	numRelations int
	hiddenSize   int
	lambda       float64

	tables [numTables]*mat.Dense
}

// New allocates and Xavier-initializes a model. rng may be nil, in which case
// a time-seeded source is used.
func New(numEntities, numRelations, hiddenSize int, lambda float64, rng *rand.Rand) (*Analogy, error) {
	switch {
	case numEntities <= 0:
		return nil, fmt.Errorf("num_entities %d must be positive: %w", numEntities, ErrInvalidDimensions)
	case numRelations <= 0:
		return nil, fmt.Errorf("num_relations %d must be positive: %w", numRelations, ErrInvalidDimensions)
	case hiddenSize < 2 || hiddenSize%2 != 0:
		return nil, fmt.Errorf("hidden_size %d must be even and at least 2: %w", hiddenSize, ErrInvalidDimensions)
	case lambda < 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0):
		return nil, fmt.Errorf("lambda %v must be finite and non-negative: %w", lambda, ErrInvalidDimensions)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	m := &Analogy{
		numEntities:  numEntities,
		numRelations: numRelations,
		hiddenSize:   hiddenSize,
		lambda:       lambda,
	}

	half := hiddenSize / 2
	m.tables[EntityRe] = xavierUniform(numEntities, half, rng)
	m.tables[EntityIm] = xavierUniform(numEntities, half, rng)
	m.tables[Entity] = xavierUniform(numEntities, hiddenSize, rng)
	m.tables[RelationRe] = xavierUniform(numRelations, half, rng)
	m.tables[RelationIm] = xavierUniform(numRelations, half, rng)
	m.tables[Relation] = xavierUniform(numRelations, hiddenSize, rng)

	return m, nil
}

// xavierUniform draws a rows×cols table from U(-a, a) with
// a = sqrt(6 / (rows + cols)), the Glorot bound for a (count, dim) weight.
func xavierUniform(rows, cols int, rng *rand.Rand) *mat.Dense {
	bound := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return mat.NewDense(rows, cols, data)
}

// NumEntities returns the entity table row count.
func (m *Analogy) NumEntities() int { return m.numEntities }

// NumRelations returns the relation table row count.
func (m *Analogy) NumRelations() int { return m.numRelations }

// HiddenSize returns the plain embedding width; complex halves are HiddenSize()/2.
func (m *Analogy) HiddenSize() int { return m.hiddenSize }

// Lambda returns the regularization weight.
func (m *Analogy) Lambda() float64 { return m.lambda }

// Table returns the live table t, or nil when t names no table. Writes
// through it change the model.
func (m *Analogy) Table(t Table) *mat.Dense {
	if t < 0 || t >= numTables {
		return nil
	}
	return m.tables[t]
}

// Parameters returns the six tables in Table order. Gradients returned by
// Forward are aligned with this slice.
func (m *Analogy) Parameters() []*mat.Dense {
	params := make([]*mat.Dense, numTables)
	copy(params, m.tables[:])
	return params
}
