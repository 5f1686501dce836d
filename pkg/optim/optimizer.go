package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Optimizer applies one step of gradients to parameter tables in place.
// grads[i] belongs to params[i].
type Optimizer interface {
	Step(params []*mat.Dense, grads []*SparseRows) error
}

func checkShapes(params []*mat.Dense, grads []*SparseRows) error {
	if len(params) != len(grads) {
		return fmt.Errorf("%d params, %d grads: %w", len(params), len(grads), ErrShapeMismatch)
	}
	for i, p := range params {
		rows, cols := p.Dims()
		if grads[i] == nil {
			continue
		}
		if grads[i].Dim() != cols {
			return fmt.Errorf("param %d has width %d, grad %d: %w", i, cols, grads[i].Dim(), ErrShapeMismatch)
		}
		for _, id := range grads[i].rows {
			if id < 0 || id >= rows {
				return fmt.Errorf("param %d row %d not in [0,%d): %w", i, id, rows, ErrRowOutOfRange)
			}
		}
	}
	return nil
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LearningRate float64
}

// NewSGD returns an SGD optimizer.
func NewSGD(learningRate float64) *SGD {
	return &SGD{LearningRate: learningRate}
}

// Step subtracts LearningRate times each row gradient.
func (o *SGD) Step(params []*mat.Dense, grads []*SparseRows) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	for i, p := range params {
		g := grads[i]
		if g == nil {
			continue
		}
		for j := 0; j < g.Len(); j++ {
			id, grad := g.Row(j)
			floats.AddScaled(p.RawRowView(id), -o.LearningRate, grad)
		}
	}
	return nil
}

// AdaGrad scales each coordinate's step by the inverse root of its
// accumulated squared gradients. Only touched rows are updated.
type AdaGrad struct {
	LearningRate       float64
	Epsilon            float64
	InitialAccumulator float64

	accum []*mat.Dense
}

// NewAdaGrad returns an AdaGrad optimizer with epsilon 1e-10 and a zero
// initial accumulator.
func NewAdaGrad(learningRate float64) *AdaGrad {
	return &AdaGrad{
		LearningRate: learningRate,
		Epsilon:      1e-10,
	}
}

// Step applies one AdaGrad update. Accumulators are allocated on first use
// and must keep matching the parameter shapes afterwards. Shapes are checked
// before any table changes, so a failed step leaves params untouched.
func (o *AdaGrad) Step(params []*mat.Dense, grads []*SparseRows) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	if o.accum == nil {
		o.accum = make([]*mat.Dense, len(params))
		for i, p := range params {
			rows, cols := p.Dims()
			acc := mat.NewDense(rows, cols, nil)
			if o.InitialAccumulator != 0 {
				raw := acc.RawMatrix().Data
				for k := range raw {
					raw[k] = o.InitialAccumulator
				}
			}
			o.accum[i] = acc
		}
	}
	if len(o.accum) != len(params) {
		return fmt.Errorf("optimizer state for %d params, got %d: %w", len(o.accum), len(params), ErrShapeMismatch)
	}

	for i, p := range params {
		pr, pc := p.Dims()
		ar, ac := o.accum[i].Dims()
		if pr != ar || pc != ac {
			return fmt.Errorf("param %d is %dx%d, state %dx%d: %w", i, pr, pc, ar, ac, ErrShapeMismatch)
		}
	}

	for i, p := range params {
		g := grads[i]
		if g == nil {
			continue
		}
		for j := 0; j < g.Len(); j++ {
			id, grad := g.Row(j)
			row := p.RawRowView(id)
			acc := o.accum[i].RawRowView(id)
			for d, gd := range grad {
				acc[d] += gd * gd
				row[d] -= o.LearningRate * gd / (math.Sqrt(acc[d]) + o.Epsilon)
			}
		}
	}
	return nil
}
