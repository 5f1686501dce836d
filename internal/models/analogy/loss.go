package analogy

import (
	"fmt"
	"math"

	"github.com/cnclabs/analogy/pkg/knowledge"
	"github.com/cnclabs/analogy/pkg/optim"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TrainStep computes the training loss of a labelled batch:
//
//	mean_i softplus(−y_i·score_i) + λ·Σ mean(x²)
//
// where the second sum runs over the nine gathered slices. Labels must be
// +1 or -1 and match the batch length.
func (m *Analogy) TrainStep(batch []knowledge.Triple, labels []float64) (float64, error) {
	loss, _, err := m.forward(batch, labels, false)
	return loss, err
}

// Forward computes the TrainStep loss together with its gradients. The
// gradients are sparse over table rows and aligned with Parameters.
func (m *Analogy) Forward(batch []knowledge.Triple, labels []float64) (float64, []*optim.SparseRows, error) {
	return m.forward(batch, labels, true)
}

// Step runs Forward and applies the gradients with opt before returning, so
// the next lookup sees the updated tables.
func (m *Analogy) Step(batch []knowledge.Triple, labels []float64, opt optim.Optimizer) (float64, error) {
	loss, grads, err := m.Forward(batch, labels)
	if err != nil {
		return 0, err
	}
	if err := opt.Step(m.Parameters(), grads); err != nil {
		return 0, fmt.Errorf("apply gradients: %w", err)
	}
	return loss, nil
}

func (m *Analogy) forward(batch []knowledge.Triple, labels []float64, withGrad bool) (float64, []*optim.SparseRows, error) {
	if len(labels) != len(batch) {
		return 0, nil, fmt.Errorf("%d labels for %d triples: %w", len(labels), len(batch), ErrShapeMismatch)
	}
	if len(batch) == 0 {
		return 0, nil, ErrEmptyBatch
	}
	for i, y := range labels {
		if y != 1 && y != -1 {
			return 0, nil, fmt.Errorf("label %v at row %d: %w", y, i, ErrInvalidLabel)
		}
	}
	c, err := m.columns(batch)
	if err != nil {
		return 0, nil, err
	}

	s := m.entities(c.subjects)
	o := m.entities(c.objects)
	r := m.relations(c.relations)
	scores := score(s, o, r)

	n := float64(len(batch))
	// dscore holds dLoss/dscore_i
	dscore := make([]float64, len(batch))
	logistic := 0.0
	for i, y := range labels {
		z := -y * scores[i]
		logistic += softplus(z)
		dscore[i] = -y * sigmoid(z) / n
	}

	slices := [...]*mat.Dense{s.re, s.im, s.plain, o.re, o.im, o.plain, r.re, r.im, r.plain}
	regul := 0.0
	for _, x := range slices {
		regul += meanSquare(x)
	}

	loss := logistic/n + m.lambda*regul
	if !withGrad {
		return loss, nil, nil
	}
	return loss, m.backward(c, s, o, r, dscore), nil
}

// backward scatters the closed-form gradients of the loss into per-table
// sparse rows. Subject and object rows share the entity tables and add up.
func (m *Analogy) backward(c columns, s, o, r triplet, dscore []float64) []*optim.SparseRows {
	half := m.hiddenSize / 2
	grads := make([]*optim.SparseRows, numTables)
	for t := Table(0); t < numTables; t++ {
		_, cols := m.tables[t].Dims()
		grads[t] = optim.NewSparseRows(cols)
	}

	buf := make([]float64, half)
	for i, g := range dscore {
		sID, rID, oID := c.subjects[i], c.relations[i], c.objects[i]
		sre, sim := s.re.RawRowView(i), s.im.RawRowView(i)
		ore, oim := o.re.RawRowView(i), o.im.RawRowView(i)
		rre, rim := r.re.RawRowView(i), r.im.RawRowView(i)

		for d := 0; d < half; d++ {
			buf[d] = rre[d]*ore[d] + rim[d]*oim[d]
		}
		grads[EntityRe].Add(sID, g, buf)
		for d := 0; d < half; d++ {
			buf[d] = rre[d]*oim[d] - rim[d]*ore[d]
		}
		grads[EntityIm].Add(sID, g, buf)
		for d := 0; d < half; d++ {
			buf[d] = rre[d]*sre[d] - rim[d]*sim[d]
		}
		grads[EntityRe].Add(oID, g, buf)
		for d := 0; d < half; d++ {
			buf[d] = rre[d]*sim[d] + rim[d]*sre[d]
		}
		grads[EntityIm].Add(oID, g, buf)
		for d := 0; d < half; d++ {
			buf[d] = sre[d]*ore[d] + sim[d]*oim[d]
		}
		grads[RelationRe].Add(rID, g, buf)
		for d := 0; d < half; d++ {
			buf[d] = sre[d]*oim[d] - sim[d]*ore[d]
		}
		grads[RelationIm].Add(rID, g, buf)

		sp, op, rp := s.plain.RawRowView(i), o.plain.RawRowView(i), r.plain.RawRowView(i)
		grads[Entity].AddProduct(sID, g, op, rp)
		grads[Entity].AddProduct(oID, g, sp, rp)
		grads[Relation].AddProduct(rID, g, sp, op)
	}

	if m.lambda == 0 {
		return grads
	}

	// d/dx mean(X²) = 2x / numel(X)
	n := len(dscore)
	regulate := func(t Table, x *mat.Dense, ids []int) {
		_, cols := x.Dims()
		alpha := 2 * m.lambda / float64(n*cols)
		for i, id := range ids {
			grads[t].Add(id, alpha, x.RawRowView(i))
		}
	}
	regulate(EntityRe, s.re, c.subjects)
	regulate(EntityIm, s.im, c.subjects)
	regulate(Entity, s.plain, c.subjects)
	regulate(EntityRe, o.re, c.objects)
	regulate(EntityIm, o.im, c.objects)
	regulate(Entity, o.plain, c.objects)
	regulate(RelationRe, r.re, c.relations)
	regulate(RelationIm, r.im, c.relations)
	regulate(Relation, r.plain, c.relations)

	return grads
}

func meanSquare(x *mat.Dense) float64 {
	raw := x.RawMatrix().Data
	return floats.Dot(raw, raw) / float64(len(raw))
}

// softplus computes log(1 + e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
