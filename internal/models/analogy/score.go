package analogy

import (
	"fmt"

	"github.com/cnclabs/analogy/pkg/knowledge"
	"gonum.org/v1/gonum/mat"
)

// triplet holds the gathered real, imaginary and plain rows of one side
// (subject, object or relation) of a batch, one row per triple.
type triplet struct {
	re, im, plain *mat.Dense
}

// columns splits a batch into validated id columns.
type columns struct {
	subjects, relations, objects []int
}

func (m *Analogy) columns(batch []knowledge.Triple) (columns, error) {
	c := columns{
		subjects:  make([]int, len(batch)),
		relations: make([]int, len(batch)),
		objects:   make([]int, len(batch)),
	}
	for i, t := range batch {
		if err := checkIndex("subject", i, t.Head, m.numEntities); err != nil {
			return columns{}, err
		}
		if err := checkIndex("relation", i, t.Relation, m.numRelations); err != nil {
			return columns{}, err
		}
		if err := checkIndex("object", i, t.Tail, m.numEntities); err != nil {
			return columns{}, err
		}
		c.subjects[i] = int(t.Head)
		c.relations[i] = int(t.Relation)
		c.objects[i] = int(t.Tail)
	}
	return c, nil
}

func checkIndex(column string, row int, id int64, n int) error {
	if id < 0 || id >= int64(n) {
		return fmt.Errorf("%s at row %d: id %d not in [0,%d): %w", column, row, id, n, ErrIndexOutOfRange)
	}
	return nil
}

// gather copies the rows ids of table into a fresh len(ids)×cols matrix.
// ids must be non-empty and in range.
func gather(table *mat.Dense, ids []int) *mat.Dense {
	_, cols := table.Dims()
	out := mat.NewDense(len(ids), cols, nil)
	for i, id := range ids {
		copy(out.RawRowView(i), table.RawRowView(id))
	}
	return out
}

func (m *Analogy) entities(ids []int) triplet {
	return triplet{
		re:    gather(m.tables[EntityRe], ids),
		im:    gather(m.tables[EntityIm], ids),
		plain: gather(m.tables[Entity], ids),
	}
}

func (m *Analogy) relations(ids []int) triplet {
	return triplet{
		re:    gather(m.tables[RelationRe], ids),
		im:    gather(m.tables[RelationIm], ids),
		plain: gather(m.tables[Relation], ids),
	}
}

// score returns one raw score per row:
//
//	Σ_d r_re·s_re·o_re + r_re·s_im·o_im + r_im·s_re·o_im − r_im·s_im·o_re
//	  + Σ_d s·o·r
//
// The sums run over the embedding dimension only; rows are never combined.
func score(s, o, r triplet) []float64 {
	n, half := s.re.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sre, sim := s.re.RawRowView(i), s.im.RawRowView(i)
		ore, oim := o.re.RawRowView(i), o.im.RawRowView(i)
		rre, rim := r.re.RawRowView(i), r.im.RawRowView(i)

		complexTerm := 0.0
		for d := 0; d < half; d++ {
			complexTerm += rre[d]*sre[d]*ore[d] +
				rre[d]*sim[d]*oim[d] +
				rim[d]*sre[d]*oim[d] -
				rim[d]*sim[d]*ore[d]
		}

		sp, op, rp := s.plain.RawRowView(i), o.plain.RawRowView(i), r.plain.RawRowView(i)
		plainTerm := 0.0
		for d := range sp {
			plainTerm += sp[d] * op[d] * rp[d]
		}

		out[i] = complexTerm + plainTerm
	}
	return out
}

// ScoreBatch returns the raw score of each triple: larger means more
// plausible. Predict returns the negation.
func (m *Analogy) ScoreBatch(batch []knowledge.Triple) ([]float64, error) {
	c, err := m.columns(batch)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return []float64{}, nil
	}
	return score(m.entities(c.subjects), m.entities(c.objects), m.relations(c.relations)), nil
}

// Predict scores a batch for inference and returns -score per triple, in
// input order. The most negative value marks the most plausible triple;
// ranking code depends on this sign. The result shares no memory with the
// model.
func (m *Analogy) Predict(batch []knowledge.Triple) ([]float64, error) {
	scores, err := m.ScoreBatch(batch)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] = -scores[i]
	}
	return scores, nil
}
