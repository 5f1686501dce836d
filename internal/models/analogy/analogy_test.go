package analogy

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/cnclabs/analogy/pkg/knowledge"
	"github.com/cnclabs/analogy/pkg/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, ents, rels, hidden int, lambda float64, seed int64) *Analogy {
	t.Helper()
	m, err := New(ents, rels, hidden, lambda, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return m
}

func fill(m *Analogy, t Table, v float64) {
	raw := m.tables[t].RawMatrix().Data
	for i := range raw {
		raw[i] = v
	}
}

func setRow(m *Analogy, t Table, row int, vals ...float64) {
	copy(m.tables[t].RawRowView(row), vals)
}

func TestNewValidatesArguments(t *testing.T) {
	cases := []struct {
		name               string
		ents, rels, hidden int
		lambda             float64
	}{
		{"zero entities", 0, 1, 4, 0},
		{"negative relations", 3, -1, 4, 0},
		{"odd hidden size", 3, 2, 5, 0},
		{"hidden size zero", 3, 2, 0, 0},
		{"negative lambda", 3, 2, 4, -0.1},
		{"nan lambda", 3, 2, 4, math.NaN()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(tc.ents, tc.rels, tc.hidden, tc.lambda, nil)
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, ErrInvalidDimensions), "got %v", err)
		})
	}
}

func TestNewAllocatesXavierTables(t *testing.T) {
	m := newModel(t, 50, 7, 10, 0.01, 1)

	want := map[Table][2]int{
		EntityRe:   {50, 5},
		EntityIm:   {50, 5},
		Entity:     {50, 10},
		RelationRe: {7, 5},
		RelationIm: {7, 5},
		Relation:   {7, 10},
	}
	params := m.Parameters()
	require.Len(t, params, 6)
	for tbl, shape := range want {
		r, c := m.Table(tbl).Dims()
		assert.Equal(t, shape[0], r, tbl.String())
		assert.Equal(t, shape[1], c, tbl.String())
		assert.Same(t, m.Table(tbl), params[tbl])

		bound := math.Sqrt(6.0 / float64(r+c))
		sum := 0.0
		for _, v := range m.Table(tbl).RawMatrix().Data {
			assert.LessOrEqual(t, math.Abs(v), bound)
			sum += v
		}
		assert.InDelta(t, 0, sum/float64(r*c), bound/2, tbl.String())
	}

	assert.Equal(t, 50, m.NumEntities())
	assert.Equal(t, 7, m.NumRelations())
	assert.Equal(t, 10, m.HiddenSize())
	assert.Equal(t, 0.01, m.Lambda())
	assert.Equal(t, "relation_im", RelationIm.String())
}

func TestTableOutOfRange(t *testing.T) {
	m := newModel(t, 3, 2, 4, 0, 1)

	assert.Nil(t, m.Table(Table(-1)))
	assert.Nil(t, m.Table(numTables))
	assert.Equal(t, "Table(6)", numTables.String())
}

func TestScoreIndependentOfSummationOrder(t *testing.T) {
	m := newModel(t, 20, 5, 16, 0, 2)
	rng := rand.New(rand.NewSource(3))

	for trial := 0; trial < 50; trial++ {
		tr := knowledge.Triple{
			Head:     rng.Int63n(20),
			Relation: rng.Int63n(5),
			Tail:     rng.Int63n(20),
		}
		got, err := m.ScoreBatch([]knowledge.Triple{tr})
		require.NoError(t, err)

		sre := m.Table(EntityRe).RawRowView(int(tr.Head))
		sim := m.Table(EntityIm).RawRowView(int(tr.Head))
		sp := m.Table(Entity).RawRowView(int(tr.Head))
		ore := m.Table(EntityRe).RawRowView(int(tr.Tail))
		oim := m.Table(EntityIm).RawRowView(int(tr.Tail))
		op := m.Table(Entity).RawRowView(int(tr.Tail))
		rre := m.Table(RelationRe).RawRowView(int(tr.Relation))
		rim := m.Table(RelationIm).RawRowView(int(tr.Relation))
		rp := m.Table(Relation).RawRowView(int(tr.Relation))

		var terms []float64
		for d := range sre {
			terms = append(terms,
				rre[d]*sre[d]*ore[d],
				rre[d]*sim[d]*oim[d],
				rim[d]*sre[d]*oim[d],
				-rim[d]*sim[d]*ore[d])
		}
		for d := range sp {
			terms = append(terms, sp[d]*op[d]*rp[d])
		}
		rng.Shuffle(len(terms), func(i, j int) { terms[i], terms[j] = terms[j], terms[i] })
		want := 0.0
		for _, v := range terms {
			want += v
		}

		assert.InDelta(t, want, got[0], 1e-12)
	}
}

func TestScoreSymmetricWithoutImaginaryRelation(t *testing.T) {
	m := newModel(t, 10, 3, 8, 0, 4)
	fill(m, RelationIm, 0)

	for s := int64(0); s < 10; s++ {
		for o := int64(0); o < 10; o++ {
			scores, err := m.ScoreBatch([]knowledge.Triple{
				{Head: s, Relation: 1, Tail: o},
				{Head: o, Relation: 1, Tail: s},
			})
			require.NoError(t, err)
			assert.InDelta(t, scores[0], scores[1], 1e-12)
		}
	}
}

func TestScoreAntisymmetricWithImaginaryRelation(t *testing.T) {
	m := newModel(t, 4, 1, 4, 0, 5)
	fill(m, Entity, 0)
	fill(m, RelationRe, 0)

	scores, err := m.ScoreBatch([]knowledge.Triple{
		{Head: 0, Relation: 0, Tail: 1},
		{Head: 1, Relation: 0, Tail: 0},
	})
	require.NoError(t, err)
	// with only r_im left the score flips sign when subject and object swap
	assert.InDelta(t, scores[0], -scores[1], 1e-12)
	assert.NotZero(t, scores[0])
}

func TestComplexTermVanishesWithoutImaginaryEntities(t *testing.T) {
	m := newModel(t, 4, 2, 6, 0, 6)
	fill(m, RelationRe, 0)
	fill(m, EntityIm, 0)

	for _, tr := range []knowledge.Triple{{Head: 0, Relation: 1, Tail: 2}, {Head: 3, Relation: 0, Tail: 3}} {
		got, err := m.ScoreBatch([]knowledge.Triple{tr})
		require.NoError(t, err)

		sp := m.Table(Entity).RawRowView(int(tr.Head))
		op := m.Table(Entity).RawRowView(int(tr.Tail))
		rp := m.Table(Relation).RawRowView(int(tr.Relation))
		plain := 0.0
		for d := range sp {
			plain += sp[d] * op[d] * rp[d]
		}
		assert.InDelta(t, plain, got[0], 1e-12)
	}
}

func TestPredictLengthAndSign(t *testing.T) {
	m := newModel(t, 30, 4, 8, 0, 7)
	rng := rand.New(rand.NewSource(8))

	for _, n := range []int{1, 2, 100} {
		batch := make([]knowledge.Triple, n)
		for i := range batch {
			batch[i] = knowledge.Triple{Head: rng.Int63n(30), Relation: rng.Int63n(4), Tail: rng.Int63n(30)}
		}
		preds, err := m.Predict(batch)
		require.NoError(t, err)
		require.Len(t, preds, n)

		raw, err := m.ScoreBatch(batch)
		require.NoError(t, err)
		for i := range preds {
			assert.Equal(t, -raw[i], preds[i])
		}
	}

	preds, err := m.Predict(nil)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestPredictRejectsBadIndices(t *testing.T) {
	m := newModel(t, 3, 2, 4, 0, 9)
	_, err := m.Predict([]knowledge.Triple{{Head: 0, Relation: 2, Tail: 1}})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestTrainStepHandComputed(t *testing.T) {
	batch := []knowledge.Triple{{Head: 0, Relation: 0, Tail: 1}, {Head: 1, Relation: 1, Tail: 2}}
	labels := []float64{1, -1}

	for _, lambda := range []float64{0, 0.1} {
		m := newModel(t, 3, 2, 4, lambda, 10)
		for tbl := Table(0); tbl < numTables; tbl++ {
			fill(m, tbl, 0.5)
		}

		// complex: 2 dims × (3 − 1)·0.125 = 0.5; plain: 4 dims × 0.125 = 0.5
		scores, err := m.ScoreBatch(batch)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, scores[0], 1e-12)
		assert.InDelta(t, 1.0, scores[1], 1e-12)

		logistic := (math.Log(1+math.Exp(-1)) + math.Log(1+math.Exp(1))) / 2
		// nine slices, each with mean square 0.25
		want := logistic + lambda*9*0.25

		loss, err := m.TrainStep(batch, labels)
		require.NoError(t, err)
		assert.InDelta(t, want, loss, 1e-12, "lambda=%v", lambda)
	}
}

func TestTrainStepIndexErrors(t *testing.T) {
	m := newModel(t, 3, 2, 4, 0, 11)
	labels := []float64{1}

	for _, tr := range []knowledge.Triple{
		{Head: 3, Relation: 0, Tail: 0},
		{Head: -1, Relation: 0, Tail: 0},
		{Head: 0, Relation: 2, Tail: 0},
		{Head: 0, Relation: -1, Tail: 0},
		{Head: 0, Relation: 0, Tail: 3},
		{Head: 0, Relation: 0, Tail: -5},
	} {
		_, err := m.TrainStep([]knowledge.Triple{tr}, labels)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange), "triple %+v: %v", tr, err)
	}
}

func TestTrainStepShapeAndLabelErrors(t *testing.T) {
	m := newModel(t, 3, 2, 4, 0, 12)
	batch := []knowledge.Triple{{Head: 0, Relation: 0, Tail: 1}, {Head: 1, Relation: 1, Tail: 2}}

	_, err := m.TrainStep(batch, []float64{1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = m.TrainStep(batch, []float64{1, -1, 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = m.TrainStep(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	_, err = m.TrainStep(batch, []float64{1, 0})
	assert.True(t, errors.Is(err, ErrInvalidLabel))
}

func TestForwardGradientsMatchFiniteDifferences(t *testing.T) {
	m := newModel(t, 5, 3, 6, 0.05, 13)
	batch := []knowledge.Triple{
		{Head: 0, Relation: 0, Tail: 1},
		{Head: 1, Relation: 2, Tail: 1},
		{Head: 4, Relation: 0, Tail: 0},
	}
	labels := []float64{1, -1, -1}

	_, grads, err := m.Forward(batch, labels)
	require.NoError(t, err)
	require.Len(t, grads, 6)

	const eps = 1e-6
	for tbl := Table(0); tbl < numTables; tbl++ {
		rows, cols := m.Table(tbl).Dims()
		for r := 0; r < rows; r++ {
			g := grads[tbl].Get(r)
			for c := 0; c < cols; c++ {
				orig := m.Table(tbl).At(r, c)
				m.Table(tbl).Set(r, c, orig+eps)
				up, err := m.TrainStep(batch, labels)
				require.NoError(t, err)
				m.Table(tbl).Set(r, c, orig-eps)
				down, err := m.TrainStep(batch, labels)
				require.NoError(t, err)
				m.Table(tbl).Set(r, c, orig)

				numeric := (up - down) / (2 * eps)
				analytic := 0.0
				if g != nil {
					analytic = g[c]
				}
				assert.InDelta(t, numeric, analytic, 1e-6, "%s[%d][%d]", tbl, r, c)
			}
		}
	}

	// rows outside the batch receive no gradient
	assert.Nil(t, grads[Entity].Get(2))
	assert.Nil(t, grads[RelationRe].Get(1))
}

func TestStepChangesLoss(t *testing.T) {
	m := newModel(t, 3, 2, 4, 0, 14)
	batch := []knowledge.Triple{{Head: 0, Relation: 0, Tail: 1}, {Head: 1, Relation: 1, Tail: 2}}
	labels := []float64{1, -1}

	first, err := m.Step(batch, labels, optim.NewSGD(0.1))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(first) || math.IsInf(first, 0))
	assert.GreaterOrEqual(t, first, 0.0)

	second, err := m.TrainStep(batch, labels)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Less(t, second, first)
}
