package analogy

import (
	"sort"

	"github.com/cnclabs/analogy/pkg/knowledge"
)

// KnownSet reports triples known to be true. *knowledge.KnowledgeGraph
// implements it.
type KnownSet interface {
	Has(t knowledge.Triple) bool
}

// Metrics are link prediction results averaged over head and tail
// replacement of every evaluated triple.
type Metrics struct {
	MRR   float64
	MR    float64
	Hits  map[int]float64 // k -> fraction of ranks <= k
	Ranks int
}

// HitsAt returns the sorted cutoffs present in Hits.
func (mt Metrics) HitsAt() []int {
	ks := make([]int, 0, len(mt.Hits))
	for k := range mt.Hits {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}

// EvaluateLinkPrediction ranks every entity as a replacement tail and head
// for each triple, ordering candidates by Predict (lowest first). With a
// non-nil known set, candidates forming other known triples are skipped
// (filtered setting). Ties with the true entity count half.
func (m *Analogy) EvaluateLinkPrediction(triples []knowledge.Triple, known KnownSet, hitsAt []int) (Metrics, error) {
	mt := Metrics{Hits: make(map[int]float64, len(hitsAt))}
	for _, k := range hitsAt {
		mt.Hits[k] = 0
	}
	if len(triples) == 0 {
		return mt, nil
	}

	candidates := make([]knowledge.Triple, m.numEntities)
	sumRank, sumInv := 0.0, 0.0

	for _, t := range triples {
		for _, side := range [...]bool{false, true} {
			for e := range candidates {
				c := t
				if side {
					c.Head = int64(e)
				} else {
					c.Tail = int64(e)
				}
				candidates[e] = c
			}
			preds, err := m.Predict(candidates)
			if err != nil {
				return Metrics{}, err
			}

			target := t.Tail
			if side {
				target = t.Head
			}
			rank := rankOf(preds, candidates, int(target), known)

			mt.Ranks++
			sumRank += float64(rank)
			sumInv += 1 / float64(rank)
			for k := range mt.Hits {
				if rank <= k {
					mt.Hits[k]++
				}
			}
		}
	}

	n := float64(mt.Ranks)
	mt.MR = sumRank / n
	mt.MRR = sumInv / n
	for k := range mt.Hits {
		mt.Hits[k] /= n
	}
	return mt, nil
}

// rankOf returns 1 + #better + #ties/2 for candidate target.
func rankOf(preds []float64, candidates []knowledge.Triple, target int, known KnownSet) int {
	want := preds[target]
	better, ties := 0, 0
	for e, p := range preds {
		if e == target {
			continue
		}
		if known != nil && known.Has(candidates[e]) {
			continue
		}
		switch {
		case p < want:
			better++
		case p == want:
			ties++
		}
	}
	return 1 + better + ties/2
}
