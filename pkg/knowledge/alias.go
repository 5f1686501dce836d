package knowledge

import (
	"math"
	"math/rand"
)

// PowerSample is the exponent applied to entity degrees before building the
// noise distribution.
const PowerSample = 0.75

type aliasEntry struct {
	alias int64
	prob  float64
}

// AliasTable supports O(1) weighted sampling (Vose's alias method).
type AliasTable []aliasEntry

// NewAliasTable builds an alias table over weights raised to power.
// All-zero weights yield a uniform table; an empty input yields nil.
func NewAliasTable(weights []float64, power float64) AliasTable {
	n := len(weights)
	if n == 0 {
		return nil
	}

	table := make(AliasTable, n)

	sum := 0.0
	norm := make([]float64, n)
	for i, w := range weights {
		if w > 0 {
			norm[i] = math.Pow(w, power)
		}
		sum += norm[i]
	}

	if sum == 0 {
		for i := range table {
			table[i] = aliasEntry{alias: int64(i), prob: 1.0}
		}
		return table
	}

	for i := range norm {
		norm[i] = norm[i] * float64(n) / sum
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range norm {
		if p < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		table[l] = aliasEntry{alias: int64(g), prob: norm[l]}

		norm[g] = norm[g] + norm[l] - 1.0
		if norm[g] < 1.0 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}

	// leftovers are 1 up to rounding
	for _, g := range large {
		table[g] = aliasEntry{alias: int64(g), prob: 1.0}
	}
	for _, l := range small {
		table[l] = aliasEntry{alias: int64(l), prob: 1.0}
	}

	return table
}

// Sample draws one index, or -1 from an empty table.
func (a AliasTable) Sample(rng *rand.Rand) int64 {
	if len(a) == 0 {
		return -1
	}
	i := rng.Intn(len(a))
	if rng.Float64() < a[i].prob {
		return int64(i)
	}
	return a[i].alias
}
