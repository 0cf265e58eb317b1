package seq2seq

import (
	"math/rand"
	"time"
)

// ceilDiv returns ceil(a / b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// newRand returns the generator every random decision of a fit is drawn
// from. A nil seed means a time-based one.
func newRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rand.New(rand.NewSource(*seed))
}

// splitIndices shuffles 0..n-1 and holds out round(fraction*n) of them,
// keeping at least one index on each side when n allows it.
func splitIndices(rng *rand.Rand, n int, fraction float64) (train, held []int) {
	perm := rng.Perm(n)
	nHeld := int(fraction*float64(n) + 0.5)
	nHeld = min(max(nHeld, 1), n-1)
	if nHeld <= 0 {
		return perm, nil
	}
	return perm[nHeld:], perm[:nHeld]
}

func selectTexts(texts []string, indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = texts[idx]
	}
	return out
}
