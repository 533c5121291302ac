package aggregate

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/surgeworks/stampede/pkg/types"
)

// reservoirSize bounds per-metric memory regardless of run length
const reservoirSize = 10000

// accumulator folds an unbounded sample stream into constant-space
// statistics: count/sum/min/max, a Welford running mean, and a uniform
// reservoir for percentile estimation.
type accumulator struct {
	count     int64
	sum       float64
	min       float64
	max       float64
	mean      float64
	reservoir []float64
	rng       *rand.Rand
}

// newAccumulator seeds the reservoir RNG from the metric name so repeated
// aggregation of the same input yields identical output.
func newAccumulator(metric string) *accumulator {
	h := fnv.New64a()
	h.Write([]byte(metric))
	return &accumulator{
		min: math.Inf(1),
		max: math.Inf(-1),
		rng: rand.New(rand.NewSource(int64(h.Sum64()))),
	}
}

func (a *accumulator) add(v float64) {
	a.count++
	a.sum += v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}

	// Welford running mean
	a.mean += (v - a.mean) / float64(a.count)

	// Algorithm R: every sample survives with probability size/count
	if len(a.reservoir) < reservoirSize {
		a.reservoir = append(a.reservoir, v)
	} else if j := a.rng.Int63n(a.count); j < reservoirSize {
		a.reservoir[j] = v
	}
}

// stats freezes the accumulator into SeriesStats. The preserved reservoir is
// sorted so serialization is deterministic.
func (a *accumulator) stats() *types.SeriesStats {
	if a.count == 0 {
		return &types.SeriesStats{}
	}

	sorted := make([]float64, len(a.reservoir))
	copy(sorted, a.reservoir)
	sort.Float64s(sorted)

	return &types.SeriesStats{
		Count: a.count,
		Sum:   a.sum,
		Min:   a.min,
		Max:   a.max,
		Mean:  a.mean,
		Percentiles: types.Percentiles{
			P50: percentile(sorted, 50),
			P75: percentile(sorted, 75),
			P90: percentile(sorted, 90),
			P95: percentile(sorted, 95),
			P99: percentile(sorted, 99),
		},
		SamplesPreserved: sorted,
	}
}

// percentile interpolates linearly between the two nearest ranks of a
// sorted sample
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
