package predict

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// survival answers conditional questions about a session that has lasted elapsed minutes.
type survival interface {
	// remainingQuantile is the p-quantile of the remaining minutes given survival to elapsed.
	remainingQuantile(elapsed, p float64) float64
	// conditional is S(elapsed+h) / S(elapsed).
	conditional(elapsed, h float64) float64
}

// empirical is the survival function of a sorted duration sample.
type empirical struct {
	durations []float64
}

func newEmpirical(durations []float64) *empirical {
	d := append([]float64(nil), durations...)
	sort.Float64s(d)
	return &empirical{durations: d}
}

// surviving counts sessions lasting longer than t.
func (e *empirical) surviving(t float64) int {
	return len(e.durations) - sort.Search(len(e.durations), func(i int) bool { return e.durations[i] > t })
}

func (e *empirical) remainingQuantile(elapsed, p float64) float64 {
	start := len(e.durations) - e.surviving(elapsed)
	if start >= len(e.durations) {
		return 0
	}
	remaining := make([]float64, 0, len(e.durations)-start)
	for _, d := range e.durations[start:] {
		remaining = append(remaining, d-elapsed)
	}
	return stat.Quantile(p, stat.Empirical, remaining, nil)
}

func (e *empirical) conditional(elapsed, h float64) float64 {
	base := e.surviving(elapsed)
	if base == 0 {
		return 0
	}
	return float64(e.surviving(elapsed+h)) / float64(base)
}

func (e *empirical) mean() float64 {
	return stat.Mean(e.durations, nil)
}

// exponential is the memoryless default used when there is no history at all.
type exponential struct {
	lambda float64
}

func newExponential(medianMinutes float64) exponential {
	return exponential{lambda: math.Ln2 / medianMinutes}
}

func (x exponential) remainingQuantile(_, p float64) float64 {
	return -math.Log(1-p) / x.lambda
}

func (x exponential) conditional(_, h float64) float64 {
	return math.Exp(-x.lambda * h)
}
