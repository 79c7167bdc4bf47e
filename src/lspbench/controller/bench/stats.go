package bench

import (
	"math"
	"sort"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/lspbench/lspbench/src/lspbench/mapper"
)

// computeStats derives the order statistics over the measured elapsed
// values using nearest-rank selection: p50 at index ⌊(n−1)/2⌋ and p95 at
// index ⌈0.95·n⌉−1, clamped to the last element.
func computeStats(samples []float64) entity.LatencyStats {
	n := len(samples)
	if n == 0 {
		return entity.LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	p95Index := int(math.Ceil(0.95*float64(n))) - 1
	if p95Index < 0 {
		p95Index = 0
	}
	if p95Index > n-1 {
		p95Index = n - 1
	}

	return entity.LatencyStats{
		Mean: mapper.Round2(sum / float64(n)),
		P50:  mapper.Round2(sorted[(n-1)/2]),
		P95:  mapper.Round2(sorted[p95Index]),
		Min:  mapper.Round2(sorted[0]),
		Max:  mapper.Round2(sorted[n-1]),
	}
}
