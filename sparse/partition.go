package sparse

import (
	"github.com/gomlx/exceptions"
)

// partitionAlign is the granularity row boundaries are rounded to. It matches
// the row pitch alignment of the padded-width layout, so every device strip
// starts on an aligned row.
const partitionAlign = 16

// Partition splits n rows as evenly as possible into deviceCount contiguous
// ranges, returning deviceCount+1 non-decreasing boundaries with the first 0 and
// the last n. Boundaries are aligned to partitionAlign; a device may receive an
// empty range.
func Partition(n, deviceCount int) []int {
	if n < 0 || deviceCount <= 0 {
		exceptions.Panicf("sparse.Partition: invalid n=%d, deviceCount=%d", n, deviceCount)
	}
	part := make([]int, deviceCount+1)
	if deviceCount > 1 {
		for d := 1; d < deviceCount; d++ {
			part[d] = min(n, alignUp(n*d/deviceCount, partitionAlign))
		}
	}
	part[deviceCount] = n
	return part
}

// PartitionWeighted splits n rows proportionally to the given per-device
// weights (e.g. measured device throughput). Boundaries are aligned to
// partitionAlign and clamped to n, with the final boundary forced to n
// regardless of rounding. Non-positive or all-zero weights fall back to an
// even split.
func PartitionWeighted(n int, weights []float64) []int {
	if n < 0 || len(weights) == 0 {
		exceptions.Panicf("sparse.PartitionWeighted: invalid n=%d, %d weights", n, len(weights))
	}
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return Partition(n, len(weights))
	}
	part := make([]int, len(weights)+1)
	var cum float64
	for d := 0; d < len(weights)-1; d++ {
		if weights[d] > 0 {
			cum += weights[d]
		}
		part[d+1] = min(n, alignUp(int(float64(n)*cum/total), partitionAlign))
	}
	part[len(weights)] = n
	return part
}
