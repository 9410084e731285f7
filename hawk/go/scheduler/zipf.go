package scheduler

import (
	"math"

	"go.pixelhawk.org/hawk/hawk/go/store"
)

// QueueSizes splits m tiles into temperature queue sizes following a Zipf
// distribution: the hottest queue (first entry) is the smallest, so its tiles
// are revisited most often. The number of queues is the largest for which the
// hottest queue still holds at least minHottest tiles; the coldest queue
// absorbs the rounding residual. Fewer than minHottest tiles yield a single
// queue.
func QueueSizes(m, minHottest int) []int {
	if m <= 0 {
		return nil
	}
	if m < minHottest {
		return []int{m}
	}
	n := 1
	for cand := 2; cand <= store.MaxTemperature; cand++ {
		if hottestSize(m, cand) < minHottest {
			break
		}
		n = cand
	}
	sizes := make([]int, n)
	total := 0
	for i := 0; i < n-1; i++ {
		sizes[i] = bucketSize(m, n, i)
		total += sizes[i]
	}
	sizes[n-1] = m - total
	return sizes
}

// bucketSize returns the size of bucket i (0 = hottest) when splitting m
// tiles into n queues. Bucket i carries Zipf weight 1/(n-i) normalized by the
// nth harmonic number, rounded up.
func bucketSize(m, n, i int) int {
	return int(math.Ceil(float64(m) / (float64(n-i) * harmonic(n))))
}

func hottestSize(m, n int) int {
	return bucketSize(m, n, 0)
}

func harmonic(n int) float64 {
	h := 0.0
	for k := 1; k <= n; k++ {
		h += 1.0 / float64(k)
	}
	return h
}
