// Package stats keeps the mean and sample standard deviation over a sliding window of
// signed samples, exactly, using big integer accumulators.
package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window admits every sample until it holds maxSamples of them. From then on a sample is
// admitted only if it lies within maxSpread standard deviations of the mean, and it
// replaces the oldest one.
type Window[T constraints.Signed] struct {
	samples    fifo.Fifo[T]
	sum        big.Int
	sumSq      big.Int
	scratch    [3]big.Int
	maxSamples int
	maxSpread  float64
	mean       T
	stdDev     T
}

func New[T constraints.Signed](maxSamples int, maxSpread float64) *Window[T] {
	return &Window[T]{
		maxSamples: max(maxSamples, 1),
		maxSpread:  maxSpread,
	}
}

// Add offers x to the window and reports whether it was admitted.
func (w *Window[T]) Add(x T) bool {
	if w.Len() >= w.maxSamples {
		if !w.InRange(x) {
			return false
		}
		w.evict()
	}

	v := w.scratch[0].SetInt64(int64(x))
	w.sum.Add(&w.sum, v)
	w.sumSq.Add(&w.sumSq, v.Mul(v, v))
	w.samples.Enqueue(x)
	w.update()
	return true
}

func (w *Window[T]) InRange(x T) bool {
	spread := T(float64(w.stdDev) * w.maxSpread)
	return x >= w.mean-spread && x <= w.mean+spread
}

func (w *Window[T]) evict() {
	x, ok := w.samples.Dequeue()
	if !ok {
		return
	}
	v := w.scratch[0].SetInt64(int64(x))
	w.sum.Sub(&w.sum, v)
	w.sumSq.Sub(&w.sumSq, v.Mul(v, v))
}

func (w *Window[T]) update() {
	n := int64(w.Len())
	count, num, den := &w.scratch[0], &w.scratch[1], &w.scratch[2]

	count.SetInt64(n)
	w.mean = T(num.Quo(&w.sum, count).Int64())

	if n < 2 {
		w.stdDev = 0
		return
	}
	// variance = (n*sumSq - sum*sum) / (n*(n-1))
	num.Sub(num.Mul(count, &w.sumSq), den.Mul(&w.sum, &w.sum))
	den.Mul(count, den.SetInt64(n-1))
	w.stdDev = T(num.Quo(num, den).Sqrt(num).Int64())
}

func (w *Window[T]) Len() int {
	return w.samples.Len()
}

func (w *Window[T]) Mean() T {
	return w.mean
}

func (w *Window[T]) StdDev() T {
	return w.stdDev
}
