// Package quantile tracks a sliding-window percentile distribution, built
// on top of bmizerany/perks/quantile's targeted streaming estimator. It
// generalizes the teacher's per-channel e2e latency tracking into a
// reusable type for leaseqd's lease-latency stats.
package quantile

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bmizerany/perks/quantile"
)

const numBuckets = 4

// Quantile maintains a rotating window of quantile.Stream buckets so that
// Result() reflects recent activity rather than the lifetime of the
// process. A nil *Quantile is valid and a no-op, so callers can embed one
// optionally (as leaseqd's Channel does) without a separate enabled flag.
type Quantile struct {
	mu sync.Mutex

	streams        []*quantile.Stream
	currentBucket  int
	bucketDuration time.Duration
	lastRotate     time.Time

	Percentiles []float64
}

// New returns a Quantile tracking the given percentiles (e.g. []float64{0.5,
// 0.95, 0.99}) over the given sliding window. It returns nil if no
// percentiles were requested, so tracking can be disabled by configuration.
func New(windowTime time.Duration, percentiles []float64) *Quantile {
	if len(percentiles) == 0 {
		return nil
	}

	q := &Quantile{
		streams:     make([]*quantile.Stream, numBuckets),
		lastRotate:  time.Now(),
		Percentiles: percentiles,
	}
	if windowTime > 0 {
		q.bucketDuration = windowTime / numBuckets
	}
	for i := range q.streams {
		q.streams[i] = quantile.NewTargeted(percentiles...)
	}
	return q
}

// Insert records a new observation (typically a duration in microseconds).
func (q *Quantile) Insert(v int64) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rotateIfDue()
	q.streams[q.currentBucket].Insert(float64(v))
}

func (q *Quantile) rotateIfDue() {
	if q.bucketDuration <= 0 || time.Since(q.lastRotate) < q.bucketDuration {
		return
	}
	q.currentBucket = (q.currentBucket + 1) % numBuckets
	q.streams[q.currentBucket].Reset()
	q.lastRotate = time.Now()
}

// Result returns one value per configured percentile, merged across all
// live buckets.
func (q *Quantile) Result() []float64 {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := quantile.NewTargeted(q.Percentiles...)
	for _, s := range q.streams {
		merged.Merge(s.Samples())
	}

	result := make([]float64, len(q.Percentiles))
	for i, p := range q.Percentiles {
		v := merged.Query(p)
		if math.IsNaN(v) {
			v = 0
		}
		result[i] = v
	}
	return result
}

func (q *Quantile) String() string {
	if q == nil {
		return ""
	}
	result := q.Result()
	s := ""
	for i, p := range q.Percentiles {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%.0f%%=%.0fus", p*100, result[i])
	}
	return s
}
