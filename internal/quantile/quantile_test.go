package quantile

import (
	"testing"
	"time"

	"github.com/leaseq/leaseq/internal/test"
)

func TestNilIsNoop(t *testing.T) {
	var q *Quantile
	q.Insert(100)
	test.Equal(t, []float64(nil), q.Result())
	test.Equal(t, "", q.String())
}

func TestResultOrdering(t *testing.T) {
	q := New(time.Minute, []float64{0.5, 0.99})
	for i := int64(1); i <= 100; i++ {
		q.Insert(i)
	}
	result := q.Result()
	test.Equal(t, 2, len(result))
	if result[0] > result[1] {
		t.Fatalf("expected p50 (%v) <= p99 (%v)", result[0], result[1])
	}
}

func TestDisabledWithNoPercentiles(t *testing.T) {
	q := New(time.Minute, nil)
	test.Nil(t, q)
}
