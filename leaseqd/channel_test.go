package leaseqd

import (
	"os"
	"testing"

	"github.com/leaseq/leaseq/internal/test"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir, err := os.MkdirTemp("", "leaseqd-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := NewQueueConfig("test", dir)
	q, err := NewQueue(cfg, fakeBackendFactory(nil), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestChannelGetAckBasic(t *testing.T) {
	q := newTestQueue(t)
	c, err := q.CreateChannel("ch")
	test.Nil(t, err)

	id1, err := q.Push([]byte("one"))
	test.Nil(t, err)
	id2, err := q.Push([]byte("two"))
	test.Nil(t, err)

	msg, ok, err := q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, true, ok)
	test.Equal(t, id1, msg.ID)

	msg2, ok, err := q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, true, ok)
	test.Equal(t, id2, msg2.ID)

	_, ok, err = q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, false, ok)

	acked, err := q.Ack("ch", id1)
	test.Nil(t, err)
	test.Equal(t, true, acked)

	test.Equal(t, id2, c.realTail())
}

func TestChannelRedeliveryOnExpiry(t *testing.T) {
	q := newTestQueue(t)
	q.config.TimeToLive = 5
	q.Tick(100)

	_, err := q.CreateChannel("ch")
	test.Nil(t, err)

	id, err := q.Push([]byte("payload"))
	test.Nil(t, err)

	msg, ok, err := q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, true, ok)
	test.Equal(t, id, msg.ID)

	// lease has not expired yet; no fresh or redelivered message available
	q.Tick(103)
	_, ok, err = q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, false, ok)

	// lease expires, same id is redelivered
	q.Tick(106)
	msg2, ok, err := q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, true, ok)
	test.Equal(t, id, msg2.ID)
}

func TestChannelDoubleAckIsNoop(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.CreateChannel("ch")
	test.Nil(t, err)
	id, err := q.Push([]byte("x"))
	test.Nil(t, err)

	_, _, err = q.Get("ch")
	test.Nil(t, err)

	ok, err := q.Ack("ch", id)
	test.Nil(t, err)
	test.Equal(t, true, ok)

	ok, err = q.Ack("ch", id)
	test.Nil(t, err)
	test.Equal(t, false, ok)
}

func TestRealTailTracksOldestUnacked(t *testing.T) {
	q := newTestQueue(t)
	c, _ := q.CreateChannel("ch")
	id1, _ := q.Push([]byte("a"))
	id2, _ := q.Push([]byte("b"))

	q.Get("ch")
	q.Get("ch")
	test.Equal(t, id1, c.realTail())

	q.Ack("ch", id1)
	test.Equal(t, id2, c.realTail())

	q.Ack("ch", id2)
	test.Equal(t, c.tail, c.realTail())
}

// TestRealTailSurvivesRedelivery is the scenario a redelivery-naive
// real_tail would get wrong: id 1 is leased first, then later redelivered
// (which bumps its place in redelivery order) while still unacked. Despite
// the redelivery, real_tail must stay at 1 until 1 itself is acked — it must
// never jump to 2 just because 1 was re-leased.
func TestRealTailSurvivesRedelivery(t *testing.T) {
	q := newTestQueue(t)
	q.config.TimeToLive = 10
	q.Tick(0)
	c, _ := q.CreateChannel("ch")

	id1, _ := q.Push([]byte("a"))
	q.Tick(1)
	id2, _ := q.Push([]byte("b"))
	q.Tick(2)
	id3, _ := q.Push([]byte("c"))

	q.Tick(0)
	q.Get("ch") // leases id1 at t=0, expires at t=10
	q.Tick(1)
	q.Get("ch") // leases id2 at t=1, expires at t=11
	q.Tick(2)
	q.Get("ch") // leases id3 at t=2, expires at t=12

	test.Equal(t, id1, c.realTail())

	// id1's lease expires and it is redelivered; ids 1, 2 and 3 are all
	// still unacked, so real_tail must remain 1, not advance to 2.
	q.Tick(10)
	msg, ok, err := q.Get("ch")
	test.Nil(t, err)
	test.Equal(t, true, ok)
	test.Equal(t, id1, msg.ID)
	test.Equal(t, id1, c.realTail())

	q.Ack("ch", id1)
	test.Equal(t, id2, c.realTail())
}
