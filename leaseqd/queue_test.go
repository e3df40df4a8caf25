package leaseqd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leaseq/leaseq/internal/test"
)

func TestPurgeResetsChannelsAndBackend(t *testing.T) {
	q := newTestQueue(t)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	c, _ := q.CreateChannel("ch")
	q.Get("ch")

	test.Nil(t, q.Purge())

	test.Equal(t, "ready", q.currentState().String())
	test.Equal(t, MessageID(1), c.tail)
	test.Equal(t, 0, c.inFlight.len())

	id, err := q.Push([]byte("fresh"))
	test.Nil(t, err)
	test.Equal(t, MessageID(1), id)
}

func TestDeleteIsTerminal(t *testing.T) {
	q := newTestQueue(t)
	test.Nil(t, q.Delete())

	_, err := q.Push([]byte("x"))
	if err != ErrQueueDeleting {
		t.Fatalf("expected ErrQueueDeleting, got %v", err)
	}
}

func TestInvalidStateTransitionPanics(t *testing.T) {
	q := newTestQueue(t)
	q.setState(Deleting)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on Deleting -> Ready transition")
		}
	}()
	q.setState(Ready)
}

func TestMaintenanceGCsBelowSmallestRealTail(t *testing.T) {
	q := newTestQueue(t)
	c, _ := q.CreateChannel("ch")
	for i := 0; i < 5; i++ {
		q.Push([]byte("m"))
	}
	for i := 0; i < 3; i++ {
		q.Get("ch")
	}
	q.Ack("ch", 1)
	q.Ack("ch", 2)

	test.Nil(t, q.Maintenance())
	test.Equal(t, MessageID(3), c.realTail())

	fb := q.backend.(*fakeBackend)
	if _, ok := fb.Get(1); ok {
		t.Fatal("expected id 1 to be GC'd")
	}
	if _, ok := fb.Get(3); !ok {
		t.Fatal("expected id 3 (still real_tail) to survive GC")
	}
}

// TestMaintenanceGCSafeAcrossRedelivery guards against GC retiring a
// segment still holding a redelivered-but-unacked id: real_tail must not be
// derived from redelivery order, or a timed-out lease on the oldest id would
// let Maintenance GC it out from under a consumer that still holds it.
func TestMaintenanceGCSafeAcrossRedelivery(t *testing.T) {
	q := newTestQueue(t)
	q.config.TimeToLive = 10
	q.Tick(0)
	c, _ := q.CreateChannel("ch")
	for i := 0; i < 3; i++ {
		q.Push([]byte("m"))
	}
	q.Get("ch") // id1
	q.Get("ch") // id2
	q.Get("ch") // id3

	q.Tick(10)
	_, ok, err := q.Get("ch") // id1 redelivered
	test.Nil(t, err)
	test.Equal(t, true, ok)

	test.Nil(t, q.Maintenance())
	test.Equal(t, MessageID(1), c.realTail())

	fb := q.backend.(*fakeBackend)
	if _, ok := fb.Get(1); !ok {
		t.Fatal("expected id 1 (still unacked, merely redelivered) to survive GC")
	}
}

func TestCheckpointRecoversChannelCursor(t *testing.T) {
	dir, err := os.MkdirTemp("", "leaseqd-recover-")
	test.Nil(t, err)
	defer os.RemoveAll(dir)

	backend := newFakeBackend()
	cfg := NewQueueConfig("recoverme", dir)

	q, err := NewQueue(cfg, fakeBackendFactory(backend), false)
	test.Nil(t, err)

	q.CreateChannel("ch")
	id1, _ := q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Get("ch")
	q.Ack("ch", id1)
	test.Nil(t, q.writeCheckpoint(true))

	if _, err := os.Stat(filepath.Join(dir, queueCheckpointFile)); err != nil {
		t.Fatalf("expected checkpoint file: %v", err)
	}

	q2, err := NewQueue(cfg, fakeBackendFactory(backend), true)
	test.Nil(t, err)

	c2, ok := q2.channel("ch")
	test.Equal(t, true, ok)
	test.Equal(t, MessageID(2), c2.realTail())
}

func TestDiscoverFindsExistingQueues(t *testing.T) {
	dir, err := os.MkdirTemp("", "leaseqd-discover-")
	test.Nil(t, err)
	defer os.RemoveAll(dir)

	sub := filepath.Join(dir, "q1")
	test.Nil(t, os.MkdirAll(sub, 0755))
	cfg := NewQueueConfig("q1", sub)
	q, err := NewQueue(cfg, fakeBackendFactory(nil), false)
	test.Nil(t, err)
	test.Nil(t, q.Close())

	test.Nil(t, os.MkdirAll(filepath.Join(dir, "not-a-queue"), 0755))

	base := NewQueueConfig("", "")
	results, err := Discover(dir, fakeBackendFactory(nil), base)
	test.Nil(t, err)
	test.Equal(t, 1, len(results))
	test.Nil(t, results[0].Err)
	test.Equal(t, "q1", results[0].Name)
}
