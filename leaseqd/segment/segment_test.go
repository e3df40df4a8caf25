package segment

import (
	"os"
	"testing"
	"time"

	"github.com/leaseq/leaseq/internal/test"
	"github.com/leaseq/leaseq/leaseqd"
)

func newTestBackend(t *testing.T, maxBytesPerFile int64) (*Backend, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "segment-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	b, err := Open("test", dir, maxBytesPerFile, 2500, time.Second, false, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b, dir
}

func TestPushGetRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t, 1<<20)

	id, err := b.Push(100, []byte("hello world"))
	test.Nil(t, err)
	test.Equal(t, true, id > 0)

	msg, ok := b.Get(id)
	test.Equal(t, true, ok)
	test.Equal(t, "hello world", string(msg.Body))
	test.Equal(t, uint32(100), msg.Timestamp)
}

func TestSegmentRotation(t *testing.T) {
	b, _ := newTestBackend(t, recordHeaderSize+16)

	id1, err := b.Push(1, []byte("first message"))
	test.Nil(t, err)
	id2, err := b.Push(2, []byte("second message"))
	test.Nil(t, err)

	test.Equal(t, true, b.FilesCount() >= 2)

	m1, ok := b.Get(id1)
	test.Equal(t, true, ok)
	test.Equal(t, "first message", string(m1.Body))

	m2, ok := b.Get(id2)
	test.Equal(t, true, ok)
	test.Equal(t, "second message", string(m2.Body))
}

func TestGCRetiresOldSegments(t *testing.T) {
	b, _ := newTestBackend(t, recordHeaderSize+8)

	var lastID uint64
	for i := 0; i < 5; i++ {
		id, err := b.Push(uint32(i), []byte("msg"))
		test.Nil(t, err)
		lastID = uint64(id)
	}

	filesBefore := b.FilesCount()
	test.Nil(t, b.GC(5))
	if b.FilesCount() >= filesBefore {
		t.Fatalf("expected GC to retire at least one file, before=%d after=%d", filesBefore, b.FilesCount())
	}

	_, ok := b.Get(1)
	test.Equal(t, false, ok)

	m, ok := b.Get(5)
	test.Equal(t, true, ok)
	test.Equal(t, "msg", string(m.Body))
	_ = lastID
}

func TestPurgeResetsIDCounter(t *testing.T) {
	b, _ := newTestBackend(t, 1<<20)
	b.Push(1, []byte("a"))
	b.Push(2, []byte("b"))

	test.Nil(t, b.Purge())
	test.Equal(t, 1, b.FilesCount())
	test.Equal(t, leaseqd.MessageID(1), b.Tail())

	id, err := b.Push(3, []byte("fresh"))
	test.Nil(t, err)
	test.Equal(t, true, id == 1)
}

// TestFreshOpenErasesExistingSegments guards against a fresh create
// silently resurrecting a prior occupant's log: opening with recover=false
// over a directory that already holds segment files must erase them and
// start the id sequence back at 1, not recover the old data.
func TestFreshOpenErasesExistingSegments(t *testing.T) {
	dir, err := os.MkdirTemp("", "segment-fresh-")
	test.Nil(t, err)
	defer os.RemoveAll(dir)

	b, err := Open("reused", dir, 1<<20, 2500, time.Second, false, nil, 0)
	test.Nil(t, err)
	oldID, err := b.Push(1, []byte("stale"))
	test.Nil(t, err)
	test.Nil(t, b.Checkpoint(true))
	test.Nil(t, b.Close())

	b2, err := Open("reused", dir, 1<<20, 2500, time.Second, false, nil, 0)
	test.Nil(t, err)
	defer b2.Close()

	if _, ok := b2.Get(oldID); ok {
		t.Fatal("expected stale message to be erased on fresh open")
	}

	freshID, err := b2.Push(2, []byte("new"))
	test.Nil(t, err)
	test.Equal(t, oldID, freshID)
}

func TestRecoverRebuildsIndex(t *testing.T) {
	dir, err := os.MkdirTemp("", "segment-recover-")
	test.Nil(t, err)
	defer os.RemoveAll(dir)

	b, err := Open("recoverme", dir, 1<<20, 2500, time.Second, false, nil, 0)
	test.Nil(t, err)
	id, err := b.Push(1, []byte("durable"))
	test.Nil(t, err)
	test.Nil(t, b.Checkpoint(true))
	test.Nil(t, b.Close())

	b2, err := Open("recoverme", dir, 1<<20, 2500, time.Second, true, nil, 0)
	test.Nil(t, err)
	defer b2.Close()

	msg, ok := b2.Get(id)
	test.Equal(t, true, ok)
	test.Equal(t, "durable", string(msg.Body))

	nextID, err := b2.Push(2, []byte("after-recovery"))
	test.Nil(t, err)
	if nextID <= id {
		t.Fatalf("expected id after recovery (%d) to continue past %d", nextID, id)
	}
}
