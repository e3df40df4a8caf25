package leaseqd

import "sync"

// fakeBackend is an in-memory BackendQueue, defined directly in an
// internal test file (package leaseqd, not leaseqd_test) so Channel/Queue
// unit tests avoid both real disk I/O and an import cycle with
// leaseqd/segment. Mirrors the teacher's own style of fake-implementing a
// narrow interface inline in a _test.go file rather than reaching for a
// mocking library.
type fakeBackend struct {
	mu       sync.Mutex
	messages map[MessageID]*Message
	nextID   MessageID
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[MessageID]*Message), nextID: 1}
}

func fakeBackendFactory(recorded *fakeBackend) BackendFactory {
	return func(cfg *QueueConfig, recover bool) (BackendQueue, error) {
		if recorded != nil {
			return recorded, nil
		}
		return newFakeBackend(), nil
	}
}

func (b *fakeBackend) Push(clock uint32, payload []byte) (MessageID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.messages[id] = &Message{ID: id, Body: cp, Timestamp: clock}
	return id, nil
}

func (b *fakeBackend) Get(id MessageID) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	return m, ok
}

func (b *fakeBackend) Tail() MessageID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

func (b *fakeBackend) GC(smallestLive MessageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.messages {
		if id < smallestLive {
			delete(b.messages, id)
		}
	}
	return nil
}

func (b *fakeBackend) Purge() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make(map[MessageID]*Message)
	b.nextID = 1
	return nil
}

func (b *fakeBackend) Delete() error {
	return b.Purge()
}

func (b *fakeBackend) Checkpoint(full bool) error { return nil }

func (b *fakeBackend) FilesCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return 0
	}
	return 1
}

func (b *fakeBackend) Close() error { return nil }
