package leaseqd

// MessageID is the monotonic, dense, strictly-increasing id a Backend
// assigns to a pushed message. Ids are never reused except by Purge,
// which resets the backend's counter back to 1.
type MessageID uint64

// Message is an opaque payload plus the id and clock value it was pushed
// with. The core never interprets Body.
type Message struct {
	ID        MessageID
	Body      []byte
	Timestamp uint32 // queue clock (seconds) at the time of Push
}

// BackendQueue is the external segment backend spec §6.1 scopes out of the
// core's own specification: file layout, mmap strategy, and byte offsets
// are entirely the implementer's concern. The core depends on exactly this
// surface and nothing else.
type BackendQueue interface {
	// Push appends payload, stamped with clock, and returns its new id.
	// Calls are serialized by the Queue's write lock.
	Push(clock uint32, payload []byte) (MessageID, error)

	// Get performs a random read by id. Must be safe to call concurrently
	// with Push.
	Get(id MessageID) (*Message, bool)

	// Tail returns 1 + the highest id ever assigned, or 1 if empty.
	Tail() MessageID

	// GC retires any segment whose entire id range is below smallestLive.
	// It never touches the currently open write segment.
	GC(smallestLive MessageID) error

	// Purge drops all segments and resets the id counter to start at 1.
	Purge() error

	// Delete drops all segments and any backing files.
	Delete() error

	// Checkpoint flushes backend metadata; full implies fsync.
	Checkpoint(full bool) error

	// FilesCount is observability-only, used by maintenance/GC tests.
	FilesCount() int

	Close() error
}

// BackendFactory opens or recovers a BackendQueue under cfg.DataDirectory.
// NewQueue takes one as a parameter rather than importing a concrete
// backend directly, so the core has no import-time dependency on any one
// segment file format (the reference implementation lives in
// leaseqd/segment and is wired in by callers, e.g. apps/leaseqd).
type BackendFactory func(cfg *QueueConfig, recover bool) (BackendQueue, error)
