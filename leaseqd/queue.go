package leaseqd

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitly/timer_metrics"
)

// State is the three-value lifecycle spec §3 assigns to a Queue.
type State int

const (
	Ready State = iota
	Purging
	Deleting
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Purging:
		return "purging"
	case Deleting:
		return "deleting"
	default:
		return "unknown"
	}
}

func parseState(s string) (State, bool) {
	switch s {
	case "ready":
		return Ready, true
	case "purging":
		return Purging, true
	case "deleting":
		return Deleting, true
	default:
		return Ready, false
	}
}

// Queue is a single named, disk-backed message queue (spec §2): one shared
// backend tail, fanned out to zero or more named Channels each tracking
// its own independent read cursor.
//
// Lock hierarchy, narrowest scope last, mirroring spec §5: backendWLock
// serializes Push and is held exclusively by Purge/Delete; backendRLock is
// held shared by Get/Ack/Maintenance and exclusively by Purge/Delete;
// channelsLock guards the channel table; each Channel has its own mtx.
// Push, Get and Maintenance take the state lock only long enough to read
// the current state; Ack and Tick never take it.
type Queue struct {
	name   string
	config *QueueConfig

	backendWLock sync.Mutex
	backendRLock sync.RWMutex
	backend      BackendQueue

	channelsLock sync.RWMutex
	channels     map[string]*Channel

	clock atomic.Uint32

	stateLock sync.Mutex
	state     State

	tm *timer_metrics.TimerMetrics

	exitFlag int32
}

// NewQueue creates or recovers a queue under cfg.DataDirectory, using
// factory to open the backend. recover replays an existing checkpoint
// (Discover passes true); a false value starts with no channels, as
// apps/leaseqd's getOrCreateQueue uses for a queue it creates fresh.
func NewQueue(cfg *QueueConfig, factory BackendFactory, recover bool) (*Queue, error) {
	backend, err := factory(cfg, recover)
	if err != nil {
		return nil, fmt.Errorf("leaseqd: opening backend for %q: %w", cfg.Name, err)
	}

	q := &Queue{
		name:     cfg.Name,
		config:   cfg,
		backend:  backend,
		channels: make(map[string]*Channel),
		state:    Ready,
		tm:       timer_metrics.NewTimerMetrics(time.Minute, fmt.Sprintf("[%s]", cfg.Name)),
	}
	q.clock.Store(uint32(time.Now().Unix()))

	if recover {
		if err := q.recoverCheckpoint(); err != nil {
			backend.Close()
			return nil, err
		}
	} else {
		// Checkpoint I/O failures are logged, not propagated (spec §7): the
		// queue still comes up, and a later checkpoint may succeed.
		if err := q.writeCheckpoint(true); err != nil {
			q.logf(LOG_WARN, "checkpoint: writing initial checkpoint: %v", err)
		}
	}

	return q, nil
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) currentState() State {
	q.stateLock.Lock()
	defer q.stateLock.Unlock()
	return q.state
}

// setState enforces spec §3's transition table: Ready<->Purging, and
// Ready|Purging -> Deleting as a terminal sink; Ready -> Ready and
// Deleting -> Deleting are accepted as no-ops. Any other requested
// transition is a programming error in the caller, not a recoverable
// fault, so it panics rather than returning an error — mirroring the
// original's panic!-on-bad-transition behavior (spec §3, Open Question resolved
// in favor of keeping the panic rather than softening it to an error).
func (q *Queue) setState(next State) {
	q.stateLock.Lock()
	defer q.stateLock.Unlock()

	ok := false
	switch q.state {
	case Ready:
		ok = next == Ready || next == Purging || next == Deleting
	case Purging:
		ok = next == Ready || next == Deleting
	case Deleting:
		ok = next == Deleting
	}
	if !ok {
		panicInvariant("queue %q: invalid state transition %s -> %s", q.name, q.state, next)
	}
	q.state = next
}

func (q *Queue) backendTail() MessageID {
	q.backendRLock.RLock()
	defer q.backendRLock.RUnlock()
	return q.backend.Tail()
}

// CreateChannel returns the named channel, creating it fresh (tail set to
// the backend's current head, so a new channel never sees history) if it
// does not already exist.
func (q *Queue) CreateChannel(name string) (*Channel, error) {
	q.channelsLock.Lock()
	defer q.channelsLock.Unlock()

	if c, ok := q.channels[name]; ok {
		return c, nil
	}
	c := newChannel(q, name, q.backendTail(), q.clock.Load())
	q.channels[name] = c
	q.logf(LOG_INFO, "CHANNEL(%s): created", name)
	return c, nil
}

func (q *Queue) DeleteChannel(name string) error {
	q.channelsLock.Lock()
	defer q.channelsLock.Unlock()

	if _, ok := q.channels[name]; !ok {
		return fmt.Errorf("leaseqd: channel %q not found", name)
	}
	delete(q.channels, name)
	q.logf(LOG_INFO, "CHANNEL(%s): deleted", name)
	return nil
}

func (q *Queue) channel(name string) (*Channel, bool) {
	q.channelsLock.RLock()
	defer q.channelsLock.RUnlock()
	c, ok := q.channels[name]
	return c, ok
}

// Push appends payload to the backend, stamped with the queue's cached
// clock. It is serialized against Purge/Delete by backendWLock and never
// blocks on channelsLock or any Channel's mtx.
func (q *Queue) Push(payload []byte) (MessageID, error) {
	if q.currentState() == Deleting {
		return 0, ErrQueueDeleting
	}

	q.backendWLock.Lock()
	defer q.backendWLock.Unlock()

	id, err := q.backend.Push(q.clock.Load(), payload)
	if err != nil {
		return 0, fmt.Errorf("leaseqd: push: %w", err)
	}
	return id, nil
}

// Get leases the next message available on the named channel: either an
// unseen message at the shared tail, or the oldest expired redelivery.
// The returned bool reports availability. A redelivery is logged at debug
// level; the return values do not distinguish it from a first delivery.
func (q *Queue) Get(channelName string) (*Message, bool, error) {
	if q.currentState() != Ready {
		return nil, false, nil
	}

	c, ok := q.channel(channelName)
	if !ok {
		return nil, false, fmt.Errorf("leaseqd: channel %q not found", channelName)
	}

	q.backendRLock.RLock()
	defer q.backendRLock.RUnlock()

	now := q.clock.Load()
	id, available, wasRedelivered := c.get(now, q.config.TimeToLive, q.backend.Tail())
	if !available {
		return nil, false, nil
	}

	msg, ok := q.backend.Get(id)
	if !ok {
		panicInvariant("channel %q: leased id %d missing from backend", channelName, id)
	}
	if wasRedelivered {
		q.logf(LOG_DEBUG, "CHANNEL(%s): redelivering id %d", channelName, id)
	}
	return msg, true, nil
}

// Ack releases id's lease on the named channel. A false return means id
// was not (or no longer) in flight; this is not treated as an error since
// duplicate acks are an expected side effect of redelivery races.
func (q *Queue) Ack(channelName string, id MessageID) (bool, error) {
	c, ok := q.channel(channelName)
	if !ok {
		return false, fmt.Errorf("leaseqd: channel %q not found", channelName)
	}

	q.backendRLock.RLock()
	defer q.backendRLock.RUnlock()

	return c.ack(q.clock.Load(), id), nil
}

// Purge empties the queue and every channel's cursor while leaving it
// usable: Ready -> Purging for the duration of the backend reset, then
// back to Ready. Push and Ack block on backendWLock/backendRLock for the
// duration rather than failing, since the transition is expected to be
// fast relative to a lease TTL; a Get made while the state is Purging
// returns no message.
func (q *Queue) Purge() error {
	q.setState(Purging)
	defer q.setState(Ready)

	q.backendWLock.Lock()
	defer q.backendWLock.Unlock()
	q.backendRLock.Lock()
	defer q.backendRLock.Unlock()

	if err := q.backend.Purge(); err != nil {
		return fmt.Errorf("leaseqd: purge: %w", err)
	}

	now := q.clock.Load()
	q.channelsLock.RLock()
	for _, c := range q.channels {
		c.resetForPurge(now)
	}
	q.channelsLock.RUnlock()

	// Back to Ready before checkpointing, so the file records the finished
	// purge rather than a Purging state that recovery would run again.
	q.setState(Ready)

	// Checkpoint I/O failures are logged, not propagated (spec §7): the
	// purge itself already succeeded, so a transient disk error here
	// should not be reported as a failed Purge.
	if err := q.writeCheckpoint(true); err != nil {
		q.logf(LOG_WARN, "checkpoint: writing after purge: %v", err)
	}
	return nil
}

// Delete is terminal: Ready|Purging -> Deleting, after which every other
// method on this Queue must refuse new work. The caller is responsible
// for removing the Queue from whatever registry holds it.
func (q *Queue) Delete() error {
	q.setState(Deleting)

	q.backendWLock.Lock()
	defer q.backendWLock.Unlock()
	q.backendRLock.Lock()
	defer q.backendRLock.Unlock()

	if err := q.backend.Delete(); err != nil {
		return fmt.Errorf("leaseqd: delete: %w", err)
	}
	return q.removeCheckpoint()
}

// Maintenance runs the periodic GC pass (spec §4.3): the backend may
// retire any segment wholly below the minimum real_tail across every
// channel, since no channel still needs those ids. A queue with zero
// channels is never GC'd, matching the original's treatment of an
// untouched queue as all-history-retained until a channel exists.
func (q *Queue) Maintenance() error {
	if q.currentState() != Ready {
		return nil
	}

	q.channelsLock.RLock()
	var smallestLive MessageID
	first := true
	for _, c := range q.channels {
		rt := c.realTail()
		if first || rt < smallestLive {
			smallestLive = rt
			first = false
		}
	}
	q.channelsLock.RUnlock()

	if first {
		return nil
	}

	start := time.Now()

	q.backendRLock.RLock()
	defer q.backendRLock.RUnlock()

	if err := q.backend.GC(smallestLive); err != nil {
		return fmt.Errorf("leaseqd: gc: %w", err)
	}
	q.logf(LOG_DEBUG, "GC: smallest_live=%d files=%d", smallestLive, q.backend.FilesCount())
	q.tm.Status(start)

	// Checkpoint I/O failures are logged, not propagated (spec §7): a queue
	// that can GC but not checkpoint should keep running rather than stop
	// maintenance entirely over a transient disk error.
	if err := q.writeCheckpoint(false); err != nil {
		q.logf(LOG_WARN, "checkpoint: writing after maintenance: %v", err)
	}
	return nil
}

// Tick advances the queue's cached clock. Callers (apps/leaseqd's
// maintenance loop) drive this on a fixed interval; Get/Ack never read
// the wall clock themselves so that lease expiry stays deterministic
// under test.
func (q *Queue) Tick(now uint32) {
	q.clock.Store(now)
}

func (q *Queue) Close() error {
	if !atomic.CompareAndSwapInt32(&q.exitFlag, 0, 1) {
		return nil
	}
	if err := q.writeCheckpoint(true); err != nil {
		q.logf(LOG_WARN, "checkpoint: writing on close: %v", err)
	}
	return q.backend.Close()
}
