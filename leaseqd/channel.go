package leaseqd

import (
	"sync"

	"github.com/leaseq/leaseq/internal/pqueue"
	"github.com/leaseq/leaseq/internal/quantile"
)

// inFlightEntry is one leased-but-unacked message. Redelivery order comes
// from inFlightPQ (keyed on expiresAt) and real_tail order comes from
// realTailPQ (keyed on id); inFlightList itself is just the byID lookup
// both of those heaps lazily validate entries against.
type inFlightEntry struct {
	id         MessageID
	leasedAt   uint32
	expiresAt  uint32
	deliveries uint32
}

// inFlightList is a thin keyed map over in-flight leases. No library in
// the pack covers this narrow a need (O(1) lookup/insert/delete by id, no
// ordering of its own), so it stays hand-rolled, the same convention NSQ
// uses for its own array-backed pqueue instead of container/heap.
type inFlightList struct {
	byID map[MessageID]*inFlightEntry
}

func newInFlightList() *inFlightList {
	return &inFlightList{byID: make(map[MessageID]*inFlightEntry)}
}

func (l *inFlightList) len() int { return len(l.byID) }

func (l *inFlightList) get(id MessageID) (*inFlightEntry, bool) {
	e, ok := l.byID[id]
	return e, ok
}

// lease adds a fresh lease for id, or re-leases one already in flight,
// bumping its expiry and delivery count in place.
func (l *inFlightList) lease(id MessageID, now, expiresAt uint32) *inFlightEntry {
	if e, ok := l.byID[id]; ok {
		e.leasedAt = now
		e.expiresAt = expiresAt
		e.deliveries++
		return e
	}
	e := &inFlightEntry{id: id, leasedAt: now, expiresAt: expiresAt, deliveries: 1}
	l.byID[id] = e
	return e
}

func (l *inFlightList) remove(id MessageID) bool {
	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	return true
}

// Channel is one named cursor over a Queue's shared backend (spec §4):
// a tail position plus the set of messages currently leased out to a
// consumer. Its locking mirrors NSQ's per-channel mutex in nsqd/channel.go
// — one mtx held for the duration of a single Get or Ack, never nested
// under the Queue's own locks except backendRLock, which the caller
// (Queue.Get/Queue.Ack) already holds before reaching here.
type Channel struct {
	queue *Queue
	name  string

	mtx        sync.Mutex
	tail       MessageID // next id to hand out fresh
	inFlight   *inFlightList
	inFlightPQ *pqueue.PriorityQueue[MessageID, uint32]    // ordered by expiresAt, drives redelivery
	realTailPQ *pqueue.PriorityQueue[MessageID, MessageID] // ordered by id, drives real_tail

	lastTouched uint32 // clock value of last Get/Ack; checkpointed, not read by GC

	messageCount uint64
	ackCount     uint64
	timeoutCount uint64

	e2eLeaseLatencyStream *quantile.Quantile
}

func newChannel(q *Queue, name string, tail MessageID, clock uint32) *Channel {
	return &Channel{
		queue:       q,
		name:        name,
		tail:        tail,
		inFlight:    newInFlightList(),
		inFlightPQ:  pqueue.New[MessageID, uint32](32, pqueue.Min[uint32]),
		realTailPQ:  pqueue.New[MessageID, MessageID](32, pqueue.Min[MessageID]),
		lastTouched: clock,
		e2eLeaseLatencyStream: quantile.New(
			q.config.LeaseLatencyWindow, q.config.LeaseLatencyPercentiles),
	}
}

// realTail is the channel's durable cursor (spec §4.2, §4.4, §9): the
// smallest id not yet acked, tracked by realTailPQ, a min-heap keyed on id
// that is pushed to exactly once per fresh lease and never touched by
// redelivery. It deliberately is not derived from inFlightPQ (keyed on
// expiresAt, used for redelivery selection): a redelivery changes an
// entry's expiresAt without changing real_tail, and the smallest expiresAt
// is not generally the smallest unacked id. Conflating the two would let
// GC retire a segment still holding an id that was merely redelivered,
// not acked.
func (c *Channel) realTail() MessageID {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.realTailLocked()
}

// realTailLocked is realTail's body, split out so callers that already
// hold c.mtx (stats) don't recurse into a non-reentrant lock.
func (c *Channel) realTailLocked() MessageID {
	c.compactRealTailHeap()
	if top := c.realTailPQ.Peek(); top != nil {
		return top.Val
	}
	return c.tail
}

// compactRealTailHeap pops ids whose lease has since been acked. It stops
// at the first id still in flight, since the heap is ordered by id and
// every id behind a live root is either also live or not yet leased.
func (c *Channel) compactRealTailHeap() {
	for {
		top := c.realTailPQ.Peek()
		if top == nil {
			return
		}
		if _, ok := c.inFlight.get(top.Val); !ok {
			c.realTailPQ.Pop()
			continue
		}
		return
	}
}

// compactHeap drops stale heap entries: a pqueue Item surviving past its
// backing inFlight entry's removal (acked) or replacement (redelivered,
// which changes expiresAt and re-enters a fresh Item rather than mutating
// the old one in place). It stops at the first Item still live, since the
// heap is a min-heap on expiresAt and everything behind a live root is
// either also live or not yet due.
func (c *Channel) compactHeap() {
	for {
		top := c.inFlightPQ.Peek()
		if top == nil {
			return
		}
		e, ok := c.inFlight.get(top.Val)
		if !ok || e.expiresAt != top.Priority {
			c.inFlightPQ.Pop()
			continue
		}
		return
	}
}

// get leases the next available message: either a fresh id at the tail, or
// (if due) the oldest expired in-flight redelivery. now is the queue's
// cached clock (spec §5 forbids wall-clock reads inside the hot path).
// backendTail is passed in by the caller (already holding backendRLock)
// rather than fetched here, since Queue.Get must not re-enter
// backendRLock.RLock while already holding it — sync.RWMutex is not
// safe for recursive RLock on one goroutine.
func (c *Channel) get(now, ttl uint32, backendTail MessageID) (MessageID, bool, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.compactHeap()
	if top := c.inFlightPQ.Peek(); top != nil && top.Priority <= now {
		id := top.Val
		c.inFlightPQ.Pop()
		e := c.inFlight.lease(id, now, now+ttl)
		c.inFlightPQ.Push(&pqueue.Item[MessageID, uint32]{Val: id, Priority: e.expiresAt})
		c.lastTouched = now
		c.timeoutCount++
		c.messageCount++
		return id, true, true
	}

	if c.tail >= backendTail {
		return 0, false, false
	}
	id := c.tail
	c.tail++
	e := c.inFlight.lease(id, now, now+ttl)
	c.inFlightPQ.Push(&pqueue.Item[MessageID, uint32]{Val: id, Priority: e.expiresAt})
	c.realTailPQ.Push(&pqueue.Item[MessageID, MessageID]{Val: id, Priority: id})
	c.lastTouched = now
	c.messageCount++
	return id, true, false
}

// ack releases id's lease. Acking an id not currently in flight (already
// acked, or never leased) is a no-op returning false, matching the
// original's tolerant double-ack behavior rather than panicking.
func (c *Channel) ack(now uint32, id MessageID) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e, ok := c.inFlight.get(id)
	if !ok {
		return false
	}
	if c.e2eLeaseLatencyStream != nil && now >= e.leasedAt {
		// the clock counts seconds; the stream records microseconds
		c.e2eLeaseLatencyStream.Insert(int64(now-e.leasedAt) * 1e6)
	}
	c.inFlight.remove(id)
	c.compactRealTailHeap()
	c.ackCount++
	c.lastTouched = now
	return true
}

// stats is a point-in-time, lock-protected snapshot for Queue.Stats.
func (c *Channel) stats() ChannelStats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return ChannelStats{
		ChannelName:   c.name,
		Tail:          c.tail,
		RealTail:      c.realTailLocked(),
		InFlightCount: c.inFlight.len(),
		MessageCount:  c.messageCount,
		AckCount:      c.ackCount,
		TimeoutCount:  c.timeoutCount,
		LastTouched:   c.lastTouched,
	}
}

// resetForPurge drops all in-flight state and rewinds the cursor, used
// when the owning Queue transitions through Purging (spec §5.4).
func (c *Channel) resetForPurge(clock uint32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.inFlight = newInFlightList()
	c.inFlightPQ = pqueue.New[MessageID, uint32](32, pqueue.Min[uint32])
	c.realTailPQ = pqueue.New[MessageID, MessageID](32, pqueue.Min[MessageID])
	c.tail = 1
	c.lastTouched = clock
}
