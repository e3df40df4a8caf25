package leaseqd

// ChannelStats is a point-in-time snapshot of one Channel, returned as
// part of Queue.Stats and used verbatim by the daemon's /stats endpoint.
type ChannelStats struct {
	ChannelName   string
	Tail          MessageID
	RealTail      MessageID
	InFlightCount int
	MessageCount  uint64
	AckCount      uint64
	TimeoutCount  uint64
	LastTouched   uint32
}

// QueueStats is a point-in-time snapshot of a Queue and all its channels.
type QueueStats struct {
	QueueName  string
	State      string
	Tail       MessageID
	Depth      int64
	FilesCount int
	Channels   []ChannelStats
}

// Stats gathers a consistent-enough snapshot for operator visibility; it
// is not taken under a single lock spanning backend and channels, matching
// the original's treatment of stats as advisory rather than transactional.
func (q *Queue) Stats() QueueStats {
	tail := q.backendTail()

	q.backendRLock.RLock()
	filesCount := q.backend.FilesCount()
	q.backendRLock.RUnlock()

	q.channelsLock.RLock()
	channels := make([]ChannelStats, 0, len(q.channels))
	var smallestRealTail MessageID
	first := true
	for _, c := range q.channels {
		cs := c.stats()
		channels = append(channels, cs)
		if first || cs.RealTail < smallestRealTail {
			smallestRealTail = cs.RealTail
			first = false
		}
	}
	q.channelsLock.RUnlock()

	depth := int64(tail) - int64(smallestRealTail)
	if first || depth < 0 {
		depth = 0
	}

	return QueueStats{
		QueueName:  q.name,
		State:      q.currentState().String(),
		Tail:       tail,
		Depth:      depth,
		FilesCount: filesCount,
		Channels:   channels,
	}
}
