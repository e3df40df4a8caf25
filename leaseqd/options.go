package leaseqd

import (
	"time"

	"github.com/leaseq/leaseq/internal/lg"
)

// QueueConfig parameterizes a single Queue (spec §6.3). It is intentionally
// not the daemon's flag-resolved Options (apps/leaseqd/options.go) — a
// process may host many queues, each with its own data directory but most
// other fields shared from one daemon Options.
type QueueConfig struct {
	// Name identifies the queue in logs and is the subdirectory name
	// Discover uses when scanning a parent data directory.
	Name string

	// DataDirectory holds the checkpoint file and (by default) the
	// backend's segment files.
	DataDirectory string

	// DataDirectories, when it names more than one path, is the set the
	// backend picks its one segment directory from when it is opened
	// (leaseqd/segment/placement.go); segments are not spread across
	// several of them. Leave empty to use DataDirectory alone.
	DataDirectories []string

	// TimeToLive is the lease duration, in seconds, applied to every
	// fresh and redelivered Get.
	TimeToLive uint32

	// SegmentSize is an advisory cap, in bytes, passed through to the
	// backend.
	SegmentSize int64

	// SyncEvery and SyncTimeout bound how eagerly the backend fsyncs a
	// partially-filled segment.
	SyncEvery   int64
	SyncTimeout time.Duration

	// LeaseLatencyWindow and LeaseLatencyPercentiles configure optional
	// per-channel lease-latency quantile tracking (time from Get to Ack).
	// Leave LeaseLatencyPercentiles empty to disable it.
	LeaseLatencyWindow      time.Duration
	LeaseLatencyPercentiles []float64

	Logger   lg.Logger
	LogLevel lg.LogLevel
}

// NewQueueConfig returns a QueueConfig with the defaults a fresh queue
// should start from; callers override individual fields before calling
// NewQueue.
func NewQueueConfig(name, dataDirectory string) *QueueConfig {
	return &QueueConfig{
		Name:          name,
		DataDirectory: dataDirectory,
		TimeToLive:    60,
		SegmentSize:   100 * 1024 * 1024,
		SyncEvery:     2500,
		SyncTimeout:   2 * time.Second,
		LogLevel:      lg.INFO,
	}
}
