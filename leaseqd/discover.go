package leaseqd

import (
	"os"
	"path/filepath"
)

// DiscoverResult is one subdirectory Discover attempted to open as a
// queue, success or failure, so a caller can log and skip a single
// corrupt queue directory rather than aborting the whole scan.
type DiscoverResult struct {
	Name  string
	Queue *Queue
	Err   error
}

// Discover scans dataDir for existing queue subdirectories (identified by
// the presence of a queue checkpoint file) and opens each one with
// factory, recovering its state. The original left this unimplemented
// (spec §6.4, Open Question); a directory with no checkpoint is treated
// as not-a-queue rather than an error, since apps/leaseqd's data
// directory may hold unrelated files.
func Discover(dataDir string, factory BackendFactory, base *QueueConfig) ([]DiscoverResult, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}

	var results []DiscoverResult
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		queueDir := filepath.Join(dataDir, name)
		if _, err := os.Stat(filepath.Join(queueDir, queueCheckpointFile)); err != nil {
			continue
		}

		cfg := *base
		cfg.Name = name
		cfg.DataDirectory = queueDir

		q, err := NewQueue(&cfg, factory, true)
		results = append(results, DiscoverResult{Name: name, Queue: q, Err: err})
	}
	return results, nil
}
