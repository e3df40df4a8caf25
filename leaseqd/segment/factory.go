package segment

import (
	"github.com/leaseq/leaseq/leaseqd"
)

// NewFactory returns a leaseqd.BackendFactory that opens a Backend rooted
// at cfg.DataDirectory (or, when cfg.DataDirectories names more than one
// path, at whichever directory the placement policy picks when the backend
// is opened — see placement.go). recover is passed straight
// through to Open.
func NewFactory() leaseqd.BackendFactory {
	return func(cfg *leaseqd.QueueConfig, recover bool) (leaseqd.BackendQueue, error) {
		dataDir := cfg.DataDirectory
		if len(cfg.DataDirectories) > 1 {
			dataDir = newPlacementPolicy(cfg.DataDirectories).choose()
		}
		return Open(cfg.Name, dataDir, cfg.SegmentSize, cfg.SyncEvery, cfg.SyncTimeout, recover, cfg.Logger, cfg.LogLevel)
	}
}
