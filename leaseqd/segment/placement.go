package segment

import (
	"os"
	"time"

	"github.com/bitly/go-hostpool"
)

// placementPolicy picks one of cfg.DataDirectories for a backend when it
// is opened, using an epsilon-greedy host pool, the same strategy
// go-hostpool was built for (picking among several backend hosts) applied
// here to several backing disks. Every segment file of that backend then
// goes into the picked directory; segments are not spread across
// directories. A new pool is built for each open, so a directory marked
// bad is not remembered by later opens.
type placementPolicy struct {
	dirs []string
	pool hostpool.HostPool
}

func newPlacementPolicy(dirs []string) *placementPolicy {
	return &placementPolicy{
		dirs: dirs,
		pool: hostpool.NewEpsilonGreedy(dirs, 5*time.Minute, &hostpool.LinearEpsilonValueCalculator{}),
	}
}

// choose picks a directory and creates it if needed. A directory that
// cannot be created is marked bad and the first other directory that can
// be created is returned instead; if none can, the original pick is
// returned.
func (p *placementPolicy) choose() string {
	resp := p.pool.Get()
	dir := resp.Host()

	if err := os.MkdirAll(dir, 0755); err != nil {
		resp.Mark(err)
		for _, alt := range p.dirs {
			if alt == dir {
				continue
			}
			if err := os.MkdirAll(alt, 0755); err == nil {
				return alt
			}
		}
		return dir
	}

	resp.Mark(nil)
	return dir
}
