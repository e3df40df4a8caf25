package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/judwhite/go-svc/svc"
	"github.com/mreiferson/go-options"

	"github.com/leaseq/leaseq/internal/version"
	"github.com/leaseq/leaseq/leaseqd"
	"github.com/leaseq/leaseq/leaseqd/segment"
)

// program wires Options, the per-queue registry, and the HTTP surface
// together, and satisfies go-svc.Service so the daemon gets consistent
// signal handling (and Windows service support) for free, the same
// lifecycle shim the teacher's own daemon entrypoint uses.
type program struct {
	opts *Options

	queuesLock sync.RWMutex
	queues     map[string]*leaseqd.Queue

	httpListener net.Listener

	exitCh   chan struct{}
	stopOnce sync.Once

	logger *log.Logger
}

func main() {
	p := &program{
		queues: make(map[string]*leaseqd.Queue),
		exitCh: make(chan struct{}),
	}
	if err := svc.Run(p, syscall.SIGINT, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "leaseqd: %v\n", err)
		os.Exit(1)
	}
}

func (p *program) Init(env svc.Environment) error {
	flagSet := flag.NewFlagSet("leaseqd", flag.ExitOnError)
	flagSet.String("config", "", "path to config file")
	flagSet.String("data-dir", "", "directory to store queue data")
	flagSet.String("http-address", "", "<addr>:<port> to listen on for the stats/admin HTTP interface")
	flagSet.Int("ttl", 0, "default lease time-to-live, in seconds")
	flagSet.Int64("segment-size", 0, "advisory max bytes per backend segment file")
	flagSet.Int64("sync-every", 0, "force an fsync after this many backend writes")
	flagSet.String("sync-timeout", "", "force an fsync after this long without one")
	flagSet.String("tick-interval", "", "how often the in-memory clock advances")
	flagSet.String("maintenance-interval", "", "how often GC/checkpoint maintenance runs")
	flagSet.String("log-level", "", "debug|info|warn|error|fatal")
	flagSet.Parse(os.Args[1:])

	opts := NewOptions()

	cfgFile, _ := flagSet.Lookup("config").Value.(flag.Getter)
	var cfgMap map[string]interface{}
	if cfgFile != nil {
		if path, ok := cfgFile.Get().(string); ok && path != "" {
			if _, err := toml.DecodeFile(path, &cfgMap); err != nil {
				return fmt.Errorf("leaseqd: reading config file %s: %w", path, err)
			}
		}
	}

	options.Resolve(opts, flagSet, cfgMap)
	p.opts = opts

	p.logger = log.New(os.Stderr, "", log.LstdFlags)
	p.logger.Printf("%s starting", version.String("leaseqd"))
	return nil
}

func (p *program) Start() error {
	if err := os.MkdirAll(p.opts.DataDir, 0755); err != nil {
		return err
	}

	baseCfg := leaseqd.NewQueueConfig("", "")
	baseCfg.TimeToLive = uint32(p.opts.TimeToLive)
	baseCfg.SegmentSize = p.opts.SegmentSize
	baseCfg.SyncEvery = p.opts.SyncEvery
	baseCfg.SyncTimeout = mustParseDuration(p.opts.SyncTimeout, 2*time.Second)
	baseCfg.DataDirectories = p.opts.DataDirectories
	baseCfg.Logger = p.logger
	baseCfg.LogLevel = parseLogLevel(p.opts.LogLevel)

	factory := segment.NewFactory()

	discovered, err := leaseqd.Discover(p.opts.DataDir, factory, baseCfg)
	if err != nil {
		return fmt.Errorf("leaseqd: discovering existing queues: %w", err)
	}
	p.queuesLock.Lock()
	for _, r := range discovered {
		if r.Err != nil {
			p.logger.Printf("failed to recover queue %q: %v", r.Name, r.Err)
			continue
		}
		p.queues[r.Name] = r.Queue
		p.logger.Printf("recovered queue %q", r.Name)
	}
	p.queuesLock.Unlock()

	listener, err := net.Listen("tcp", p.opts.HTTPAddress)
	if err != nil {
		return fmt.Errorf("leaseqd: listening on %s: %w", p.opts.HTTPAddress, err)
	}
	p.httpListener = listener
	go http.Serve(listener, newHTTPRouter(p))

	tick := mustParseDuration(p.opts.TickInterval, time.Second)
	maint := mustParseDuration(p.opts.MaintenanceInterval, 15*time.Second)
	go p.loop(tick, maint)

	return nil
}

func (p *program) Stop() error {
	p.stopOnce.Do(func() {
		close(p.exitCh)
		if p.httpListener != nil {
			p.httpListener.Close()
		}
		p.queuesLock.RLock()
		defer p.queuesLock.RUnlock()
		for name, q := range p.queues {
			if err := q.Close(); err != nil {
				p.logger.Printf("error closing queue %q: %v", name, err)
			}
		}
	})
	return nil
}

// loop drives the queue clock and periodic GC/checkpoint maintenance,
// keeping both off the request hot path per spec §5's locking discipline.
func (p *program) loop(tick, maint time.Duration) {
	tickTicker := time.NewTicker(tick)
	maintTicker := time.NewTicker(maint)
	defer tickTicker.Stop()
	defer maintTicker.Stop()

	for {
		select {
		case now := <-tickTicker.C:
			p.queuesLock.RLock()
			for _, q := range p.queues {
				q.Tick(uint32(now.Unix()))
			}
			p.queuesLock.RUnlock()
		case <-maintTicker.C:
			p.queuesLock.RLock()
			for name, q := range p.queues {
				if err := q.Maintenance(); err != nil {
					p.logger.Printf("maintenance failed for queue %q: %v", name, err)
				}
			}
			p.queuesLock.RUnlock()
		case <-p.exitCh:
			return
		}
	}
}

func (p *program) getOrCreateQueue(name string) (*leaseqd.Queue, error) {
	p.queuesLock.Lock()
	defer p.queuesLock.Unlock()

	if q, ok := p.queues[name]; ok {
		return q, nil
	}

	cfg := leaseqd.NewQueueConfig(name, filepath.Join(p.opts.DataDir, name))
	cfg.TimeToLive = uint32(p.opts.TimeToLive)
	cfg.SegmentSize = p.opts.SegmentSize
	cfg.SyncEvery = p.opts.SyncEvery
	cfg.SyncTimeout = mustParseDuration(p.opts.SyncTimeout, 2*time.Second)
	cfg.Logger = p.logger
	cfg.LogLevel = parseLogLevel(p.opts.LogLevel)

	q, err := leaseqd.NewQueue(cfg, segment.NewFactory(), false)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}

func (p *program) lookupQueue(name string) (*leaseqd.Queue, bool) {
	p.queuesLock.RLock()
	defer p.queuesLock.RUnlock()
	q, ok := p.queues[name]
	return q, ok
}

func (p *program) deleteQueue(name string) error {
	p.queuesLock.Lock()
	defer p.queuesLock.Unlock()

	q, ok := p.queues[name]
	if !ok {
		return fmt.Errorf("leaseqd: queue %q not found", name)
	}
	if err := q.Delete(); err != nil {
		return err
	}
	delete(p.queues, name)
	return nil
}
