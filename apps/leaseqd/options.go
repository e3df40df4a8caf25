package main

import (
	"time"

	"github.com/leaseq/leaseq/internal/lg"
)

// Options is the daemon's flag/config-resolved surface, merged by
// mreiferson/go-options from command-line flags and an optional TOML
// config file (spec §6.3's ambient configuration layer). It is distinct
// from leaseqd.QueueConfig, which parameterizes one queue; many queues
// under one daemon share everything here except Name/DataDirectory.
type Options struct {
	DataDir         string   `flag:"data-dir" cfg:"data_dir"`
	DataDirectories []string `flag:"data-directories" cfg:"data_directories"`

	HTTPAddress string `flag:"http-address" cfg:"http_address"`

	TimeToLive  int    `flag:"ttl" cfg:"ttl"`
	SegmentSize int64  `flag:"segment-size" cfg:"segment_size"`
	SyncEvery   int64  `flag:"sync-every" cfg:"sync_every"`
	SyncTimeout string `flag:"sync-timeout" cfg:"sync_timeout"`

	TickInterval        string `flag:"tick-interval" cfg:"tick_interval"`
	MaintenanceInterval string `flag:"maintenance-interval" cfg:"maintenance_interval"`

	LogLevel string `flag:"log-level" cfg:"log_level"`

	ConfigFile string `flag:"config"`
}

func NewOptions() *Options {
	return &Options{
		DataDir:             "/tmp/leaseqd",
		HTTPAddress:         "0.0.0.0:4280",
		TimeToLive:          60,
		SegmentSize:         100 * 1024 * 1024,
		SyncEvery:           2500,
		SyncTimeout:         "2s",
		TickInterval:        "1s",
		MaintenanceInterval: "15s",
		LogLevel:            "info",
	}
}

func parseLogLevel(s string) lg.LogLevel {
	switch s {
	case "debug":
		return lg.DEBUG
	case "warn":
		return lg.WARN
	case "error":
		return lg.ERROR
	case "fatal":
		return lg.FATAL
	default:
		return lg.INFO
	}
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
