package leaseqd

import "github.com/leaseq/leaseq/internal/lg"

// Aliases so call sites read naturally, mirroring the teacher's own
// LOG_INFO/LOG_ERROR/LOG_FATAL constants layered on top of internal/lg.
const (
	LOG_DEBUG = lg.DEBUG
	LOG_INFO  = lg.INFO
	LOG_WARN  = lg.WARN
	LOG_ERROR = lg.ERROR
	LOG_FATAL = lg.FATAL
)

func (q *Queue) logf(level lg.LogLevel, f string, args ...interface{}) {
	if q.config.Logger == nil {
		return
	}
	lg.Logf(q.config.Logger, q.config.LogLevel, level, "["+q.name+"] "+f, args...)
}
