package leaseqd

import (
	"errors"
	"fmt"
)

// ErrQueueDeleting is returned by lifecycle operations attempted after a
// queue has entered the terminal Deleting state.
var ErrQueueDeleting = errors.New("leaseqd: queue is deleting")

// InvariantError marks a broken internal invariant (spec §3's numbered
// invariants, or an impossible backend state such as a redelivered id the
// backend no longer has). These are programming errors, not recoverable
// I/O failures, and per spec §7 are fatal: the caller is expected to let
// the panic surface rather than swallow it.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "leaseqd: invariant violated: " + e.Msg
}

func panicInvariant(format string, args ...interface{}) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}
