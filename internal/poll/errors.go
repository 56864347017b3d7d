package poll

import (
	"context"
	"errors"
	"fmt"
)

// ErrProtocol marks a logical rejection from the backend (a success:false
// body). Retrying cannot change the outcome, so the controller surfaces it
// immediately without consuming retry budget.
var ErrProtocol = errors.New("protocol failure")

// FailureKind classifies how a fetch settled.
type FailureKind string

const (
	KindCancelled FailureKind = "cancelled"
	KindTimeout   FailureKind = "timeout"
	KindProtocol  FailureKind = "protocol"
	KindNetwork   FailureKind = "network"
)

// classify maps a fetch error to its failure kind. Supersession and the
// deadline both cancel the context; they are told apart by which context
// error surfaced.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	default:
		return KindNetwork
	}
}

// TerminalError is reported to the stream's owner when a cycle cannot be
// completed: either the retry ceiling was exhausted (timeout or network) or
// the backend rejected the request outright (protocol).
type TerminalError struct {
	Stream   string
	Kind     FailureKind
	Attempts int
	Last     error
}

func (e *TerminalError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: timeout after %d attempts: %v", e.Stream, e.Attempts, e.Last)
	case KindNetwork:
		return fmt.Sprintf("%s: network error after %d attempts: %v", e.Stream, e.Attempts, e.Last)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Stream, e.Kind, e.Last)
	}
}

func (e *TerminalError) Unwrap() error { return e.Last }
