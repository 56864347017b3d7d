package poll

import (
	"context"
	"sync"
	"time"

	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Fetch performs one request for a stream's payload. Implementations must
// honor ctx: it carries both the supersession cancel and the fixed deadline,
// whichever fires first.
type Fetch[T any] func(ctx context.Context) (T, error)

// Config tunes one stream's request cycle.
type Config struct {
	Name       string
	Timeout    time.Duration // fixed per-fetch deadline
	RetryDelay time.Duration // fixed backoff between attempts
	RetryLimit int           // consecutive non-cancellation failures before terminal
	Stuck      time.Duration // watchdog threshold, independent of Timeout
}

// Stream owns the request cycle for one logical data stream: a monotonic
// ticket, an in-flight lock, and a bounded retry counter.
//
// Overlapping cycles supersede, they never queue: Begin cancels any fetch
// still in flight and issues a fresh ticket. A response is applied only if
// its ticket is still the latest at the moment it settles, so a slow old
// response can never overwrite the result of a newer one.
//
// All check-then-set steps on the ticket and the lock happen under one mutex
// hold; the fetch itself runs outside it.
type Stream[T any] struct {
	cfg        Config
	fetch      Fetch[T]
	apply      func(T)
	onTerminal func(*TerminalError)

	mu         sync.Mutex
	ticket     uint64
	inFlight   bool
	startedAt  time.Time
	retries    int
	cancel     context.CancelFunc // supersession signal for the current fetch
	retryTimer *time.Timer
	stopped    bool

	now func() time.Time
}

// NewStream builds a stream. apply runs with the stream lock held and only
// for a still-current ticket; it must not call back into the stream.
// onTerminal may be nil.
func NewStream[T any](cfg Config, fetch Fetch[T], apply func(T), onTerminal func(*TerminalError)) *Stream[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 2
	}
	if cfg.Stuck <= 0 {
		cfg.Stuck = 6 * time.Second
	}
	return &Stream[T]{
		cfg:        cfg,
		fetch:      fetch,
		apply:      apply,
		onTerminal: onTerminal,
		now:        time.Now,
	}
}

func (s *Stream[T]) Name() string { return s.cfg.Name }

// Begin starts a new cycle, superseding any fetch still in flight.
func (s *Stream[T]) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginLocked()
}

func (s *Stream[T]) beginLocked() {
	if s.stopped {
		return
	}

	// A manually started cycle supersedes a pending retry.
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}

	if s.inFlight {
		s.cancel()
		telemetry.Metrics.CyclesSuperseded.Inc()
		telemetry.Debugf("poll %s: superseded in-flight cycle %d", s.cfg.Name, s.ticket)
	}

	s.ticket++
	ticket := s.ticket
	s.inFlight = true
	s.startedAt = s.now()
	telemetry.Metrics.CyclesStarted.Inc()

	// Combined cancellation: the outer cancel is the supersession signal,
	// the timeout layers the fixed deadline on top. First one wins.
	base, cancel := context.WithCancel(context.Background())
	ctx, cancelTimeout := context.WithTimeout(base, s.cfg.Timeout)
	s.cancel = cancel

	go s.run(ctx, ticket, func() {
		cancelTimeout()
		cancel()
	})
}

func (s *Stream[T]) run(ctx context.Context, ticket uint64, release func()) {
	defer release()

	start := time.Now()
	payload, err := s.fetch(ctx)
	telemetry.Metrics.FetchLatency.Record(time.Since(start))

	s.settle(ticket, payload, err)
}

// settle is the single place responses come home. The ticket gate runs
// first: a stale response is dropped before it can touch any state,
// including the in-flight lock, which by now belongs to a newer cycle.
func (s *Stream[T]) settle(ticket uint64, payload T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket != s.ticket {
		telemetry.Metrics.StaleResponses.Inc()
		return
	}

	s.inFlight = false

	if err == nil {
		s.retries = 0
		s.apply(payload)
		return
	}

	switch kind := classify(err); kind {
	case KindCancelled:
		// Supersession or watchdog release: not a failure, no retry
		// budget consumed, nothing to report.
		return

	case KindProtocol:
		telemetry.Metrics.TerminalFailures.Inc()
		s.report(&TerminalError{Stream: s.cfg.Name, Kind: KindProtocol, Attempts: 1, Last: err})
		return

	default: // KindTimeout, KindNetwork
		if kind == KindTimeout {
			telemetry.Metrics.FetchTimeouts.Inc()
		}
		if s.retries < s.cfg.RetryLimit {
			s.retries++
			telemetry.Metrics.FetchRetries.Inc()
			telemetry.Warnf("poll %s: %s, retry %d/%d in %s",
				s.cfg.Name, kind, s.retries, s.cfg.RetryLimit, s.cfg.RetryDelay)
			s.retryTimer = time.AfterFunc(s.cfg.RetryDelay, func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.retryTimer = nil
				s.beginLocked()
			})
			return
		}

		attempts := s.retries + 1
		s.retries = 0
		telemetry.Metrics.TerminalFailures.Inc()
		s.report(&TerminalError{Stream: s.cfg.Name, Kind: kind, Attempts: attempts, Last: err})
	}
}

// report must be called with the lock held; the callback itself runs on this
// goroutine like apply does.
func (s *Stream[T]) report(te *TerminalError) {
	telemetry.Errorf("poll %s", te.Error())
	if s.onTerminal != nil {
		s.onTerminal(te)
	}
}

// InFlight reports whether a fetch for the current ticket is outstanding.
func (s *Stream[T]) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// SinceStart returns how long the current fetch has been outstanding,
// or zero when idle.
func (s *Stream[T]) SinceStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

// StuckThreshold is the watchdog limit for this stream.
func (s *Stream[T]) StuckThreshold() time.Duration { return s.cfg.Stuck }

// ForceRelease cancels the outstanding fetch and clears the lock. It is the
// heartbeat watchdog's liveness escape hatch for the case where the fetch's
// own timeout signal never fires. Returns true if a lock was cleared.
func (s *Stream[T]) ForceRelease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return false
	}
	s.cancel()
	s.inFlight = false
	telemetry.Metrics.WatchdogResets.Inc()
	telemetry.Warnf("poll %s: stuck for %s, lock reset", s.cfg.Name, s.now().Sub(s.startedAt))
	return true
}

// Stop cancels any outstanding fetch and pending retry. The stream ignores
// Begin afterwards.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.inFlight {
		s.cancel()
		s.inFlight = false
	}
}
