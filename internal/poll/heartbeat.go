package poll

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Pollable is the per-stream surface the heartbeat drives.
type Pollable interface {
	Name() string
	Begin()
	InFlight() bool
	SinceStart() time.Duration
	StuckThreshold() time.Duration
	ForceRelease() bool
}

type registration struct {
	stream    Pollable
	interval  time.Duration
	lastBegin time.Time
	open      atomic.Bool
}

// Registration is the handle a stream's owner uses to gate scheduling on
// whether its view is open. Closed streams keep their watchdog coverage but
// get no new cycles.
type Registration struct{ r *registration }

func (h Registration) SetOpen(open bool) {
	was := h.r.open.Swap(open)
	if was != open {
		if open {
			telemetry.Metrics.OpenStreams.Inc()
		} else {
			telemetry.Metrics.OpenStreams.Dec()
		}
	}
}

func (h Registration) Open() bool { return h.r.open.Load() }

// Heartbeat drives all registered streams from one shared ticker, the way
// the dashboard ran every popup off a single master loop. Each tick:
//
//  1. skips entirely while the host view is hidden (outstanding requests
//     are left alone, work just stops being scheduled)
//  2. runs the watchdog over every stream, open or not
//  3. begins a cycle for each open stream that is idle and due
type Heartbeat struct {
	tick    time.Duration
	visible atomic.Bool

	mu      sync.Mutex
	streams []*registration

	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewHeartbeat(tick time.Duration) *Heartbeat {
	if tick <= 0 {
		tick = time.Second
	}
	hb := &Heartbeat{
		tick:   tick,
		now:    time.Now,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	hb.visible.Store(true)
	return hb
}

// Register adds a stream with its own scheduling interval (which may be
// longer than the heartbeat tick, never shorter in effect). Streams start
// closed.
func (hb *Heartbeat) Register(s Pollable, interval time.Duration) Registration {
	if interval <= 0 {
		interval = hb.tick
	}
	r := &registration{stream: s, interval: interval}
	hb.mu.Lock()
	hb.streams = append(hb.streams, r)
	hb.mu.Unlock()
	return Registration{r: r}
}

// SetVisible mirrors the tab-visibility signal. Hiding suspends scheduling
// without cancelling anything in flight.
func (hb *Heartbeat) SetVisible(v bool) {
	hb.visible.Store(v)
}

func (hb *Heartbeat) Start() {
	go hb.loop()
	telemetry.Infof("heartbeat: started  tick=%s", hb.tick)
}

func (hb *Heartbeat) loop() {
	defer close(hb.done)
	ticker := time.NewTicker(hb.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb.Tick()
		case <-hb.stopCh:
			return
		}
	}
}

// Tick runs one heartbeat pass. Exported so owners (and tests) can drive
// the schedule directly.
func (hb *Heartbeat) Tick() {
	if !hb.visible.Load() {
		telemetry.Metrics.TicksSkippedHidden.Inc()
		return
	}

	hb.mu.Lock()
	streams := make([]*registration, len(hb.streams))
	copy(streams, hb.streams)
	hb.mu.Unlock()

	now := hb.now()

	// Watchdog first: a fetch outstanding past its stuck threshold gets its
	// lock force-cleared even if its view has since closed.
	for _, r := range streams {
		if r.stream.InFlight() && r.stream.SinceStart() > r.stream.StuckThreshold() {
			r.stream.ForceRelease()
		}
	}

	for _, r := range streams {
		if !r.open.Load() {
			continue
		}
		if r.stream.InFlight() {
			continue
		}
		if now.Sub(r.lastBegin) < r.interval {
			continue
		}
		r.lastBegin = now
		r.stream.Begin()
	}
}

func (hb *Heartbeat) Stop() {
	hb.stopOnce.Do(func() {
		close(hb.stopCh)
		<-hb.done
	})
}
