package orders

import (
	"sync"
	"testing"
	"time"

	"github.com/optionsdesk/terminal/internal/events"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// busCounter counts order-update notifications and keeps the last payload.
type busCounter struct {
	mu    sync.Mutex
	count int
	last  Change
}

func (bc *busCounter) attach(bus *events.Bus) {
	bus.Subscribe(events.EventOrderUpdate, func(evt events.Event) error {
		change, ok := evt.Payload.(Change)
		if !ok {
			return nil
		}
		bc.mu.Lock()
		bc.count++
		bc.last = change
		bc.mu.Unlock()
		return nil
	})
}

func (bc *busCounter) snapshot() (int, Change) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.count, bc.last
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *busCounter) {
	t.Helper()
	bus := events.NewBus()
	bc := &busCounter{}
	bc.attach(bus)

	r := NewRegistry(bus, DefaultTuning())
	clock := newFakeClock()
	r.now = clock.Now
	// Staleness is driven explicitly via CheckStuck in these tests.
	r.after = func(time.Duration, func()) *time.Timer {
		return time.NewTimer(time.Hour)
	}
	t.Cleanup(r.Close)
	return r, clock, bc
}

func marketBuy(symbol string) Details {
	return Details{
		Symbol:    symbol,
		Action:    "BUY",
		Quantity:  75,
		PriceType: "MARKET",
		Product:   "MIS",
		Segment:   "NFO",
	}
}

func limitBuy(symbol string, price float64) Details {
	d := marketBuy(symbol)
	d.PriceType = "LIMIT"
	d.Price = price
	return d
}

func TestLifecycleHappyPath(t *testing.T) {
	r, clock, _ := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	o, ok := r.Get(id)
	if !ok || o.State != StatePending {
		t.Fatalf("created order state = %s, want PENDING", o.State)
	}
	if o.Timestamps[StatePending].IsZero() {
		t.Fatal("PENDING timestamp not recorded")
	}

	clock.Advance(100 * time.Millisecond)
	if !r.UpdateState(id, StateSent, Update{OrderNumber: "B100"}) {
		t.Fatal("PENDING -> SENT rejected")
	}

	// A fill cannot land before the broker acknowledges the order.
	if r.UpdateState(id, StateFilled, Update{}) {
		t.Fatal("SENT -> FILLED accepted")
	}
	if o, _ = r.Get(id); o.State != StateSent {
		t.Fatalf("rejected transition changed state to %s", o.State)
	}

	clock.Advance(100 * time.Millisecond)
	if !r.UpdateState(id, StateConfirmed, Update{}) {
		t.Fatal("SENT -> CONFIRMED rejected")
	}
	clock.Advance(100 * time.Millisecond)
	if !r.UpdateState(id, StateFilled, Update{FilledQuantity: 75}) {
		t.Fatal("CONFIRMED -> FILLED rejected")
	}

	o, _ = r.Get(id)
	if o.FilledQuantity != 75 {
		t.Fatalf("filled quantity = %d, want 75", o.FilledQuantity)
	}
	prev := o.Timestamps[StatePending]
	for _, st := range []State{StateSent, StateConfirmed, StateFilled} {
		ts, ok := o.Timestamps[st]
		if !ok {
			t.Fatalf("no timestamp for %s", st)
		}
		if ts.Before(prev) {
			t.Fatalf("%s timestamp precedes the previous state's", st)
		}
		prev = ts
	}

	// Terminal order no longer blocks a fresh identical intent.
	if !r.CanPlace("NIFTY24400CE", "BUY") {
		t.Fatal("terminal order still blocks duplicates")
	}
}

func TestInvalidTransitionLeavesTimestampsUntouched(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	if r.UpdateState(id, StateConfirmed, Update{}) {
		t.Fatal("PENDING -> CONFIRMED accepted")
	}

	o, _ := r.Get(id)
	if o.State != StatePending {
		t.Fatalf("state = %s after rejected transition", o.State)
	}
	if _, ok := o.Timestamps[StateConfirmed]; ok {
		t.Fatal("rejected transition wrote a timestamp")
	}
}

func TestDuplicatePendingGuard(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	id := r.Create(marketBuy("BANKNIFTY51200PE"))

	if r.CanPlace("BANKNIFTY51200PE", "BUY") {
		t.Fatal("identical pending intent not blocked")
	}
	if !r.CanPlace("BANKNIFTY51200PE", "SELL") {
		t.Fatal("opposite action blocked")
	}
	if !r.CanPlace("NIFTY24400CE", "BUY") {
		t.Fatal("different symbol blocked")
	}

	r.UpdateState(id, StateSent, Update{OrderNumber: "B1"})
	if !r.CanPlace("BANKNIFTY51200PE", "BUY") {
		t.Fatal("order out of PENDING still blocks duplicates")
	}
}

func TestBrokerNumberCrossReferenceBackfill(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	r.UpdateState(id, StateSent, Update{OrderNumber: "B777"})

	o, _ := r.Get(id)
	if o.OrderNumber != "B777" || o.BrokerOrderID != "B777" {
		t.Fatalf("cross-reference not backfilled: number=%q id=%q", o.OrderNumber, o.BrokerOrderID)
	}

	found, ok := r.FindByBrokerNumber("B777")
	if !ok || found.ID != id {
		t.Fatal("lookup by broker number failed")
	}
	if !r.UpdateStateByBrokerNumber("B777", StateConfirmed, Update{Exchange: "NSE"}) {
		t.Fatal("transition by broker number rejected")
	}
	if o, _ = r.Get(id); o.Exchange != "NSE" {
		t.Fatal("update fields not merged on broker-number transition")
	}
}

func TestMarketOrderStuckInPendingIsCancelled(t *testing.T) {
	r, clock, _ := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	clock.Advance(6 * time.Second)
	r.CheckStuck(id)

	o, _ := r.Get(id)
	if o.State != StateCancelled {
		t.Fatalf("stale MARKET order state = %s, want CANCELLED", o.State)
	}
	if o.Reason != "Timeout" {
		t.Fatalf("cancel reason = %q, want %q", o.Reason, "Timeout")
	}
}

func TestLimitOrderExemptFromPendingTimeout(t *testing.T) {
	r, clock, _ := newTestRegistry(t)

	id := r.Create(limitBuy("NIFTY24400CE", 120.5))
	clock.Advance(time.Minute)
	r.CheckStuck(id)

	o, _ := r.Get(id)
	if o.State != StatePending {
		t.Fatalf("LIMIT order state = %s, want PENDING", o.State)
	}
}

func TestSentOrderIsWarnedNotForced(t *testing.T) {
	r, clock, _ := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	r.UpdateState(id, StateSent, Update{OrderNumber: "B1"})
	clock.Advance(time.Minute)
	r.CheckStuck(id)

	o, _ := r.Get(id)
	if o.State != StateSent {
		t.Fatalf("stuck SENT order forced to %s", o.State)
	}
}

func TestEveryAcceptedTransitionNotifies(t *testing.T) {
	r, _, bc := newTestRegistry(t)

	id := r.Create(marketBuy("NIFTY24400CE"))
	r.UpdateState(id, StateSent, Update{OrderNumber: "B1"})

	count, last := bc.snapshot()
	if count != 2 {
		t.Fatalf("notifications = %d, want 2 (create + transition)", count)
	}
	if last.Order.State != StateSent {
		t.Fatalf("last notification carries state %s", last.Order.State)
	}
	if len(last.All) != 1 {
		t.Fatalf("registry snapshot has %d orders, want 1", len(last.All))
	}

	// A rejected transition must not notify.
	r.UpdateState(id, StateFilled, Update{})
	if count, _ = bc.snapshot(); count != 2 {
		t.Fatalf("rejected transition produced a notification")
	}
}
