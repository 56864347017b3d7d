package orders

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Update carries the broker fields merged into an order on a successful
// transition.
type Update struct {
	BrokerOrderID   string
	OrderNumber     string
	Exchange        string
	FilledQuantity  int
	PendingQuantity int
	Reason          string
	LastError       string
}

// Change is the payload of every EventOrderUpdate: the transitioned order
// plus a snapshot of the full registry, so listeners never read live state.
type Change struct {
	Order Order   `json:"order"`
	All   []Order `json:"all"`
}

// Tuning holds the staleness thresholds.
type Tuning struct {
	// MARKET orders stuck in PENDING past this are presumed lost and
	// auto-cancelled. LIMIT and stop orders are exempt.
	MarketPendingTimeout time.Duration
	// The general staleness check runs this long after creation; a SENT
	// order older than this is only warned about, never forced.
	MaxPendingTime time.Duration
}

func DefaultTuning() Tuning {
	return Tuning{
		MarketPendingTimeout: 5 * time.Second,
		MaxPendingTime:       10 * time.Second,
	}
}

// Registry is the order lifecycle state machine. It owns the order map
// exclusively: every reader and writer goes through its methods, and all
// accepted transitions fan out through the bus.
type Registry struct {
	bus    *events.Bus
	tuning Tuning

	mu      sync.Mutex
	orders  map[string]*Order
	ids     []string // insertion order, for stable listings
	pending map[string]struct{}
	timers  []*time.Timer
	closed  bool

	now   func() time.Time
	after func(time.Duration, func()) *time.Timer
}

func NewRegistry(bus *events.Bus, tuning Tuning) *Registry {
	if tuning.MarketPendingTimeout <= 0 {
		tuning.MarketPendingTimeout = 5 * time.Second
	}
	if tuning.MaxPendingTime <= 0 {
		tuning.MaxPendingTime = 10 * time.Second
	}
	return &Registry{
		bus:     bus,
		tuning:  tuning,
		orders:  make(map[string]*Order),
		pending: make(map[string]struct{}),
		now:     time.Now,
		after:   time.AfterFunc,
	}
}

// Create inserts a new intent in PENDING, schedules its staleness checks,
// and returns the allocated id. It never fails.
func (r *Registry) Create(details Details) string {
	r.mu.Lock()

	id := uuid.NewString()
	now := r.now()
	o := &Order{
		ID:         id,
		Details:    details,
		State:      StatePending,
		Timestamps: map[State]time.Time{StatePending: now},
		CreatedAt:  now,
	}
	r.orders[id] = o
	r.ids = append(r.ids, id)
	r.pending[id] = struct{}{}
	telemetry.Metrics.OrdersCreated.Inc()

	if !r.closed {
		if details.IsMarket() {
			r.timers = append(r.timers, r.after(r.tuning.MarketPendingTimeout, func() {
				r.CheckStuck(id)
			}))
		}
		r.timers = append(r.timers, r.after(r.tuning.MaxPendingTime, func() {
			r.CheckStuck(id)
		}))
	}

	change := Change{Order: o.snapshot(), All: r.allLocked()}
	r.mu.Unlock()

	r.publish(change)
	telemetry.Infof("orders: created %s %s %s qty=%d %s", id[:8], details.Action, details.Symbol, details.Quantity, details.PriceType)
	return id
}

// CanPlace is the duplicate-submission guard: false iff an order with the
// same symbol and action is still PENDING.
func (r *Registry) CanPlace(symbol, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.pending {
		o := r.orders[id]
		if o.Details.Symbol == symbol && o.Details.Action == action && o.State == StatePending {
			return false
		}
	}
	return true
}

// UpdateState applies a transition. An unknown id or a move not in the
// transition table returns false, leaving state and timestamps untouched;
// neither is fatal to the caller.
func (r *Registry) UpdateState(id string, newState State, upd Update) bool {
	r.mu.Lock()

	o, ok := r.orders[id]
	if !ok {
		r.mu.Unlock()
		telemetry.Warnf("orders: update for unknown order %s", id)
		return false
	}

	if !o.State.CanTransition(newState) {
		r.mu.Unlock()
		telemetry.Metrics.TransitionsRejected.Inc()
		telemetry.Warnf("orders: invalid transition %s -> %s for %s", o.State, newState, id[:8])
		return false
	}

	o.State = newState
	o.Timestamps[newState] = r.now()
	r.merge(o, upd)

	if newState.Terminal() {
		delete(r.pending, id)
	}

	telemetry.Metrics.TransitionsApplied.Inc()
	change := Change{Order: o.snapshot(), All: r.allLocked()}
	r.mu.Unlock()

	r.publish(change)
	telemetry.Infof("orders: %s -> %s", id[:8], newState)
	return true
}

// merge copies broker fields and backfills the broker-number/local-id
// cross-references when absent. Must hold r.mu.
func (r *Registry) merge(o *Order, upd Update) {
	if upd.BrokerOrderID != "" {
		if o.BrokerOrderID == "" {
			o.BrokerOrderID = upd.BrokerOrderID
		}
		if o.OrderNumber == "" {
			o.OrderNumber = upd.BrokerOrderID
		}
	}
	if upd.OrderNumber != "" {
		if o.OrderNumber == "" {
			o.OrderNumber = upd.OrderNumber
		}
		if o.BrokerOrderID == "" {
			o.BrokerOrderID = upd.OrderNumber
		}
	}
	if upd.Exchange != "" {
		o.Exchange = upd.Exchange
	}
	if upd.FilledQuantity != 0 {
		o.FilledQuantity = upd.FilledQuantity
	}
	if upd.PendingQuantity != 0 {
		o.PendingQuantity = upd.PendingQuantity
	}
	if upd.Reason != "" {
		o.Reason = upd.Reason
	}
	if upd.LastError != "" {
		o.LastError = upd.LastError
	}
}

// FindByBrokerNumber returns a snapshot of the order whose broker number or
// broker order id matches.
func (r *Registry) FindByBrokerNumber(orderNumber string) (Order, bool) {
	if orderNumber == "" {
		return Order{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.findByBrokerNumberLocked(orderNumber)
	if o == nil {
		return Order{}, false
	}
	return o.snapshot(), true
}

func (r *Registry) findByBrokerNumberLocked(orderNumber string) *Order {
	for _, id := range r.ids {
		o := r.orders[id]
		if o.OrderNumber == orderNumber || o.BrokerOrderID == orderNumber {
			return o
		}
	}
	return nil
}

// UpdateStateByBrokerNumber is the reconciliation entry point. An empty
// number never matches; it would join against orders not yet acknowledged.
func (r *Registry) UpdateStateByBrokerNumber(orderNumber string, newState State, upd Update) bool {
	if orderNumber == "" {
		return false
	}
	r.mu.Lock()
	o := r.findByBrokerNumberLocked(orderNumber)
	r.mu.Unlock()
	if o == nil {
		return false
	}
	return r.UpdateState(o.ID, newState, upd)
}

// Get returns a snapshot of one order.
func (r *Registry) Get(id string) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.snapshot(), true
}

// All returns snapshots of every order in creation order.
func (r *Registry) All() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []Order {
	out := make([]Order, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.orders[id].snapshot())
	}
	return out
}

// Active returns every order not yet in a terminal state.
func (r *Registry) Active() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, id := range r.ids {
		if o := r.orders[id]; !o.State.Terminal() {
			out = append(out, o.snapshot())
		}
	}
	return out
}

// CheckStuck runs the staleness policy for one order. A MARKET intent still
// PENDING past the market timeout is auto-cancelled with reason "Timeout";
// a LIMIT intent waiting in PENDING is normal. A SENT order past the max
// pending time gets a warning only — recovery is left to the caller.
func (r *Registry) CheckStuck(id string) {
	r.mu.Lock()
	o, ok := r.orders[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	state := o.State
	entered := o.Timestamps[state]
	isMarket := o.Details.IsMarket()
	age := r.now().Sub(entered)
	r.mu.Unlock()

	switch state {
	case StatePending:
		if age < r.tuning.MarketPendingTimeout {
			return
		}
		if isMarket {
			telemetry.Warnf("orders: MARKET order %s stuck in PENDING for %s, cancelling", id[:8], age)
			r.UpdateState(id, StateCancelled, Update{Reason: "Timeout"})
		} else {
			telemetry.Debugf("orders: LIMIT order %s still waiting in PENDING (ok)", id[:8])
		}
	case StateSent:
		if age >= r.tuning.MaxPendingTime {
			telemetry.Warnf("orders: order %s stuck in SENT for %s", id[:8], age)
		}
	}
}

func (r *Registry) publish(change Change) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:      events.EventOrderUpdate,
		Timestamp: time.Now(),
		Payload:   change,
	})
}

// Close stops all scheduled staleness checks.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}
