package orders

import "time"

// State is an order's position in its local lifecycle. PENDING is reserved
// for intents not yet sent to the broker; a broker-acknowledged order that is
// still outstanding is CONFIRMED.
type State string

const (
	StatePending         State = "PENDING"
	StateSent            State = "SENT"
	StateConfirmed       State = "CONFIRMED"
	StateFilled          State = "FILLED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateRejected        State = "REJECTED"
	StateCancelled       State = "CANCELLED"
)

// validTransitions is the full transition table. Absent targets are
// rejected; terminal states have no outgoing edges.
var validTransitions = map[State][]State{
	StatePending:         {StateSent, StateCancelled, StateRejected},
	StateSent:            {StateConfirmed, StateRejected, StateCancelled},
	StateConfirmed:       {StateFilled, StatePartiallyFilled, StateCancelled},
	StateFilled:          {},
	StateRejected:        {},
	StateCancelled:       {},
	StatePartiallyFilled: {},
}

func (s State) CanTransition(to State) bool {
	for _, t := range validTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Details is the immutable intent snapshot supplied at creation.
type Details struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`     // "BUY" or "SELL"
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	PriceType  string  `json:"price_type"` // "MARKET", "LIMIT", "SL", "SL-M"
	Product    string  `json:"product"`
	Segment    string  `json:"segment"`
	Strike     float64 `json:"strike,omitempty"`
	OptionType string  `json:"option_type,omitempty"` // "CE" or "PE"
}

// IsMarket reports whether the intent should confirm near-instantly. An
// explicit zero price is treated as MARKET the way the broker does.
func (d Details) IsMarket() bool {
	return d.PriceType == "MARKET" || d.Price == 0
}

// Order is a locally tracked trading intent.
type Order struct {
	ID      string  `json:"id"`
	Details Details `json:"details"`
	State   State   `json:"state"`

	// Timestamps records when each state was entered. A state's entry is
	// written exactly once and never cleared.
	Timestamps map[State]time.Time `json:"timestamps"`
	CreatedAt  time.Time           `json:"created_at"`

	// Reconciliation join keys, set once the broker acknowledges.
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	OrderNumber   string `json:"order_number,omitempty"`

	Exchange        string `json:"exchange,omitempty"`
	FilledQuantity  int    `json:"filled_quantity,omitempty"`
	PendingQuantity int    `json:"pending_quantity,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// Diagnostics only; never consulted for transition validity.
	RetryCount int    `json:"retry_count,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func (o *Order) snapshot() Order {
	cp := *o
	cp.Timestamps = make(map[State]time.Time, len(o.Timestamps))
	for k, v := range o.Timestamps {
		cp.Timestamps[k] = v
	}
	return cp
}
