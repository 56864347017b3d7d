package events

import "time"

// Event is the envelope that flows through the event bus.
// Every state change (order transition, polled snapshot, stream failure)
// is wrapped in one.
type Event struct {
	Type      EventType
	Stream    string
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Order lifecycle
	EventOrderUpdate EventType = "order_update"
	// Polled snapshots
	EventChainSnapshot     EventType = "chain_snapshot"
	EventPortfolioSnapshot EventType = "portfolio_snapshot"
	EventIndexQuote        EventType = "index_quote"
	// A polling stream exhausted its retry budget
	EventStreamFailure EventType = "stream_failure"
)
