// Package streams binds the generic request-ticket controller to the four
// concrete polling streams of the terminal: option chain, order book,
// portfolio, and index quotes. Each stream owns an independent request
// cycle; the order-book stream is the one that feeds reconciliation.
package streams

import (
	"context"
	"time"

	"github.com/optionsdesk/terminal/internal/activity"
	"github.com/optionsdesk/terminal/internal/adapters/outbound/broker_http"
	"github.com/optionsdesk/terminal/internal/config"
	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/poll"
)

const (
	StreamOptionChain = "option_chain"
	StreamOrderBook   = "order_book"
	StreamPortfolio   = "portfolio"
	StreamIndexQuotes = "index_quotes"
)

func controllerConfig(name string, t config.StreamTuning) poll.Config {
	return poll.Config{
		Name:       name,
		Timeout:    t.Timeout(),
		RetryDelay: t.RetryDelay(),
		RetryLimit: t.RetryLimit,
		Stuck:      t.Stuck(),
	}
}

// terminalReporter publishes retry-exhaustion as a bus event so UI
// collaborators can show "timeout after N attempts" vs "network error".
func terminalReporter(bus *events.Bus, stream string) func(*poll.TerminalError) {
	return func(te *poll.TerminalError) {
		bus.Publish(events.Event{
			Type:      events.EventStreamFailure,
			Stream:    stream,
			Timestamp: time.Now(),
			Payload: events.StreamFailure{
				Stream:   stream,
				Kind:     string(te.Kind),
				Attempts: te.Attempts,
				Message:  te.Error(),
			},
		})
	}
}

// NewOptionChain polls the option chain for the currently selected index
// and expiry. The recenter flag is derived from user idleness at fetch time.
func NewOptionChain(client *broker_http.Client, bus *events.Bus, sel *ChainSelection, act *activity.Tracker, tuning config.StreamTuning) *poll.Stream[events.ChainSnapshot] {
	fetch := func(ctx context.Context) (events.ChainSnapshot, error) {
		index, expiry, segment, strikes := sel.get()
		return client.FetchOptionChain(ctx, broker_http.ChainQuery{
			Index:    index,
			Expiry:   expiry,
			Strikes:  strikes,
			Segment:  segment,
			Recenter: act.Idle(),
		})
	}
	apply := func(snap events.ChainSnapshot) {
		bus.Publish(events.Event{
			Type:      events.EventChainSnapshot,
			Stream:    StreamOptionChain,
			Timestamp: time.Now(),
			Payload:   snap,
		})
	}
	return poll.NewStream(controllerConfig(StreamOptionChain, tuning), fetch, apply, terminalReporter(bus, StreamOptionChain))
}

// NewOrderBook polls the broker order book and hands every applied snapshot
// to the reconciler.
func NewOrderBook(client *broker_http.Client, bus *events.Bus, rc *orders.Reconciler, tuning config.StreamTuning) *poll.Stream[[]broker_http.BrokerOrder] {
	fetch := func(ctx context.Context) ([]broker_http.BrokerOrder, error) {
		return client.FetchOrderBook(ctx)
	}
	apply := func(snapshot []broker_http.BrokerOrder) {
		rc.Reconcile(snapshot)
	}
	return poll.NewStream(controllerConfig(StreamOrderBook, tuning), fetch, apply, terminalReporter(bus, StreamOrderBook))
}

// NewPortfolio polls positions.
func NewPortfolio(client *broker_http.Client, bus *events.Bus, tuning config.StreamTuning) *poll.Stream[[]events.Position] {
	fetch := func(ctx context.Context) ([]events.Position, error) {
		return client.FetchPortfolio(ctx)
	}
	apply := func(positions []events.Position) {
		bus.Publish(events.Event{
			Type:      events.EventPortfolioSnapshot,
			Stream:    StreamPortfolio,
			Timestamp: time.Now(),
			Payload:   events.PortfolioSnapshot{Positions: positions},
		})
	}
	return poll.NewStream(controllerConfig(StreamPortfolio, tuning), fetch, apply, terminalReporter(bus, StreamPortfolio))
}

// NewIndexQuotes polls the watch indices.
func NewIndexQuotes(client *broker_http.Client, bus *events.Bus, tuning config.StreamTuning) *poll.Stream[[]events.IndexQuote] {
	fetch := func(ctx context.Context) ([]events.IndexQuote, error) {
		return client.FetchIndexQuotes(ctx)
	}
	apply := func(quotes []events.IndexQuote) {
		for _, q := range quotes {
			bus.Publish(events.Event{
				Type:      events.EventIndexQuote,
				Stream:    StreamIndexQuotes,
				Timestamp: time.Now(),
				Payload:   q,
			})
		}
	}
	return poll.NewStream(controllerConfig(StreamIndexQuotes, tuning), fetch, apply, terminalReporter(bus, StreamIndexQuotes))
}
