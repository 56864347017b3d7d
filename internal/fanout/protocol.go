package fanout

import (
	"encoding/json"
	"time"

	"github.com/optionsdesk/terminal/internal/events"
)

// Channel names UI clients can subscribe to.
const (
	ChannelOrders    = "orders"
	ChannelQuotes    = "quotes"
	ChannelPortfolio = "portfolio"
	ChannelIndexes   = "indexes"
	ChannelAlerts    = "alerts"
)

// channelFor maps a bus event type to the UI channel it belongs on.
func channelFor(t events.EventType) (string, bool) {
	switch t {
	case events.EventOrderUpdate:
		return ChannelOrders, true
	case events.EventChainSnapshot:
		return ChannelQuotes, true
	case events.EventPortfolioSnapshot:
		return ChannelPortfolio, true
	case events.EventIndexQuote:
		return ChannelIndexes, true
	case events.EventStreamFailure:
		return ChannelAlerts, true
	default:
		return "", false
	}
}

// wireMessage is the envelope written to UI clients.
type wireMessage struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Stream    string    `json:"stream,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func marshalEvent(evt events.Event, channel string) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:      string(evt.Type),
		Channel:   channel,
		Stream:    evt.Stream,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	})
}
