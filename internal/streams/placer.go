package streams

import (
	"context"
	"errors"
	"fmt"

	"github.com/optionsdesk/terminal/internal/adapters/outbound/broker_http"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/poll"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

// ErrDuplicatePending means an identical (symbol, action) intent is already
// waiting; the caller must not build a second submission.
var ErrDuplicatePending = errors.New("identical order already pending")

// Placer drives the submit side of the order lifecycle: dedup check, local
// PENDING registration, broker submission, then SENT or REJECTED. From SENT
// onward the polled order book takes over via reconciliation.
type Placer struct {
	client   *broker_http.Client
	registry *orders.Registry
}

func NewPlacer(client *broker_http.Client, registry *orders.Registry) *Placer {
	return &Placer{client: client, registry: registry}
}

// Place submits an intent. The returned id is valid even on error: the
// order exists locally and its staleness policy is already armed, so a lost
// MARKET submission cancels itself instead of lingering.
func (p *Placer) Place(ctx context.Context, details orders.Details) (string, error) {
	if !p.registry.CanPlace(details.Symbol, details.Action) {
		telemetry.Metrics.DuplicatesBlocked.Inc()
		return "", fmt.Errorf("%w: %s %s", ErrDuplicatePending, details.Action, details.Symbol)
	}

	id := p.registry.Create(details)

	resp, err := p.client.PlaceOrder(ctx, broker_http.PlaceOrderRequest{
		Symbol:          details.Symbol,
		TransactionType: details.Action,
		Quantity:        details.Quantity,
		ProductCode:     details.Product,
		Price:           details.Price,
		OrderType:       details.PriceType,
		Validity:        "DAY",
		Segment:         details.Segment,
	})
	if err != nil {
		if errors.Is(err, poll.ErrProtocol) {
			// Logical rejection: terminal, never retried.
			p.registry.UpdateState(id, orders.StateRejected, orders.Update{Reason: err.Error()})
			return id, err
		}
		// Transport failure: the order stays PENDING; if it was a MARKET
		// intent the staleness check cancels it shortly.
		telemetry.Warnf("placer: submit failed for %s, left PENDING: %v", details.Symbol, err)
		return id, err
	}

	p.registry.UpdateState(id, orders.StateSent, orders.Update{
		OrderNumber:   resp.OrderNumber,
		BrokerOrderID: resp.OrderNumber,
	})
	return id, nil
}
