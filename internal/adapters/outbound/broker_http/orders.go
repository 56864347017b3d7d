package broker_http

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/poll"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

// BrokerOrder is one row of the polled order book, keyed by the broker's
// order number. Status values observed: PENDING, COMPLETED, CANCELLED,
// REJECTED.
type BrokerOrder struct {
	OrderNumber     string  `json:"order_number"`
	Symbol          string  `json:"symbol"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
	Status          string  `json:"status"`
	Exchange        string  `json:"exchange,omitempty"`
	FilledQuantity  int     `json:"filled_quantity,omitempty"`
	PendingQuantity int     `json:"pending_quantity,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`
}

// FetchOrderBook polls GET /api/order-book. A "No Data" error body is a
// successful empty book, not a failure.
func (c *Client) FetchOrderBook(ctx context.Context) ([]BrokerOrder, error) {
	body, err := c.get(ctx, "/api/order-book", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		Orders []BrokerOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal order book: %w", err)
	}
	if !resp.Success {
		if resp.isNoData() {
			return []BrokerOrder{}, nil
		}
		return nil, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}
	if resp.Orders == nil {
		return []BrokerOrder{}, nil
	}
	return resp.Orders, nil
}

// FetchPortfolio polls GET /api/portfolio.
func (c *Client) FetchPortfolio(ctx context.Context) ([]events.Position, error) {
	body, err := c.get(ctx, "/api/portfolio", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		Positions []events.Position `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal portfolio: %w", err)
	}
	if !resp.Success {
		if resp.isNoData() {
			return []events.Position{}, nil
		}
		return nil, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}
	if resp.Positions == nil {
		return []events.Position{}, nil
	}
	return resp.Positions, nil
}

// PlaceOrderRequest is the payload for POST /api/place-order.
type PlaceOrderRequest struct {
	Symbol          string  `json:"symbol"`
	TransactionType string  `json:"transaction_type"` // "BUY" or "SELL"
	Quantity        int     `json:"quantity"`
	ProductCode     string  `json:"product_code"`
	Price           float64 `json:"price"`
	OrderType       string  `json:"order_type"` // "MARKET", "LIMIT", "SL", "SL-M"
	Validity        string  `json:"validity"`
	Segment         string  `json:"segment"`
}

type PlaceOrderResponse struct {
	OrderNumber string `json:"order_number"`
	OrderID     string `json:"order_id"`
}

// PlaceOrder submits a trading intent. Protocol rejections come back as
// poll.ErrProtocol so the caller never retries a logical rejection.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResponse, error) {
	start := time.Now()
	body, err := c.post(ctx, "/api/place-order", req)
	if err != nil {
		return PlaceOrderResponse{}, err
	}
	telemetry.Metrics.OrderPlaceLatency.Record(time.Since(start))

	var resp struct {
		envelope
		PlaceOrderResponse
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return PlaceOrderResponse{}, fmt.Errorf("unmarshal place order: %w", err)
	}
	if !resp.Success {
		return PlaceOrderResponse{}, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}

	telemetry.Infof("broker: order placed %s %s qty=%d -> %s",
		req.TransactionType, req.Symbol, req.Quantity, resp.OrderNumber)
	return resp.PlaceOrderResponse, nil
}
