package broker_http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/optionsdesk/terminal/internal/poll"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestFetchOrderBookNoDataIsEmptySuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"success": false, "errMsg": "No Data"})
	})

	book, err := c.FetchOrderBook(context.Background())
	if err != nil {
		t.Fatalf("empty book surfaced as error: %v", err)
	}
	if len(book) != 0 {
		t.Fatalf("book has %d rows, want 0", len(book))
	}
}

func TestFetchOrderBookProtocolFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"success": false, "message": "Session expired"})
	})

	_, err := c.FetchOrderBook(context.Background())
	if !errors.Is(err, poll.ErrProtocol) {
		t.Fatalf("error = %v, want ErrProtocol", err)
	}
	if !strings.Contains(err.Error(), "Session expired") {
		t.Fatalf("error %q lost the backend message", err)
	}
}

func TestFetchOrderBookNullCollectionTolerated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"orders":null}`))
	})

	book, err := c.FetchOrderBook(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if book == nil || len(book) != 0 {
		t.Fatalf("null orders decoded as %v", book)
	}
}

func TestFetchOrderBookParsesRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{
			"success": true,
			"orders": []map[string]any{{
				"order_number":     "B42",
				"symbol":           "NIFTY24400CE",
				"transaction_type": "BUY",
				"quantity":         75,
				"price":            101.5,
				"status":           "COMPLETED",
				"filled_quantity":  75,
			}},
		})
	})

	book, err := c.FetchOrderBook(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(book) != 1 {
		t.Fatalf("book has %d rows, want 1", len(book))
	}
	row := book[0]
	if row.OrderNumber != "B42" || row.Status != "COMPLETED" || row.FilledQuantity != 75 {
		t.Fatalf("row decoded as %+v", row)
	}
}

func TestFetchOptionChainSendsSelection(t *testing.T) {
	var gotQuery atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		respond(w, map[string]any{
			"success": true,
			"spot":    24372.4,
			"data": []map[string]any{{
				"strike": 24400.0,
				"call":   map[string]any{"bid": 98.2, "ask": 99.1, "ltp": 98.6},
				"put":    map[string]any{"bid": 121.0, "ask": 122.4, "ltp": 121.8},
			}},
		})
	})

	snap, err := c.FetchOptionChain(context.Background(), ChainQuery{
		Index:    "NIFTY",
		Expiry:   "2026-03-05",
		Strikes:  10,
		Segment:  "NFO",
		Recenter: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	q := gotQuery.Load().(string)
	for _, want := range []string{"index=NIFTY", "expiry=2026-03-05", "strikes=10", "recenter=true"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %q", q, want)
		}
	}
	if snap.Index != "NIFTY" || snap.Spot != 24372.4 || len(snap.Rows) != 1 {
		t.Fatalf("snapshot decoded as %+v", snap)
	}
	if snap.Rows[0].Call.LTP != 98.6 {
		t.Fatalf("call ltp = %v", snap.Rows[0].Call.LTP)
	}
}

func TestPlaceOrderRejectionIsProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"success": false, "message": "Insufficient margin"})
	})

	_, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{Symbol: "NIFTY24400CE"})
	if !errors.Is(err, poll.ErrProtocol) {
		t.Fatalf("error = %v, want ErrProtocol", err)
	}
}

func TestPlaceOrderReturnsBrokerNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req PlaceOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad order body: %v", err)
		}
		if req.TransactionType != "BUY" {
			t.Errorf("transaction type = %q", req.TransactionType)
		}
		respond(w, map[string]any{"success": true, "order_number": "B9", "order_id": "B9"})
	})

	resp, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol:          "NIFTY24400CE",
		TransactionType: "BUY",
		Quantity:        75,
		OrderType:       "MARKET",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.OrderNumber != "B9" {
		t.Fatalf("order number = %q", resp.OrderNumber)
	}
}

func TestFetchHonorsContextDeadline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		respond(w, map[string]any{"success": true})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FetchPortfolio(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded in chain", err)
	}
}

func TestLotSizeIsCached(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond(w, map[string]any{"success": true, "lot_size": 75})
	})

	for i := 0; i < 3; i++ {
		size, err := c.LotSize(context.Background(), "NIFTY24400CE", "NFO")
		if err != nil {
			t.Fatal(err)
		}
		if size != 75 {
			t.Fatalf("lot size = %d", size)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("backend hit %d times for a cached lookup, want 1", hits.Load())
	}
}
