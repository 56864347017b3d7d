package ui_api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/optionsdesk/terminal/internal/activity"
	"github.com/optionsdesk/terminal/internal/adapters/outbound/broker_http"
	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/poll"
	"github.com/optionsdesk/terminal/internal/streams"
)

type fixture struct {
	api      *httptest.Server
	registry *orders.Registry
}

// newFixture stands up the API over a fake broker that accepts every order.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "order_number": "B100", "order_id": "B100",
		})
	}))
	t.Cleanup(broker.Close)

	bus := events.NewBus()
	registry := orders.NewRegistry(bus, orders.DefaultTuning())
	t.Cleanup(registry.Close)

	placer := streams.NewPlacer(broker_http.NewClient(broker.URL), registry)
	sel := streams.NewChainSelection("NIFTY", "NFO", 10)
	tracker := activity.NewTracker(5 * time.Second)
	hb := poll.NewHeartbeat(time.Second)

	mux := http.NewServeMux()
	NewHandler(placer, registry, sel, tracker, hb, nil).RegisterRoutes(mux)
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	return &fixture{api: api, registry: registry}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(f.api.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPlaceOrderEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/orders", orders.Details{
		Symbol:    "NIFTY24400CE",
		Action:    "BUY",
		Quantity:  75,
		PriceType: "MARKET",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	o, ok := f.registry.Get(out["id"])
	if !ok {
		t.Fatalf("order %q not in registry", out["id"])
	}
	if o.State != orders.StateSent || o.OrderNumber != "B100" {
		t.Fatalf("order = %s / %q, want SENT / B100", o.State, o.OrderNumber)
	}
}

func TestPlaceOrderRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/orders", orders.Details{Symbol: "NIFTY24400CE", Action: "BUY"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for zero quantity", resp.StatusCode)
	}
}

func TestPlaceOrderDuplicatePendingConflicts(t *testing.T) {
	f := newFixture(t)

	// An intent already waiting locally blocks an identical submission.
	f.registry.Create(orders.Details{
		Symbol: "NIFTY24400CE", Action: "BUY", Quantity: 75, PriceType: "MARKET",
	})

	resp := f.post(t, "/api/orders", orders.Details{
		Symbol: "NIFTY24400CE", Action: "BUY", Quantity: 75, PriceType: "MARKET",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newFixture(t)

	id := f.registry.Create(orders.Details{
		Symbol: "NIFTY24400CE", Action: "BUY", Quantity: 75, PriceType: "MARKET",
	})

	resp := f.post(t, "/api/orders/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if o, _ := f.registry.Get(id); o.State != orders.StateCancelled {
		t.Fatalf("state = %s, want CANCELLED", o.State)
	}

	// Cancelling a terminal order is a conflict, not a repeat.
	resp = f.post(t, "/api/orders/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", resp.StatusCode)
	}

	resp = f.post(t, "/api/orders/nope/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	id := f.registry.Create(orders.Details{
		Symbol: "NIFTY24400CE", Action: "BUY", Quantity: 75, PriceType: "MARKET",
	})
	f.registry.UpdateState(id, orders.StateCancelled, orders.Update{})

	resp, err := http.Get(f.api.URL + "/api/orders")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var all []orders.Order
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("listed %d orders, want 1", len(all))
	}

	resp, err = http.Get(f.api.URL + "/api/orders?active=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var active []orders.Order
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("listed %d active orders, want 0", len(active))
	}
}

func TestSelectionRequiresIndex(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/chain/selection", selectionRequest{Expiry: "2026-03-05"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = f.post(t, "/api/chain/selection", selectionRequest{Index: "BANKNIFTY", Expiry: "2026-03-05"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestHistoryDisabledReturns503(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.api.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestVisibilityEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/visibility", visibilityRequest{Visible: false})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}
