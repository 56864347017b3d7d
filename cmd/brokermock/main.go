// brokermock is a standalone fake of the dashboard backend, serving every
// endpoint the terminal polls so the full pipeline runs without a broker
// session. Placed orders complete on their own after a short delay; MARKET
// fast, LIMIT slow.
//
// With -chaos, a fraction of requests stall past the fetch timeout, fail at
// the HTTP layer, or return success:false bodies, to exercise the retry,
// watchdog, and protocol-error paths.
//
// Usage:
//
//	go run cmd/brokermock/main.go [-port 5000] [-chaos]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	marketFillDelay = 1500 * time.Millisecond
	limitFillDelay  = 6 * time.Second
)

var indexSpots = map[string]float64{
	"NIFTY":     24350,
	"BANKNIFTY": 51200,
	"FINNIFTY":  23100,
}

var strikeSteps = map[string]float64{
	"NIFTY":     50,
	"BANKNIFTY": 100,
	"FINNIFTY":  50,
}

var lotSizes = map[string]int{
	"NIFTY":     75,
	"BANKNIFTY": 35,
	"FINNIFTY":  65,
}

type bookOrder struct {
	orderNumber string
	symbol      string
	txType      string
	quantity    int
	price       float64
	orderType   string
	segment     string
	placedAt    time.Time
	fillAt      time.Time
	cancelled   bool
}

func (o *bookOrder) status(now time.Time) string {
	if o.cancelled {
		return "CANCELLED"
	}
	if now.After(o.fillAt) {
		return "COMPLETED"
	}
	return "PENDING"
}

type mockBroker struct {
	chaos bool

	mu     sync.Mutex
	rng    *rand.Rand
	spots  map[string]float64
	orders []*bookOrder
	seq    int
}

func main() {
	port := flag.Int("port", 5000, "listen port")
	chaos := flag.Bool("chaos", false, "inject stalls, HTTP errors, and protocol failures")
	flag.Parse()

	m := &mockBroker{
		chaos: *chaos,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		spots: map[string]float64{},
	}
	for idx, spot := range indexSpots {
		m.spots[idx] = spot
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/option-chain", m.withChaos(m.optionChain))
	mux.HandleFunc("GET /api/order-book", m.withChaos(m.orderBook))
	mux.HandleFunc("GET /api/portfolio", m.withChaos(m.portfolio))
	mux.HandleFunc("GET /api/index-quotes", m.withChaos(m.indexQuotes))
	mux.HandleFunc("GET /api/lot-size", m.withChaos(m.lotSize))
	mux.HandleFunc("POST /api/place-order", m.placeOrder)

	addr := fmt.Sprintf(":%d", *port)
	fmt.Printf("=== Broker Mock ===\nListening on %s  chaos=%t\n", addr, *chaos)
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Printf("server: %v\n", err)
	}
}

// withChaos occasionally turns a request into a stall, a 500, or a
// success:false body. Reads only; order placement stays deterministic.
func (m *mockBroker) withChaos(next http.HandlerFunc) http.HandlerFunc {
	if !m.chaos {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		roll := m.rng.Float64()
		m.mu.Unlock()

		switch {
		case roll < 0.08:
			// Past the 5s fetch timeout and the 6s stuck threshold.
			fmt.Printf("chaos: stalling %s\n", r.URL.Path)
			time.Sleep(7 * time.Second)
		case roll < 0.13:
			fmt.Printf("chaos: 500 for %s\n", r.URL.Path)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		case roll < 0.18:
			fmt.Printf("chaos: protocol failure for %s\n", r.URL.Path)
			writeJSON(w, map[string]any{"success": false, "message": "Session expired"})
			return
		}
		next(w, r)
	}
}

func (m *mockBroker) optionChain(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	strikes, _ := strconv.Atoi(r.URL.Query().Get("strikes"))
	if strikes <= 0 {
		strikes = 10
	}

	m.mu.Lock()
	spot, ok := m.spots[index]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, map[string]any{"success": false, "errMsg": "Unknown index " + index})
		return
	}
	spot = m.walk(index, spot)
	step := strikeSteps[index]
	rows := make([]map[string]any, 0, strikes)
	atm := math.Round(spot/step) * step
	for i := -strikes / 2; i < strikes-strikes/2; i++ {
		strike := atm + float64(i)*step
		rows = append(rows, map[string]any{
			"strike": strike,
			"call":   m.leg(spot, strike, true),
			"put":    m.leg(spot, strike, false),
		})
	}
	m.mu.Unlock()

	writeJSON(w, map[string]any{
		"success": true,
		"spot":    round2(spot),
		"data":    rows,
	})
}

// leg prices an option at intrinsic value plus noisy time value. Must hold m.mu.
func (m *mockBroker) leg(spot, strike float64, call bool) map[string]any {
	intrinsic := spot - strike
	if !call {
		intrinsic = strike - spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	timeValue := 40 + m.rng.Float64()*60
	ltp := intrinsic + timeValue
	spread := 0.5 + m.rng.Float64()*2
	return map[string]any{
		"bid": round2(ltp - spread/2),
		"ask": round2(ltp + spread/2),
		"ltp": round2(ltp),
		"oi":  10000 + m.rng.Intn(500000),
	}
}

func (m *mockBroker) orderBook(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.orders) == 0 {
		// The real backend dresses an empty book as an error.
		writeJSON(w, map[string]any{"success": false, "errMsg": "No Data"})
		return
	}

	now := time.Now()
	rows := make([]map[string]any, 0, len(m.orders))
	for _, o := range m.orders {
		status := o.status(now)
		filled, pending := 0, o.quantity
		if status == "COMPLETED" {
			filled, pending = o.quantity, 0
		}
		rows = append(rows, map[string]any{
			"order_number":     o.orderNumber,
			"symbol":           o.symbol,
			"transaction_type": o.txType,
			"quantity":         o.quantity,
			"price":            o.price,
			"status":           status,
			"exchange":         "NSE",
			"filled_quantity":  filled,
			"pending_quantity": pending,
			"timestamp":        o.placedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, map[string]any{"success": true, "orders": rows})
}

func (m *mockBroker) portfolio(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	net := map[string]*struct {
		qty      int
		cost     float64
		segment  string
		lastSeen float64
	}{}
	for _, o := range m.orders {
		if o.status(now) != "COMPLETED" {
			continue
		}
		p, ok := net[o.symbol]
		if !ok {
			p = &struct {
				qty      int
				cost     float64
				segment  string
				lastSeen float64
			}{segment: o.segment}
			net[o.symbol] = p
		}
		qty := o.quantity
		if o.txType == "SELL" {
			qty = -qty
		}
		p.qty += qty
		p.cost += float64(qty) * o.price
		p.lastSeen = o.price
	}

	positions := make([]map[string]any, 0, len(net))
	for sym, p := range net {
		if p.qty == 0 {
			continue
		}
		avg := p.cost / float64(p.qty)
		ltp := p.lastSeen * (1 + (m.rng.Float64()-0.5)*0.02)
		positions = append(positions, map[string]any{
			"symbol":    sym,
			"segment":   p.segment,
			"product":   "MIS",
			"quantity":  p.qty,
			"avg_price": round2(avg),
			"ltp":       round2(ltp),
			"pnl":       round2(float64(p.qty) * (ltp - avg)),
		})
	}
	writeJSON(w, map[string]any{"success": true, "positions": positions})
}

func (m *mockBroker) indexQuotes(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	quotes := make([]map[string]any, 0, len(m.spots))
	for idx, spot := range m.spots {
		next := m.walk(idx, spot)
		quotes = append(quotes, map[string]any{
			"index":  idx,
			"price":  round2(next),
			"change": round2(next - indexSpots[idx]),
		})
	}
	m.mu.Unlock()

	writeJSON(w, map[string]any{"success": true, "indexes": quotes})
}

func (m *mockBroker) lotSize(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	size, ok := lotSizes[rootIndex(symbol)]
	if !ok {
		writeJSON(w, map[string]any{"success": false, "errMsg": "Unknown symbol " + symbol})
		return
	}
	writeJSON(w, map[string]any{"success": true, "lot_size": size})
}

func (m *mockBroker) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol          string  `json:"symbol"`
		TransactionType string  `json:"transaction_type"`
		Quantity        int     `json:"quantity"`
		Price           float64 `json:"price"`
		OrderType       string  `json:"order_type"`
		Segment         string  `json:"segment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, map[string]any{"success": false, "message": "Invalid order payload"})
		return
	}
	if req.Quantity <= 0 {
		writeJSON(w, map[string]any{"success": false, "message": "Quantity must be positive"})
		return
	}

	delay := marketFillDelay
	if req.OrderType == "LIMIT" {
		delay = limitFillDelay
	}

	m.mu.Lock()
	m.seq++
	now := time.Now()
	o := &bookOrder{
		orderNumber: fmt.Sprintf("MOCK%06d", m.seq),
		symbol:      req.Symbol,
		txType:      req.TransactionType,
		quantity:    req.Quantity,
		price:       req.Price,
		orderType:   req.OrderType,
		segment:     req.Segment,
		placedAt:    now,
		fillAt:      now.Add(delay),
	}
	m.orders = append(m.orders, o)
	m.mu.Unlock()

	fmt.Printf("order: %s %s %s qty=%d @ %.2f (%s, fills in %s)\n",
		o.orderNumber, o.txType, o.symbol, o.quantity, o.price, o.orderType, delay)

	writeJSON(w, map[string]any{
		"success":      true,
		"order_number": o.orderNumber,
		"order_id":     o.orderNumber,
	})
}

// walk advances an index's random walk one step. Must hold m.mu.
func (m *mockBroker) walk(index string, spot float64) float64 {
	next := spot * (1 + (m.rng.Float64()-0.5)*0.001)
	m.spots[index] = next
	return next
}

// rootIndex strips the option suffix from a contract symbol, e.g.
// NIFTY24SEP24400CE -> NIFTY. Longest prefix wins so BANKNIFTY contracts
// never resolve as NIFTY.
func rootIndex(symbol string) string {
	best := symbol
	bestLen := 0
	for idx := range lotSizes {
		if len(idx) > bestLen && strings.HasPrefix(symbol, idx) {
			best, bestLen = idx, len(idx)
		}
	}
	return best
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
