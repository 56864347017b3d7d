// Package fanout pushes state changes to connected UI clients over
// WebSocket, replacing the dashboard's in-page listener sets with a real
// transport. Clients subscribe to channels; a slow client drops messages
// rather than blocking delivery to the rest.
package fanout

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type client struct {
	channels map[string]bool
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
}

// Server fans out bus events to subscribed UI WebSocket clients.
//
// OnChannelChange, when set before ListenAndServe, is called with the new
// subscriber count whenever a channel gains or loses a client. The
// composition root uses it as the "is this view open" signal for the
// polling heartbeat.
type Server struct {
	OnChannelChange func(channel string, subscribers int)

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    map[string]int // channel -> subscriber count
}

func NewServer(bus *events.Bus) *Server {
	s := &Server{
		clients: make(map[*client]struct{}),
		subs:    make(map[string]int),
	}
	for _, t := range []events.EventType{
		events.EventOrderUpdate,
		events.EventChainSnapshot,
		events.EventPortfolioSnapshot,
		events.EventIndexQuote,
		events.EventStreamFailure,
	} {
		bus.Subscribe(t, s.forward)
	}
	return s
}

// forward runs on the publisher's goroutine. It serializes the event once
// and enqueues it to every subscribed client, non-blocking.
func (s *Server) forward(evt events.Event) error {
	channel, ok := channelFor(evt.Type)
	if !ok {
		return nil
	}
	data, err := marshalEvent(evt, channel)
	if err != nil {
		telemetry.Warnf("fanout: marshal %s: %v", evt.Type, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if !c.channels[channel] {
			continue
		}
		select {
		case c.send <- data:
		default:
			telemetry.Metrics.FanoutDrops.Inc()
			telemetry.Warnf("fanout: dropping %s message for slow client", channel)
		}
	}
	return nil
}

// HandleWS upgrades a UI client connection. Clients pick channels with
// ?channels=orders,quotes (comma-separated).
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		http.Error(w, "missing ?channels= query param", http.StatusBadRequest)
		return
	}
	channels := make(map[string]bool)
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels[ch] = true
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &client{
		channels: channels,
		conn:     conn,
		send:     make(chan []byte, clientSendBuf),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	var changed []string
	for ch := range channels {
		s.subs[ch]++
		changed = append(changed, ch)
	}
	counts := s.countsFor(changed)
	s.mu.Unlock()

	telemetry.Infof("fanout: client connected  channels=%s", channelList(channels))
	s.notifyChannelChange(changed, counts)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump drains the client's send channel and writes to the connection.
// It owns the client lifecycle: on exit it unregisters the client (so
// forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error: %v", err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// On exit it signals writePump via c.done (never closes c.send).
func (s *Server) readPump(c *client) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	var changed []string
	for ch := range c.channels {
		if s.subs[ch] > 0 {
			s.subs[ch]--
		}
		changed = append(changed, ch)
	}
	counts := s.countsFor(changed)
	s.mu.Unlock()

	telemetry.Infof("fanout: client disconnected  channels=%s", channelList(c.channels))
	s.notifyChannelChange(changed, counts)
}

// countsFor snapshots subscriber counts. Must hold s.mu.
func (s *Server) countsFor(channels []string) map[string]int {
	counts := make(map[string]int, len(channels))
	for _, ch := range channels {
		counts[ch] = s.subs[ch]
	}
	return counts
}

// notifyChannelChange runs the callback outside the server lock.
func (s *Server) notifyChannelChange(channels []string, counts map[string]int) {
	if s.OnChannelChange == nil {
		return
	}
	for _, ch := range channels {
		s.OnChannelChange(ch, counts[ch])
	}
}

func channelList(channels map[string]bool) string {
	out := make([]string, 0, len(channels))
	for ch := range channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
