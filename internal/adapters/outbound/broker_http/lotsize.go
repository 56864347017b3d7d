package broker_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/optionsdesk/terminal/internal/poll"
)

// Lot sizes change on contract rollover, not intraday.
const lotSizeTTL = time.Hour

type lotEntry struct {
	size    int
	fetched time.Time
}

// lotSizeCache collapses concurrent lookups for the same (symbol, segment)
// into a single HTTP call and caches results with a TTL. The dashboard hit
// this endpoint on every basket row and every order-entry open; uncached it
// was the noisiest call in the system.
type lotSizeCache struct {
	mu      sync.RWMutex
	entries map[string]lotEntry
	sfGroup singleflight.Group
}

func newLotSizeCache() *lotSizeCache {
	return &lotSizeCache{entries: make(map[string]lotEntry)}
}

// LotSize resolves the broker-defined lot multiplier for a symbol within a
// segment.
func (c *Client) LotSize(ctx context.Context, symbol, segment string) (int, error) {
	key := segment + ":" + symbol

	c.lots.mu.RLock()
	e, ok := c.lots.entries[key]
	c.lots.mu.RUnlock()
	if ok && time.Since(e.fetched) < lotSizeTTL {
		return e.size, nil
	}

	v, err, _ := c.lots.sfGroup.Do(key, func() (any, error) {
		size, err := c.fetchLotSize(ctx, symbol, segment)
		if err != nil {
			return 0, err
		}
		c.lots.mu.Lock()
		c.lots.entries[key] = lotEntry{size: size, fetched: time.Now()}
		c.lots.mu.Unlock()
		return size, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Client) fetchLotSize(ctx context.Context, symbol, segment string) (int, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("segment", segment)

	body, err := c.get(ctx, "/api/lot-size", params)
	if err != nil {
		return 0, err
	}

	var resp struct {
		envelope
		LotSize int `json:"lot_size"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal lot size: %w", err)
	}
	if !resp.Success {
		return 0, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}
	if resp.LotSize <= 0 {
		return 0, fmt.Errorf("%w: lot size missing for %s", poll.ErrProtocol, symbol)
	}
	return resp.LotSize, nil
}
