package broker_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/poll"
)

// ChainQuery selects the option chain slice to fetch. Recenter carries the
// user-idle signal: when the user has gone quiet the backend may re-anchor
// the strike window around spot. It is a parameter value only.
type ChainQuery struct {
	Index    string
	Expiry   string
	Strikes  int
	Segment  string
	Recenter bool
}

// FetchOptionChain polls GET /api/option-chain for one index.
func (c *Client) FetchOptionChain(ctx context.Context, q ChainQuery) (events.ChainSnapshot, error) {
	params := url.Values{}
	params.Set("index", q.Index)
	if q.Expiry != "" {
		params.Set("expiry", q.Expiry)
	}
	if q.Strikes > 0 {
		params.Set("strikes", strconv.Itoa(q.Strikes))
	}
	if q.Segment != "" {
		params.Set("segment", q.Segment)
	}
	params.Set("recenter", strconv.FormatBool(q.Recenter))

	body, err := c.get(ctx, "/api/option-chain", params)
	if err != nil {
		return events.ChainSnapshot{}, err
	}

	var resp struct {
		envelope
		Data []events.StrikeRow `json:"data"`
		Spot float64            `json:"spot"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return events.ChainSnapshot{}, fmt.Errorf("unmarshal option chain: %w", err)
	}
	if !resp.Success {
		return events.ChainSnapshot{}, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}

	return events.ChainSnapshot{
		Index: q.Index,
		Spot:  resp.Spot,
		Rows:  resp.Data, // nil tolerated: an empty chain renders as "no data"
	}, nil
}

// FetchIndexQuotes polls GET /api/index-quotes for the watch indices.
func (c *Client) FetchIndexQuotes(ctx context.Context) ([]events.IndexQuote, error) {
	body, err := c.get(ctx, "/api/index-quotes", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		Indexes []events.IndexQuote `json:"indexes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal index quotes: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", poll.ErrProtocol, resp.errText())
	}
	if resp.Indexes == nil {
		return []events.IndexQuote{}, nil
	}
	return resp.Indexes, nil
}
