package events

// StrikeRow is one row of a polled option chain: both legs at one strike.
type StrikeRow struct {
	Strike float64   `json:"strike"`
	Call   OptionLeg `json:"call"`
	Put    OptionLeg `json:"put"`
}

type OptionLeg struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	LTP float64 `json:"ltp"`
	OI  int64   `json:"oi,omitempty"`
	ATP float64 `json:"atp,omitempty"`
}

// ChainSnapshot is published after each applied option-chain poll.
type ChainSnapshot struct {
	Index string      `json:"index"`
	Spot  float64     `json:"spot"`
	Rows  []StrikeRow `json:"rows"`
}

// Position is one portfolio holding from the broker.
type Position struct {
	Symbol   string  `json:"symbol"`
	Segment  string  `json:"segment"`
	Product  string  `json:"product"`
	Quantity int     `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	LTP      float64 `json:"ltp"`
	PnL      float64 `json:"pnl"`
}

// PortfolioSnapshot is published after each applied portfolio poll.
type PortfolioSnapshot struct {
	Positions []Position `json:"positions"`
}

// IndexQuote is published per index after each index-prices poll.
type IndexQuote struct {
	Index  string  `json:"index"`
	Price  float64 `json:"price"`
	Change float64 `json:"change"`
}

// StreamFailure is published when a stream's retry budget is exhausted.
// Kind is "timeout" or "network".
type StreamFailure struct {
	Stream   string `json:"stream"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
}
