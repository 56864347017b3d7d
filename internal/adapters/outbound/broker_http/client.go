package broker_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Client talks to the dashboard backend's HTTP/JSON API. The backend is an
// opaque, possibly slow or malformed collaborator: callers get a deadline
// via ctx, a success:false body surfaces as poll.ErrProtocol, and absent
// collections come back as empty, never as an error.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	lots *lotSizeCache
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Backstop only; the per-fetch deadline comes from ctx.
			Timeout: 15 * time.Second,
		},
		readLimiter:  rate.NewLimiter(rate.Limit(20), 20),
		writeLimiter: rate.NewLimiter(rate.Limit(5), 5),
		lots:         newLotSizeCache(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}
	if err := lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The transport wraps ctx errors; unwrap happens at classify
		// time via errors.Is.
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	telemetry.Debugf("broker: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// envelope is the backend's common response wrapper. Error text shows up
// under several keys depending on which backend path produced it.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ErrMsg  string `json:"errMsg,omitempty"`
	Stat    string `json:"stat,omitempty"`
}

func (e envelope) errText() string {
	if e.Message != "" {
		return e.Message
	}
	if e.ErrMsg != "" {
		return e.ErrMsg
	}
	return "request failed"
}

// isNoData reports the backend's "empty result dressed as an error" shape.
// The dashboard had two renditions of this check that disagreed; the
// empty-but-successful reading is canonical here.
func (e envelope) isNoData() bool {
	return e.ErrMsg == "No Data" || e.Message == "No Data"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
