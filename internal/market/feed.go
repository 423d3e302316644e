// feed.go implements Feed against a generic OHLCV HTTP provider.
//
// Market data fetching is deliberately separate from trade execution: this
// file never imports anything from ledger or qlearning.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// feedMaxChunkDays is the maximum span requested per HTTP call; larger
// ranges are chunked automatically.
const feedMaxChunkDays = 90

// HTTPFeedConfig configures HTTPFeed.
type HTTPFeedConfig struct {
	BaseURL string
	APIKey  string
}

// HTTPFeed implements Feed against a JSON HTTP OHLCV provider, with bounded
// retry/backoff so a transient 429 or 5xx never aborts a tick outright.
type HTTPFeed struct {
	cfg    HTTPFeedConfig
	client *retryablehttp.Client
}

// ohlcvResponse is the wire format returned by FetchBars/LatestQuote: arrays
// of open, high, low, close, volume, and epoch-second timestamps.
type ohlcvResponse struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []int64   `json:"volume"`
	Timestamp []int64   `json:"timestamp"`
}

// NewHTTPFeed creates an HTTPFeed. logger may be nil, in which case the
// retry client logs nothing.
func NewHTTPFeed(cfg HTTPFeedConfig, logger *log.Logger) (*HTTPFeed, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("market feed: api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("market feed: base url is required")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	if logger != nil {
		client.Logger = logger
	} else {
		client.Logger = nil
	}

	return &HTTPFeed{cfg: cfg, client: client}, nil
}

// FetchBars implements Feed. Ranges longer than feedMaxChunkDays are chunked
// into sequential requests.
func (f *HTTPFeed) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	var all []Bar
	chunkStart := from

	for !chunkStart.After(to) {
		chunkEnd := chunkStart.AddDate(0, 0, feedMaxChunkDays-1)
		if chunkEnd.After(to) {
			chunkEnd = to
		}

		resp, err := f.fetchRange(ctx, symbol, chunkStart, chunkEnd)
		if err != nil {
			return all, fmt.Errorf("market feed: fetch %s [%s to %s]: %w",
				symbol, chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}
		all = append(all, barsFromResponse(symbol, resp)...)

		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}

	return all, nil
}

// LatestQuote implements Feed.
func (f *HTTPFeed) LatestQuote(ctx context.Context, symbol string) (Bar, error) {
	now := time.Now().In(IST)
	resp, err := f.fetchRange(ctx, symbol, now.AddDate(0, 0, -5), now)
	if err != nil {
		return Bar{}, fmt.Errorf("market feed: latest quote %s: %w", symbol, err)
	}
	bars := barsFromResponse(symbol, resp)
	if len(bars) == 0 {
		return Bar{}, fmt.Errorf("market feed: no quote available for %s", symbol)
	}
	return bars[len(bars)-1], nil
}

func (f *HTTPFeed) fetchRange(ctx context.Context, symbol string, from, to time.Time) (*ohlcvResponse, error) {
	reqBody := struct {
		Symbol   string `json:"symbol"`
		FromDate string `json:"fromDate"`
		ToDate   string `json:"toDate"`
	}{
		Symbol:   symbol,
		FromDate: from.Format("2006-01-02"),
		ToDate:   to.Format("2006-01-02"),
	}

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		f.cfg.BaseURL+"/v1/bars/historical", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication failed (401): check feed api key")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed error %d: %s", resp.StatusCode, string(body))
	}

	var parsed ohlcvResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &parsed, nil
}

func barsFromResponse(symbol string, resp *ohlcvResponse) []Bar {
	if resp == nil {
		return nil
	}
	bars := make([]Bar, 0, len(resp.Timestamp))
	for i := range resp.Timestamp {
		t := time.Unix(resp.Timestamp[i], 0).In(IST)
		bars = append(bars, Bar{
			Symbol:    symbol,
			Timestamp: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST),
			Open:      resp.Open[i],
			High:      resp.High[i],
			Low:       resp.Low[i],
			Close:     resp.Close[i],
			Volume:    resp.Volume[i],
		})
	}
	return bars
}
