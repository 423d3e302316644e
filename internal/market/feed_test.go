package market

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFeed_FetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ohlcvResponse{
			Open:      []float64{100},
			High:      []float64{105},
			Low:       []float64{99},
			Close:     []float64{103},
			Volume:    []int64{1000},
			Timestamp: []int64{time.Date(2026, 2, 2, 0, 0, 0, 0, IST).Unix()},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bars, err := feed.FetchBars(t.Context(), "AAPL",
		time.Date(2026, 2, 1, 0, 0, 0, 0, IST), time.Date(2026, 2, 2, 0, 0, 0, 0, IST))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if bars[0].Close != 103 {
		t.Errorf("expected close 103, got %f", bars[0].Close)
	}
	if bars[0].Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", bars[0].Symbol)
	}
}

func TestHTTPFeed_RequiresAPIKey(t *testing.T) {
	_, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: "https://example.com"}, nil)
	if err == nil {
		t.Fatal("expected error when api key is missing")
	}
}

func TestHTTPFeed_UnauthorizedSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: srv.URL, APIKey: "bad-key"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	feed.client.RetryMax = 0

	_, err = feed.FetchBars(t.Context(), "AAPL",
		time.Date(2026, 2, 1, 0, 0, 0, 0, IST), time.Date(2026, 2, 1, 0, 0, 0, 0, IST))
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}
