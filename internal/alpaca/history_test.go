package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"strategylab/internal/domain"
)

type fakeClient struct {
	bars  map[string][]marketdata.Bar
	fails int
	calls int
	last  marketdata.GetBarsRequest
}

func (f *fakeClient) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.calls++
	f.last = req
	if f.calls <= f.fails {
		return nil, errors.New("503 service unavailable")
	}
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

func testHistory(c *fakeClient) *History {
	return newHistory(c, Options{Feed: "iex", RetryDelay: time.Millisecond}, nil)
}

func TestGetHistoryNormalisesDailyBars(t *testing.T) {
	c := &fakeClient{bars: map[string][]marketdata.Bar{
		"AAPL": {
			// Midnight New York time in winter and summer.
			{Timestamp: time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 200},
			{Timestamp: time.Date(2024, 3, 8, 5, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		},
	}}
	h := testHistory(c)

	bars, err := h.GetHistory(context.Background(), "aapl", domain.Timeframe1Day, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	want0 := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	if !bars[0].Timestamp.Equal(want0) {
		t.Errorf("bars[0].Timestamp = %v, want %v", bars[0].Timestamp, want0)
	}
	if bars[1].Volume != 200 || bars[1].Symbol != "AAPL" {
		t.Errorf("bars[1] = %+v", bars[1])
	}
	if c.last.Feed != "iex" {
		t.Errorf("request Feed = %q, want iex", c.last.Feed)
	}
	if c.last.TimeFrame != marketdata.OneDay {
		t.Errorf("request TimeFrame = %v, want OneDay", c.last.TimeFrame)
	}
}

func TestGetHistoryUnavailable(t *testing.T) {
	h := testHistory(&fakeClient{})
	_, err := h.GetHistory(context.Background(), "NONE", domain.Timeframe1Day, time.Time{}, time.Time{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestFetchBarsRetries(t *testing.T) {
	c := &fakeClient{fails: 2, bars: map[string][]marketdata.Bar{
		"MSFT": {{Timestamp: time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), Close: 1}},
	}}
	h := testHistory(c)

	got, err := h.FetchBars(context.Background(), []string{"MSFT"}, domain.Timeframe1Hour, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
	// Intraday timestamps are kept as-is.
	if ts := got["MSFT"][0].Timestamp; ts.Hour() != 14 || ts.Minute() != 30 {
		t.Errorf("intraday timestamp = %v", ts)
	}
}

func TestFetchBarsGivesUp(t *testing.T) {
	c := &fakeClient{fails: 10}
	h := testHistory(c)
	if _, err := h.FetchBars(context.Background(), []string{"X"}, domain.Timeframe1Day, time.Time{}, time.Time{}); err == nil {
		t.Fatal("FetchBars should fail after exhausting attempts")
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
}

func TestGetHistoryRequestFailure(t *testing.T) {
	h := testHistory(&fakeClient{fails: 10})
	_, err := h.GetHistory(context.Background(), "X", domain.Timeframe1Day, time.Time{}, time.Time{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestFetchBarsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHistory(&fakeClient{}, Options{RateLimitPerMin: 1}, nil)
	// Drain the initial token so Wait must observe the cancelled context.
	h.limiter.TryAcquire()
	if _, err := h.FetchBars(ctx, []string{"X"}, domain.Timeframe1Day, time.Time{}, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTimeFrameMapping(t *testing.T) {
	for _, tf := range []domain.Timeframe{
		domain.Timeframe1Min, domain.Timeframe5Min, domain.Timeframe15Min, domain.Timeframe30Min,
		domain.Timeframe1Hour, domain.Timeframe4Hour, domain.Timeframe1Day, domain.Timeframe1Week,
	} {
		if _, err := timeFrame(tf); err != nil {
			t.Errorf("timeFrame(%q): %v", tf, err)
		}
	}
	if got, _ := timeFrame(domain.Timeframe4Hour); got != marketdata.NewTimeFrame(4, marketdata.Hour) {
		t.Errorf("timeFrame(4h) = %v", got)
	}
	if _, err := timeFrame("2d"); err == nil {
		t.Error("timeFrame(2d) should fail")
	}
}
