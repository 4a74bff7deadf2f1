package providers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finwatch/wealthtracker/internal/apierr"
)

func TestMarketFor(t *testing.T) {
	tests := []struct {
		symbol string
		want   Market
	}{
		{"AAPL", MarketUS},
		{"MSFT", MarketUS},
		{"2330", MarketTW},
		{"0050", MarketTW},
		{"2330.TW", MarketTW},
		{"6758.T", MarketTW},
		{"2330.tw", MarketTW},
		{"123", MarketUS},
		{"12345", MarketUS},
		{"BRK.A", MarketUS},
		{" 2330 ", MarketTW},
	}
	for _, tt := range tests {
		if got := MarketFor(tt.symbol); got != tt.want {
			t.Errorf("MarketFor(%q)=%v want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestCleanTaiwanSymbol(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2330.TW", "2330"},
		{"6758.T", "6758"},
		{"2330", "2330"},
		{" 0050.tw ", "0050"},
	}
	for _, tt := range tests {
		if got := CleanTaiwanSymbol(tt.in); got != tt.want {
			t.Errorf("CleanTaiwanSymbol(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func newFinnhubTest(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFinnhubClient(FinnhubConfig{
		BaseURL:            srv.URL,
		APIKey:             "test-key",
		RateLimitPerMinute: 6000,
	})
}

func TestFinnhubQuote(t *testing.T) {
	client := newFinnhubTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol=%q want AAPL", got)
		}
		if got := r.URL.Query().Get("token"); got != "test-key" {
			t.Errorf("token=%q", got)
		}
		w.Write([]byte(`{"c":150.25,"d":2.5,"dp":1.69,"h":151.0,"l":148.5,"o":149.0,"pc":147.75,"t":1700000000}`))
	})

	q, err := client.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 150.25 || q.Change != 2.5 || q.ChangePercent != 1.69 {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.PreviousClose != 147.75 || q.Provider != "finnhub" {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestFinnhubQuoteUnknownSymbol(t *testing.T) {
	client := newFinnhubTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	})

	_, err := client.Quote(context.Background(), "NOSUCH")
	if err == nil {
		t.Fatal("want error for empty quote")
	}
	if apierr.Classify(err) != apierr.DataValidation {
		t.Errorf("class=%v want DataValidation", apierr.Classify(err))
	}
}

func TestFinnhubHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   apierr.Class
	}{
		{429, apierr.RateLimit},
		{500, apierr.ServerError},
		{503, apierr.ServerError},
		{401, apierr.InvalidCall},
	}
	for _, tt := range tests {
		client := newFinnhubTest(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := client.Quote(context.Background(), "AAPL")
		if err == nil {
			t.Fatalf("status %d: want error", tt.status)
		}
		var httpErr *apierr.HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("status %d: want HTTPError, got %T", tt.status, err)
		}
		if got := apierr.Classify(err); got != tt.want {
			t.Errorf("status %d: class=%v want %v", tt.status, got, tt.want)
		}
	}
}

func TestFinnhubSearch(t *testing.T) {
	client := newFinnhubTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"count":2,"result":[
			{"symbol":"AAPL","displaySymbol":"AAPL","description":"Apple Inc","type":"Common Stock"},
			{"symbol":"","displaySymbol":"APLE","description":"Apple Hospitality","type":"REIT"}]}`))
	})

	items, err := client.Search(context.Background(), "apple")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len=%d want 2", len(items))
	}
	if items[0].Symbol != "AAPL" || items[0].ShortName != "Apple Inc" {
		t.Errorf("unexpected item %+v", items[0])
	}
	if items[1].Symbol != "APLE" {
		t.Errorf("display symbol fallback failed: %+v", items[1])
	}
}

const twseBulkBody = `[
	{"Code":"2330","Name":"TSMC","TradeVolume":"25000000","TradeValue":"1","OpeningPrice":"585.00","HighestPrice":"590.00","LowestPrice":"583.00","ClosingPrice":"588.00","Change":"8.00","Transaction":"1"},
	{"Code":"0050","Name":"ETF50","TradeVolume":"5000000","TradeValue":"1","OpeningPrice":"130.00","HighestPrice":"131.50","LowestPrice":"129.50","ClosingPrice":"131.00","Change":"-1.00","Transaction":"1"},
	{"Code":"9999","Name":"Untraded","TradeVolume":"0","TradeValue":"0","OpeningPrice":"--","HighestPrice":"--","LowestPrice":"--","ClosingPrice":"--","Change":"--","Transaction":"0"}
]`

func newTWSETest(t *testing.T, handler http.HandlerFunc) *TWSEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTWSEClient(TWSEConfig{
		BaseURL:            srv.URL,
		RateLimitPerMinute: 6000,
	})
}

func TestTWSEQuoteNormalization(t *testing.T) {
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchangeReport/STOCK_DAY_ALL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(twseBulkBody))
	})

	q, err := client.Quote(context.Background(), "2330.TW")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "2330.TW" || q.Price != 588.00 || q.Change != 8.00 {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.PreviousClose != 580.00 {
		t.Errorf("previousClose=%v want 580", q.PreviousClose)
	}
	// percent derived from previous close: 8 / (588-8) * 100
	want := 8.0 / 580.0 * 100
	if math.Abs(q.ChangePercent-want) > 1e-9 {
		t.Errorf("changePercent=%v want %v", q.ChangePercent, want)
	}
	if q.Volume != 25000000 || q.Provider != "twse" {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestTWSEQuoteSharesSnapshot(t *testing.T) {
	var calls atomic.Int64
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(twseBulkBody))
	})

	for _, sym := range []string{"2330", "0050", "2330.TW"} {
		if _, err := client.Quote(context.Background(), sym); err != nil {
			t.Fatalf("Quote(%s): %v", sym, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("bulk fetches=%d want 1", got)
	}
}

func TestTWSEQuoteSymbolMissing(t *testing.T) {
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(twseBulkBody))
	})

	_, err := client.Quote(context.Background(), "1234")
	if !errors.Is(err, ErrNotInSnapshot) {
		t.Fatalf("err=%v want ErrNotInSnapshot", err)
	}
	if apierr.Classify(err) != apierr.DataValidation {
		t.Errorf("class=%v want DataValidation", apierr.Classify(err))
	}
}

func TestTWSEQuoteUntradedInstrument(t *testing.T) {
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(twseBulkBody))
	})

	_, err := client.Quote(context.Background(), "9999")
	if err == nil {
		t.Fatal("want error for untraded instrument")
	}
	if apierr.Classify(err) != apierr.DataValidation {
		t.Errorf("class=%v want DataValidation", apierr.Classify(err))
	}
}

func TestSnapshotExpiry(t *testing.T) {
	var calls atomic.Int64
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(twseBulkBody))
	})

	current := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return current }
	client.snapshot.now = client.now

	if _, err := client.Quote(context.Background(), "2330"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	current = current.Add(14 * time.Minute)
	if _, err := client.Quote(context.Background(), "2330"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("fetches=%d want 1 inside window", calls.Load())
	}

	current = current.Add(2 * time.Minute)
	if _, err := client.Quote(context.Background(), "2330"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("fetches=%d want 2 after expiry", calls.Load())
	}
}

func TestSnapshotConcurrentRefreshCoalesces(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	client := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Write([]byte(twseBulkBody))
	})

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Quote(context.Background(), "2330")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("bulk fetches=%d want 1", got)
	}
}

func TestExchangeRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/test-key/latest/USD" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":"success","base_code":"USD","conversion_rates":{"TWD":31.5,"EUR":0.92}}`))
	}))
	defer srv.Close()

	client := NewExchangeRateClient(ExchangeRateConfig{
		BaseURL:            srv.URL,
		APIKey:             "test-key",
		RateLimitPerMinute: 6000,
	})

	res, err := client.Rate(context.Background(), "usd", "twd")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if res.From != "USD" || res.To != "TWD" || res.Rate != 31.5 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestExchangeRateAbsentCurrencyIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","base_code":"USD","conversion_rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	client := NewExchangeRateClient(ExchangeRateConfig{BaseURL: srv.URL, APIKey: "k", RateLimitPerMinute: 6000})
	res, err := client.Rate(context.Background(), "USD", "XXX")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if res.Rate != 0 {
		t.Errorf("rate=%v want 0 for absent currency", res.Rate)
	}
}

func TestExchangeRateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"failure","error-type":"invalid-key"}`))
	}))
	defer srv.Close()

	client := NewExchangeRateClient(ExchangeRateConfig{BaseURL: srv.URL, APIKey: "bad", RateLimitPerMinute: 6000})
	if _, err := client.Rate(context.Background(), "USD", "TWD"); err == nil {
		t.Fatal("want error for upstream failure result")
	}
}

func TestGatewayRouting(t *testing.T) {
	var finnhubCalls, twseCalls atomic.Int64
	finnhub := newFinnhubTest(t, func(w http.ResponseWriter, r *http.Request) {
		finnhubCalls.Add(1)
		w.Write([]byte(`{"c":100,"d":1,"dp":1,"h":101,"l":99,"o":99.5,"pc":99,"t":1700000000}`))
	})
	twse := newTWSETest(t, func(w http.ResponseWriter, r *http.Request) {
		twseCalls.Add(1)
		w.Write([]byte(twseBulkBody))
	})
	gw := NewGateway(finnhub, twse, nil)

	if _, err := gw.Quote(context.Background(), "AAPL"); err != nil {
		t.Fatalf("US quote: %v", err)
	}
	if _, err := gw.Quote(context.Background(), "2330"); err != nil {
		t.Fatalf("TW quote: %v", err)
	}
	if finnhubCalls.Load() != 1 || twseCalls.Load() != 1 {
		t.Errorf("calls finnhub=%d twse=%d want 1/1", finnhubCalls.Load(), twseCalls.Load())
	}
}
