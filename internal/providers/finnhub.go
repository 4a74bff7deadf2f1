package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/finwatch/wealthtracker/internal/apierr"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/validate"
)

// FinnhubClient fetches US-market quotes and instrument search results.
// Retries and circuit breaking happen in the orchestrator; the client makes
// exactly one attempt per call.
type FinnhubClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// FinnhubConfig holds connection settings for the Finnhub client.
type FinnhubConfig struct {
	BaseURL            string
	APIKey             string
	TimeoutSeconds     int
	RateLimitPerMinute int
}

func NewFinnhubClient(cfg FinnhubConfig) *FinnhubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://finnhub.io/api/v1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	return &FinnhubClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		now:     time.Now,
	}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

type finnhubSearchResponse struct {
	Count  int `json:"count"`
	Result []struct {
		Symbol        string `json:"symbol"`
		DisplaySymbol string `json:"displaySymbol"`
		Description   string `json:"description"`
		Type          string `json:"type"`
	} `json:"result"`
}

// Quote fetches the latest quote for one US symbol.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (QuoteResult, error) {
	params := url.Values{
		"symbol": {symbol},
		"token":  {c.apiKey},
	}
	body, err := c.get(ctx, "/quote", params, "quote")
	if err != nil {
		return QuoteResult{}, err
	}

	var q finnhubQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return QuoteResult{}, fmt.Errorf("finnhub: decode quote for %s: %w", symbol, err)
	}
	if q.Current == 0 && q.Timestamp == 0 {
		return QuoteResult{}, fmt.Errorf("finnhub: no valid price data for %s", symbol)
	}

	return QuoteResult{
		Symbol:        strings.ToUpper(symbol),
		Price:         q.Current,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		High:          q.High,
		Low:           q.Low,
		Open:          q.Open,
		PreviousClose: q.PreviousClose,
		Provider:      "finnhub",
		RetrievedAt:   c.now().UTC(),
	}, nil
}

// Search looks up instruments matching the query string.
func (c *FinnhubClient) Search(ctx context.Context, query string) ([]SearchItem, error) {
	params := url.Values{
		"q":     {query},
		"token": {c.apiKey},
	}
	body, err := c.get(ctx, "/search", params, "search")
	if err != nil {
		return nil, err
	}

	var resp finnhubSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("finnhub: decode search for %q: %w", query, err)
	}

	items := make([]SearchItem, 0, len(resp.Result))
	for _, r := range resp.Result {
		sym := r.Symbol
		if sym == "" {
			sym = r.DisplaySymbol
		}
		if sym == "" {
			continue
		}
		items = append(items, SearchItem{
			Symbol:      sym,
			ShortName:   r.Description,
			LongName:    r.Description,
			Exchange:    exchangeFor(sym),
			MarketState: "REGULAR",
		})
	}
	return items, nil
}

func (c *FinnhubClient) get(ctx context.Context, path string, params url.Values, dataType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("finnhub: rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("finnhub: build request: %w", err)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "finnhub"})
		return nil, fmt.Errorf("finnhub: request failed: %w", err)
	}
	defer resp.Body.Close()
	observ.RecordDuration("provider_request_duration", c.now().Sub(start), map[string]string{"provider": "finnhub"})

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "finnhub"})
		return nil, &apierr.HTTPError{StatusCode: resp.StatusCode, Provider: "finnhub", Body: string(body)}
	}

	if v := validate.Payload(string(body), dataType); !v.OK {
		return nil, fmt.Errorf("finnhub: invalid data in %s payload: %s", dataType, v.Reason)
	}
	return body, nil
}
