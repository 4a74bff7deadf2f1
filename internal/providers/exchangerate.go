package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/finwatch/wealthtracker/internal/apierr"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/validate"
)

// ExchangeRateClient fetches currency conversion tables. One request returns
// every rate for a base currency; individual pairs are read out of the table.
type ExchangeRateClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// ExchangeRateConfig holds connection settings for the rate client.
type ExchangeRateConfig struct {
	BaseURL            string
	APIKey             string
	TimeoutSeconds     int
	RateLimitPerMinute int
}

func NewExchangeRateClient(cfg ExchangeRateConfig) *ExchangeRateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://v6.exchangerate-api.com"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	return &ExchangeRateClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		now:     time.Now,
	}
}

type exchangeRateResponse struct {
	Result          string             `json:"result"`
	BaseCode        string             `json:"base_code"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
	ErrorType       string             `json:"error-type"`
}

// Rate fetches the conversion rate from one currency to another. Absent
// target currencies yield a zero rate that downstream validation rejects.
func (c *ExchangeRateClient) Rate(ctx context.Context, from, to string) (ExchangeRateResult, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	if err := c.limiter.Wait(ctx); err != nil {
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: rate limiter wait: %w", err)
	}

	url := fmt.Sprintf("%s/v6/%s/latest/%s", c.baseURL, c.apiKey, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: build request: %w", err)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "exchangerate"})
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: request failed: %w", err)
	}
	defer resp.Body.Close()
	observ.RecordDuration("provider_request_duration", c.now().Sub(start), map[string]string{"provider": "exchangerate"})

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "exchangerate"})
		return ExchangeRateResult{}, &apierr.HTTPError{StatusCode: resp.StatusCode, Provider: "exchangerate", Body: truncate(string(body), 512)}
	}

	if v := validate.Payload(string(body), "exchange_rate"); !v.OK {
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: invalid data in payload: %s", v.Reason)
	}

	var decoded exchangeRateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: decode response: %w", err)
	}
	if decoded.Result != "success" {
		return ExchangeRateResult{}, fmt.Errorf("exchangerate: upstream returned %q (%s)", decoded.Result, decoded.ErrorType)
	}

	return ExchangeRateResult{
		From:        from,
		To:          to,
		Rate:        decoded.ConversionRates[to],
		Provider:    "exchangerate-api",
		RetrievedAt: c.now().UTC(),
	}, nil
}
