package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/finwatch/wealthtracker/internal/apierr"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/validate"
)

// ErrNotInSnapshot marks a Taiwan symbol absent from today's bulk data,
// typically an unlisted code or a non-trading day.
var ErrNotInSnapshot = errors.New("no valid data for symbol in today's exchange records")

// TWSEClient serves Taiwan-market quotes from the exchange's open-data bulk
// endpoint. Every symbol lookup reads the shared snapshot; the exchange has
// no per-symbol quote endpoint worth calling.
type TWSEClient struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	snapshot *SnapshotCache
	now      func() time.Time
}

// TWSEConfig holds connection settings for the TWSE client.
type TWSEConfig struct {
	BaseURL            string
	TimeoutSeconds     int
	RateLimitPerMinute int
}

func NewTWSEClient(cfg TWSEConfig) *TWSEClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openapi.twse.com.tw/v1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	return &TWSEClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		snapshot: NewSnapshotCache(),
		now:      time.Now,
	}
}

// twseRow is one instrument in the STOCK_DAY_ALL bulk response. All numeric
// fields arrive as strings, sometimes "--" for untraded instruments.
type twseRow struct {
	Code         string `json:"Code"`
	Name         string `json:"Name"`
	TradeVolume  string `json:"TradeVolume"`
	TradeValue   string `json:"TradeValue"`
	OpeningPrice string `json:"OpeningPrice"`
	HighestPrice string `json:"HighestPrice"`
	LowestPrice  string `json:"LowestPrice"`
	ClosingPrice string `json:"ClosingPrice"`
	Change       string `json:"Change"`
	Transaction  string `json:"Transaction"`
}

// Quote resolves one Taiwan symbol against the bulk snapshot, refreshing the
// snapshot when older than SnapshotTTL.
func (c *TWSEClient) Quote(ctx context.Context, symbol string) (QuoteResult, error) {
	code := CleanTaiwanSymbol(symbol)
	rows, err := c.snapshot.GetOrFetch(ctx, c.fetchAll)
	if err != nil {
		return QuoteResult{}, err
	}
	for _, row := range rows {
		if row.Code == code {
			return c.normalize(symbol, row)
		}
	}
	return QuoteResult{}, fmt.Errorf("twse: %w: %s", ErrNotInSnapshot, code)
}

// Snapshot exposes the underlying cache for maintenance and tests.
func (c *TWSEClient) Snapshot() *SnapshotCache { return c.snapshot }

func (c *TWSEClient) fetchAll(ctx context.Context) ([]twseRow, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("twse: rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exchangeReport/STOCK_DAY_ALL", nil)
	if err != nil {
		return nil, fmt.Errorf("twse: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "twse"})
		return nil, fmt.Errorf("twse: request failed: %w", err)
	}
	defer resp.Body.Close()
	observ.RecordDuration("provider_request_duration", c.now().Sub(start), map[string]string{"provider": "twse"})

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("provider_request_errors_total", map[string]string{"provider": "twse"})
		return nil, &apierr.HTTPError{StatusCode: resp.StatusCode, Provider: "twse", Body: truncate(string(body), 512)}
	}

	var rows []twseRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("twse: decode bulk response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("twse: no valid data in bulk response")
	}
	observ.SetGauge("twse_snapshot_rows", float64(len(rows)), nil)
	return rows, nil
}

// normalize maps a raw exchange row into the shared quote shape. Percent
// change is derived from the previous close: change / (close - change) * 100.
func (c *TWSEClient) normalize(symbol string, row twseRow) (QuoteResult, error) {
	close, err := parseTWSENumber(row.ClosingPrice)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("twse: no valid closing price for %s", row.Code)
	}
	change, _ := parseTWSENumber(row.Change)
	open, _ := parseTWSENumber(row.OpeningPrice)
	high, _ := parseTWSENumber(row.HighestPrice)
	low, _ := parseTWSENumber(row.LowestPrice)
	volume, _ := strconv.ParseInt(strings.ReplaceAll(row.TradeVolume, ",", ""), 10, 64)

	previousClose := close - change
	changePercent := 0.0
	if previousClose != 0 {
		changePercent = change / previousClose * 100
	}

	now := c.now().UTC()
	if v := validate.QuoteRecord(row.Code, close, now, now); !v.OK {
		return QuoteResult{}, fmt.Errorf("twse: invalid data for %s: %s", row.Code, v.Reason)
	}

	return QuoteResult{
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		Price:         close,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        volume,
		High:          high,
		Low:           low,
		Open:          open,
		PreviousClose: previousClose,
		Provider:      "twse",
		RetrievedAt:   now,
	}, nil
}

// parseTWSENumber handles the exchange's string-encoded numbers, including
// the "--" marker for untraded instruments.
func parseTWSENumber(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "--" {
		return 0, fmt.Errorf("no numeric value")
	}
	return strconv.ParseFloat(s, 64)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
