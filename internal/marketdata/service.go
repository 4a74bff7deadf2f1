package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/breaker"
	"github.com/finwatch/wealthtracker/internal/cache"
	"github.com/finwatch/wealthtracker/internal/config"
	"github.com/finwatch/wealthtracker/internal/dedup"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/providers"
	"github.com/finwatch/wealthtracker/internal/quota"
	"github.com/finwatch/wealthtracker/internal/retry"
	"github.com/finwatch/wealthtracker/internal/validate"
)

// DefaultFallbackRate is the conversion rate used when no live, cached, or
// persisted rate exists at all. A policy constant, not a derived value.
const DefaultFallbackRate = 30.0

// ErrThrottled means the usage limits refused the request and no cached
// value was available to serve instead.
var ErrThrottled = errors.New("usage limit reached")

// Status tags how an outcome was produced.
type Status string

const (
	StatusFresh     Status = "fresh"
	StatusCached    Status = "cached"
	StatusDuplicate Status = "duplicate"
	StatusThrottled Status = "throttled"
)

// QuoteOutcome carries a quote plus how it was obtained. Throttled and
// duplicate outcomes serve the last cached value when one exists.
type QuoteOutcome struct {
	Status Status
	Quote  providers.QuoteResult
}

// RateOutcome carries an exchange rate plus how it was obtained.
type RateOutcome struct {
	Status Status
	Rate   RateRecord
}

// Quoter is the provider gateway surface the orchestrator depends on.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (providers.QuoteResult, error)
	ExchangeRate(ctx context.Context, from, to string) (providers.ExchangeRateResult, error)
	Search(ctx context.Context, query string) ([]providers.SearchItem, error)
}

// Service coordinates quote acquisition: cache-first reads, usage
// throttling, request deduplication, retry with classification-driven
// backoff, per-provider circuit breaking, and fallback to the asset store.
type Service struct {
	store     Store
	providers Quoter
	retrier   *retry.Controller
	throttle  *quota.Throttle
	gate      *dedup.Gate
	strategy  *cache.Strategy
	quotes    *cache.Quotes[providers.QuoteResult]

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker

	breakerThreshold int
	breakerCooldown  time.Duration

	homeCurrency string
	baseCurrency string
	now          func() time.Time
}

func NewService(store Store, gw Quoter, cfg config.Root) *Service {
	return &Service{
		store:            store,
		providers:        gw,
		retrier:          retry.NewController(),
		throttle:         quota.NewThrottle("providers", quota.Tier(cfg.Quota.Tier)),
		gate:             dedup.NewGate(),
		strategy:         cache.NewStrategy(),
		quotes:           cache.NewQuotes[providers.QuoteResult](0),
		breakers:         make(map[string]*breaker.Breaker),
		breakerThreshold: cfg.Breaker.FailureThreshold,
		breakerCooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		homeCurrency:     cfg.Refresh.HomeCurrency,
		baseCurrency:     cfg.Refresh.BaseCurrency,
		now:              time.Now,
	}
}

// GetQuote returns a quote for symbol, serving the adaptive cache when
// fresh and deduplicating concurrent fetches for the same symbol.
func (s *Service) GetQuote(ctx context.Context, symbol string) (QuoteOutcome, error) {
	symbol = validate.SanitizeSymbol(symbol)
	if symbol == "" {
		return QuoteOutcome{}, fmt.Errorf("get quote: blank symbol")
	}

	if entry, ok := s.quotes.Get(symbol); ok && s.strategy.ShouldUseCache(symbol, entry.UpdatedAt) {
		return QuoteOutcome{Status: StatusCached, Quote: entry.Value}, nil
	}

	ok, err := s.throttle.CanProceed(ctx)
	if err != nil {
		return QuoteOutcome{}, err
	}
	if !ok {
		if entry, found := s.quotes.Get(symbol); found {
			observ.IncCounter("quote_throttled_served_stale_total", nil)
			return QuoteOutcome{Status: StatusThrottled, Quote: entry.Value}, nil
		}
		return QuoteOutcome{}, fmt.Errorf("get quote %s: %w", symbol, ErrThrottled)
	}

	var fetched providers.QuoteResult
	outcome, err := s.gate.Execute(ctx, "quote_"+symbol, "quote", func(ctx context.Context) error {
		return s.retrier.Do(ctx, "quote "+symbol, func(ctx context.Context) error {
			q, ferr := s.fetchQuote(ctx, symbol)
			if ferr != nil {
				return ferr
			}
			fetched = q
			return nil
		})
	})

	switch outcome {
	case dedup.Duplicate:
		if entry, found := s.quotes.Get(symbol); found {
			return QuoteOutcome{Status: StatusDuplicate, Quote: entry.Value}, nil
		}
		return QuoteOutcome{Status: StatusDuplicate}, nil
	case dedup.Rejected:
		return QuoteOutcome{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}
	if err != nil {
		return QuoteOutcome{}, err
	}

	s.quotes.Put(symbol, fetched)
	return QuoteOutcome{Status: StatusFresh, Quote: fetched}, nil
}

// GetExchangeRate returns the conversion rate for from/to, serving the
// persisted record while the adaptive cache considers it fresh.
func (s *Service) GetExchangeRate(ctx context.Context, from, to string) (RateOutcome, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	key := "rate_" + from + "_" + to

	if rec, found, err := s.store.ExchangeRate(ctx, from, to); err == nil && found && s.strategy.ShouldUseCache(key, rec.LastUpdated) {
		return RateOutcome{Status: StatusCached, Rate: rec}, nil
	}

	ok, err := s.throttle.CanProceed(ctx)
	if err != nil {
		return RateOutcome{}, err
	}
	if !ok {
		if rec, found, serr := s.store.ExchangeRate(ctx, from, to); serr == nil && found {
			return RateOutcome{Status: StatusThrottled, Rate: rec}, nil
		}
		return RateOutcome{}, fmt.Errorf("get rate %s/%s: %w", from, to, ErrThrottled)
	}

	var rec RateRecord
	outcome, err := s.gate.Execute(ctx, key, "exchange_rate", func(ctx context.Context) error {
		return s.retrier.Do(ctx, "rate "+from+"/"+to, func(ctx context.Context) error {
			r, ferr := s.fetchRate(ctx, from, to)
			if ferr != nil {
				return ferr
			}
			rec = r
			return nil
		})
	})

	switch outcome {
	case dedup.Duplicate:
		if persisted, found, serr := s.store.ExchangeRate(ctx, from, to); serr == nil && found {
			return RateOutcome{Status: StatusDuplicate, Rate: persisted}, nil
		}
		return RateOutcome{Status: StatusDuplicate}, nil
	case dedup.Rejected:
		return RateOutcome{}, fmt.Errorf("get rate %s/%s: %w", from, to, err)
	}
	if err != nil {
		return RateOutcome{}, err
	}

	if err := s.store.PutExchangeRate(ctx, rec); err != nil {
		return RateOutcome{}, fmt.Errorf("persist rate %s/%s: %w", from, to, err)
	}
	return RateOutcome{Status: StatusFresh, Rate: rec}, nil
}

// RefreshStockPrices fetches a fresh quote for every tracked symbol and
// persists it with its home-currency value. One failing symbol never stops
// the rest of the batch; its persisted value stays untouched.
func (s *Service) RefreshStockPrices(ctx context.Context) error {
	symbols, err := s.store.TrackedSymbols(ctx)
	if err != nil {
		return fmt.Errorf("refresh prices: list symbols: %w", err)
	}

	rate := s.conversionRate(ctx)
	refreshed, failed, stale := 0, 0, 0
	for _, symbol := range symbols {
		switch res := s.refreshOne(ctx, symbol, rate); res {
		case refreshFresh:
			refreshed++
		case refreshStale:
			stale++
		default:
			failed++
		}
	}

	observ.Log("stock_refresh_complete", map[string]any{
		"tracked": len(symbols), "refreshed": refreshed, "stale": stale, "failed": failed,
	})
	return nil
}

type refreshResult int

const (
	refreshFresh refreshResult = iota
	refreshStale
	refreshFailed
)

func (s *Service) refreshOne(ctx context.Context, symbol string, rate float64) refreshResult {
	var fresh providers.QuoteResult
	usedFallback := false

	err := s.retrier.DoWithFallback(ctx, "refresh "+symbol,
		func(ctx context.Context) error {
			q, ferr := s.fetchQuote(ctx, symbol)
			if ferr != nil {
				return ferr
			}
			fresh = q
			return nil
		},
		func(ctx context.Context) error {
			_, found, serr := s.store.StockAsset(ctx, symbol)
			if serr != nil {
				return serr
			}
			if !found {
				return fmt.Errorf("no persisted price for %s", symbol)
			}
			usedFallback = true
			return nil
		})
	if err != nil {
		observ.LogError("stock_refresh_failed", err, map[string]any{"symbol": symbol})
		return refreshFailed
	}
	if usedFallback {
		// Persisted value stays as-is; callers keep seeing the last good price.
		observ.IncCounter("quote_fallbacks_total", map[string]string{"symbol": symbol})
		return refreshStale
	}

	asset, found, err := s.store.StockAsset(ctx, symbol)
	if err != nil {
		observ.LogError("stock_refresh_failed", err, map[string]any{"symbol": symbol})
		return refreshFailed
	}
	if !found {
		asset = StockAsset{Symbol: symbol, Currency: s.currencyFor(symbol), Quantity: 0}
	}

	asset.Price = fresh.Price
	asset.Change = fresh.Change
	asset.ChangePercent = fresh.ChangePercent
	asset.LastUpdated = fresh.RetrievedAt
	asset.HomeValue = s.homeValue(asset, rate)
	if err := s.store.PutStockAsset(ctx, asset); err != nil {
		observ.LogError("stock_refresh_failed", err, map[string]any{"symbol": symbol})
		return refreshFailed
	}

	s.quotes.Put(validate.SanitizeSymbol(symbol), fresh)
	return refreshFresh
}

// RefreshExchangeRate refreshes the base/home conversion pair, falling back
// to the persisted rate and, when nothing is persisted at all, to
// DefaultFallbackRate.
func (s *Service) RefreshExchangeRate(ctx context.Context) error {
	from, to := s.baseCurrency, s.homeCurrency

	var rec RateRecord
	usedFallback := false
	err := s.retrier.DoWithFallback(ctx, "refresh rate "+from+"/"+to,
		func(ctx context.Context) error {
			r, ferr := s.fetchRate(ctx, from, to)
			if ferr != nil {
				return ferr
			}
			rec = r
			return nil
		},
		func(ctx context.Context) error {
			_, found, serr := s.store.ExchangeRate(ctx, from, to)
			if serr != nil {
				return serr
			}
			usedFallback = true
			if !found {
				rec = RateRecord{
					From: from, To: to,
					Rate:        DefaultFallbackRate,
					Provider:    "fallback",
					LastUpdated: s.now().UTC(),
				}
				observ.Warn("exchange_rate_default_fallback", map[string]any{"pair": from + "_" + to, "rate": DefaultFallbackRate})
				return s.store.PutExchangeRate(ctx, rec)
			}
			// Persisted rate stays authoritative; nothing to write.
			return nil
		})
	if err != nil {
		observ.LogError("exchange_rate_refresh_failed", err, map[string]any{"pair": from + "_" + to})
		return err
	}
	if usedFallback {
		observ.IncCounter("rate_fallbacks_total", nil)
		return nil
	}
	if err := s.store.PutExchangeRate(ctx, rec); err != nil {
		return fmt.Errorf("persist rate %s/%s: %w", from, to, err)
	}
	return nil
}

// RunMaintenance performs the periodic sweeps: expired in-flight request
// records and idle cache access stats.
func (s *Service) RunMaintenance() {
	inflight := s.gate.CleanupExpired()
	stats := s.strategy.Sweep()
	observ.Log("maintenance_sweep", map[string]any{
		"expired_inflight": inflight, "swept_stats": stats,
	})
}

// Usage exposes throttle counters for the health endpoint.
func (s *Service) Usage() quota.Stats { return s.throttle.Stats() }

// BreakerStates reports each provider breaker's current state.
func (s *Service) BreakerStates() map[string]breaker.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]breaker.State, len(s.breakers))
	for name, b := range s.breakers {
		states[name] = b.State()
	}
	return states
}

// fetchQuote is one breaker-guarded provider attempt. The retry controller
// decides whether a failure earns another attempt.
func (s *Service) fetchQuote(ctx context.Context, symbol string) (providers.QuoteResult, error) {
	br := s.breakerFor(string(providers.MarketFor(symbol)))
	if err := br.Allow(); err != nil {
		return providers.QuoteResult{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	s.throttle.RecordRequest()
	q, err := s.providers.Quote(ctx, symbol)
	if err != nil {
		br.RecordFailure()
		observ.IncCounter("quote_fetch_errors_total", nil)
		return providers.QuoteResult{}, err
	}
	br.RecordSuccess()

	if v := validate.QuoteRecord(q.Symbol, q.Price, q.RetrievedAt, s.now()); !v.OK {
		return providers.QuoteResult{}, fmt.Errorf("quote %s: invalid data: %s", symbol, v.Reason)
	}
	observ.IncCounter("quote_fetches_total", nil)
	return q, nil
}

func (s *Service) fetchRate(ctx context.Context, from, to string) (RateRecord, error) {
	br := s.breakerFor("exchangerate")
	if err := br.Allow(); err != nil {
		return RateRecord{}, fmt.Errorf("rate %s/%s: %w", from, to, err)
	}

	s.throttle.RecordRequest()
	res, err := s.providers.ExchangeRate(ctx, from, to)
	if err != nil {
		br.RecordFailure()
		observ.IncCounter("rate_fetch_errors_total", nil)
		return RateRecord{}, err
	}
	br.RecordSuccess()

	if v := validate.RateRecord(from+"_"+to, res.Rate, res.RetrievedAt, s.now()); !v.OK {
		return RateRecord{}, fmt.Errorf("rate %s/%s: invalid data: %s", from, to, v.Reason)
	}
	return RateRecord{
		From: from, To: to,
		Rate:        res.Rate,
		Provider:    res.Provider,
		LastUpdated: res.RetrievedAt,
	}, nil
}

func (s *Service) breakerFor(name string) *breaker.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	threshold := s.breakerThreshold
	if threshold <= 0 {
		threshold = breaker.DefaultFailureThreshold
	}
	cooldown := s.breakerCooldown
	if cooldown <= 0 {
		cooldown = breaker.DefaultCooldown
	}
	b := breaker.NewWithConfig(name, threshold, cooldown, s.now)
	s.breakers[name] = b
	return b
}

// conversionRate reads the persisted base-to-home rate, defaulting to
// DefaultFallbackRate when nothing is persisted yet.
func (s *Service) conversionRate(ctx context.Context) float64 {
	rec, found, err := s.store.ExchangeRate(ctx, s.baseCurrency, s.homeCurrency)
	if err != nil || !found || rec.Rate <= 0 {
		return DefaultFallbackRate
	}
	return rec.Rate
}

// homeValue converts a holding's market value into the home currency.
func (s *Service) homeValue(asset StockAsset, baseToHome float64) float64 {
	value := asset.Price * asset.Quantity
	switch asset.Currency {
	case s.homeCurrency, "":
		return value
	case s.baseCurrency:
		return value * baseToHome
	default:
		observ.Warn("unconverted_currency", map[string]any{"symbol": asset.Symbol, "currency": asset.Currency})
		return value
	}
}

func (s *Service) currencyFor(symbol string) string {
	if providers.MarketFor(symbol) == providers.MarketTW {
		return s.homeCurrency
	}
	return s.baseCurrency
}
