package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/finwatch/wealthtracker/internal/config"
	"github.com/finwatch/wealthtracker/internal/marketdata"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/providers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated symbols to track (e.g. AAPL,2330.TW)")
	once := flag.Bool("once", false, "run one refresh pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.LogError("config_load_failed", err, map[string]any{"path": *configPath})
			os.Exit(1)
		}
		cfg = config.Default()
		observ.Log("config_defaults", map[string]any{"path": *configPath})
	}

	store := marketdata.NewMemoryStore()
	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		currency := cfg.Refresh.BaseCurrency
		if providers.MarketFor(sym) == providers.MarketTW {
			currency = cfg.Refresh.HomeCurrency
		}
		store.Track(sym, currency, 1)
	}

	gw := providers.NewGateway(
		providers.NewFinnhubClient(providers.FinnhubConfig{
			BaseURL:            cfg.Providers.Finnhub.BaseURL,
			APIKey:             cfg.Providers.Finnhub.APIKey(),
			TimeoutSeconds:     cfg.Providers.Finnhub.TimeoutSeconds,
			RateLimitPerMinute: cfg.Providers.Finnhub.RateLimitPerMinute,
		}),
		providers.NewTWSEClient(providers.TWSEConfig{
			BaseURL:            cfg.Providers.TWSE.BaseURL,
			TimeoutSeconds:     cfg.Providers.TWSE.TimeoutSeconds,
			RateLimitPerMinute: cfg.Providers.TWSE.RateLimitPerMinute,
		}),
		providers.NewExchangeRateClient(providers.ExchangeRateConfig{
			BaseURL:            cfg.Providers.ExchangeRate.BaseURL,
			APIKey:             cfg.Providers.ExchangeRate.APIKey(),
			TimeoutSeconds:     cfg.Providers.ExchangeRate.TimeoutSeconds,
			RateLimitPerMinute: cfg.Providers.ExchangeRate.RateLimitPerMinute,
		}),
	)
	svc := marketdata.NewService(store, gw, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	observ.Log("startup", map[string]any{
		"tier":            cfg.Quota.Tier,
		"refresh_minutes": cfg.Refresh.IntervalMinutes,
		"home_currency":   cfg.Refresh.HomeCurrency,
		"listen_addr":     cfg.ListenAddr,
		"tracked_symbols": *symbols,
	})

	refreshAll(ctx, svc)
	if *once {
		return
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: newMux(svc)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.LogError("http_server_failed", err, nil)
			cancel()
		}
	}()

	refreshTicker := time.NewTicker(time.Duration(cfg.Refresh.IntervalMinutes) * time.Minute)
	defer refreshTicker.Stop()
	maintenanceTicker := time.NewTicker(time.Duration(cfg.Refresh.MaintenanceMinutes) * time.Minute)
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			shutdownCancel()
			observ.Log("shutdown", nil)
			return
		case <-refreshTicker.C:
			refreshAll(ctx, svc)
		case <-maintenanceTicker.C:
			svc.RunMaintenance()
			usage := svc.Usage()
			observ.Log("usage_check", map[string]any{
				"requests_today": usage.RequestsToday,
				"daily_limit":    usage.DailyLimit,
				"near_limit":     usage.NearLimit(),
				"breakers":       svc.BreakerStates(),
			})
		}
	}
}

func refreshAll(ctx context.Context, svc *marketdata.Service) {
	if err := svc.RefreshExchangeRate(ctx); err != nil {
		observ.LogError("refresh_exchange_rate_failed", err, nil)
	}
	if err := svc.RefreshStockPrices(ctx); err != nil {
		observ.LogError("refresh_stock_prices_failed", err, nil)
	}
}

func newMux(svc *marketdata.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())

	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			http.Error(w, "missing symbol", http.StatusBadRequest)
			return
		}
		out, err := svc.GetQuote(r.Context(), symbol)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, marketdata.ErrThrottled) {
				status = http.StatusTooManyRequests
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, map[string]any{"status": out.Status, "quote": out.Quote})
	})

	mux.HandleFunc("/rate", func(w http.ResponseWriter, r *http.Request) {
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		if from == "" || to == "" {
			http.Error(w, "missing from/to", http.StatusBadRequest)
			return
		}
		out, err := svc.GetExchangeRate(r.Context(), from, to)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"status": out.Status, "rate": out.Rate})
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		res := svc.Search(r.Context(), r.URL.Query().Get("q"))
		writeJSON(w, res)
	})

	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"usage":    svc.Usage(),
			"breakers": svc.BreakerStates(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
