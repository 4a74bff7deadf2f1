package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Local stand-ins for the upstream provider APIs, handy for running trackerd
// without real API keys. Point the provider base URLs at these ports.

type finnhubQuote struct {
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	DP float64 `json:"dp"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
	T  int64   `json:"t"`
}

type searchMatch struct {
	Symbol        string `json:"symbol"`
	DisplaySymbol string `json:"displaySymbol"`
	Description   string `json:"description"`
	Type          string `json:"type"`
}

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

var usPrices = map[string]float64{
	"AAPL": 195.50,
	"MSFT": 420.10,
	"GOOG": 175.25,
	"NVDA": 880.00,
}

var twRows = []twseRow{
	{Code: "2330", Name: "TSMC", TradeVolume: "25331405", TradeValue: "1", OpeningPrice: "585.00", HighestPrice: "590.00", LowestPrice: "583.00", ClosingPrice: "588.00", Change: "8.00", Transaction: "31204"},
	{Code: "0050", Name: "Yuanta Taiwan 50", TradeVolume: "5120043", TradeValue: "1", OpeningPrice: "130.00", HighestPrice: "131.50", LowestPrice: "129.50", ClosingPrice: "131.00", Change: "-1.00", Transaction: "8112"},
	{Code: "2317", Name: "Hon Hai", TradeVolume: "40221150", TradeValue: "1", OpeningPrice: "102.50", HighestPrice: "104.00", LowestPrice: "102.00", ClosingPrice: "103.50", Change: "1.00", Transaction: "22045"},
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jitter(base float64) float64 {
	return base * (1 + (rand.Float64()-0.5)*0.01)
}

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	failEvery := flag.Int("fail-every", 0, "return HTTP 500 on every Nth quote request (0 = never)")
	flag.Parse()

	var quoteCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Finnhub-shaped single quote endpoint.
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		quoteCalls++
		if *failEvery > 0 && quoteCalls%*failEvery == 0 {
			http.Error(w, "synthetic upstream failure", http.StatusInternalServerError)
			return
		}
		symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
		base, ok := usPrices[symbol]
		if !ok {
			// Finnhub returns an all-zero quote for unknown symbols.
			writeJSON(w, finnhubQuote{})
			return
		}
		price := jitter(base)
		prev := base * 0.99
		writeJSON(w, finnhubQuote{
			C:  price,
			D:  price - prev,
			DP: (price - prev) / prev * 100,
			H:  price * 1.01,
			L:  price * 0.99,
			O:  prev * 1.002,
			PC: prev,
			T:  time.Now().Unix(),
		})
	})

	// Finnhub-shaped instrument search.
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToUpper(r.URL.Query().Get("q"))
		var matches []searchMatch
		for sym := range usPrices {
			if strings.Contains(sym, q) {
				matches = append(matches, searchMatch{Symbol: sym, DisplaySymbol: sym, Description: sym + " Inc", Type: "Common Stock"})
			}
		}
		writeJSON(w, map[string]any{"count": len(matches), "result": matches})
	})

	// TWSE-shaped bulk daily quotes.
	mux.HandleFunc("/exchangeReport/STOCK_DAY_ALL", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, twRows)
	})

	// exchangerate-api-shaped latest rates; the key path segment is ignored.
	mux.HandleFunc("/v6/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		base := "USD"
		if len(parts) == 4 && parts[2] == "latest" {
			base = strings.ToUpper(parts[3])
		}
		writeJSON(w, map[string]any{
			"result":    "success",
			"base_code": base,
			"conversion_rates": map[string]float64{
				"TWD": jitter(31.2),
				"EUR": jitter(0.92),
				"JPY": jitter(155.0),
				"USD": 1.0,
			},
		})
	})

	log.Printf("stub providers listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}
