package providers

import (
	"regexp"
	"strings"
	"time"
)

// Market identifies which upstream serves an instrument.
type Market string

const (
	MarketUS Market = "US"
	MarketTW Market = "TW"
)

var twNumericCode = regexp.MustCompile(`^\d{4}$`)

// MarketFor derives the target market from the symbol shape: a 4-digit
// numeric code or a .TW/.T suffix routes to the Taiwan exchange, anything
// else to the default US provider.
func MarketFor(symbol string) Market {
	s := strings.TrimSpace(symbol)
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, ".TW") || strings.HasSuffix(upper, ".T") || twNumericCode.MatchString(s) {
		return MarketTW
	}
	return MarketUS
}

// CleanTaiwanSymbol strips the exchange suffix so the bare numeric code can
// be matched against the bulk snapshot.
func CleanTaiwanSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	for _, suffix := range []string{".TW", ".tw", ":TW", ".T", ".t", ":T"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}

// QuoteResult is the normalized quote shape every provider maps into.
// Never mutated after creation.
type QuoteResult struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	High          float64
	Low           float64
	Open          float64
	PreviousClose float64
	Provider      string
	RetrievedAt   time.Time
}

// ExchangeRateResult is the normalized currency-conversion shape.
type ExchangeRateResult struct {
	From        string
	To          string
	Rate        float64
	Provider    string
	RetrievedAt time.Time
}

// SearchItem is one instrument-search match.
type SearchItem struct {
	Symbol      string
	ShortName   string
	LongName    string
	Exchange    string
	MarketState string
}

// exchangeFor guesses the listing exchange for a search match.
func exchangeFor(symbol string) string {
	if MarketFor(symbol) == MarketTW {
		return "TWSE"
	}
	return "NASDAQ"
}
