package providers

import (
	"context"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// Gateway routes market-data requests to the provider owning each market.
type Gateway struct {
	finnhub *FinnhubClient
	twse    *TWSEClient
	fx      *ExchangeRateClient
}

func NewGateway(finnhub *FinnhubClient, twse *TWSEClient, fx *ExchangeRateClient) *Gateway {
	return &Gateway{finnhub: finnhub, twse: twse, fx: fx}
}

// Quote fetches one quote from the provider serving the symbol's market.
func (g *Gateway) Quote(ctx context.Context, symbol string) (QuoteResult, error) {
	market := MarketFor(symbol)
	observ.IncCounter("provider_quote_requests_total", map[string]string{"market": string(market)})
	if market == MarketTW {
		return g.twse.Quote(ctx, symbol)
	}
	return g.finnhub.Quote(ctx, symbol)
}

// ExchangeRate fetches a currency conversion rate.
func (g *Gateway) ExchangeRate(ctx context.Context, from, to string) (ExchangeRateResult, error) {
	return g.fx.Rate(ctx, from, to)
}

// Search looks up instruments by name or ticker fragment.
func (g *Gateway) Search(ctx context.Context, query string) ([]SearchItem, error) {
	return g.finnhub.Search(ctx, query)
}

// TWSESnapshot exposes the Taiwan bulk cache for maintenance sweeps.
func (g *Gateway) TWSESnapshot() *SnapshotCache {
	return g.twse.Snapshot()
}
