package marketdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/finwatch/wealthtracker/internal/apierr"
	"github.com/finwatch/wealthtracker/internal/observ"
	"github.com/finwatch/wealthtracker/internal/providers"
)

// SearchKind distinguishes a result list from the reasons there isn't one.
type SearchKind string

const (
	SearchSuccess   SearchKind = "success"
	SearchNoResults SearchKind = "no_results"
	SearchError     SearchKind = "error"
)

// SearchErrorKind is the display-oriented failure category for a search.
type SearchErrorKind string

const (
	SearchErrAPILimit   SearchErrorKind = "api_limit"
	SearchErrNetwork    SearchErrorKind = "network"
	SearchErrServer     SearchErrorKind = "server"
	SearchErrInvalidKey SearchErrorKind = "invalid_key"
	SearchErrUnknown    SearchErrorKind = "unknown"
)

// SearchResult is a tagged variant: Success carries Items, NoResults and
// Error carry a Reason, Error additionally an ErrorKind.
type SearchResult struct {
	Kind      SearchKind
	Items     []providers.SearchItem
	Reason    string
	ErrorKind SearchErrorKind
}

// Search looks up instruments by free text. Blank and single-character
// queries short-circuit without touching the provider; failures come back
// typed so callers can tell "no matches" from "could not search".
func (s *Service) Search(ctx context.Context, query string) SearchResult {
	q := strings.TrimSpace(query)
	if len(q) < 2 {
		return SearchResult{Kind: SearchNoResults, Reason: "invalid query: need at least 2 characters"}
	}

	var items []providers.SearchItem
	err := s.retrier.Do(ctx, "search "+q, func(ctx context.Context) error {
		found, ferr := s.providers.Search(ctx, q)
		if ferr != nil {
			return ferr
		}
		items = found
		return nil
	})
	if err != nil {
		kind := searchErrorKind(apierr.Classify(err))
		observ.IncCounter("search_errors_total", map[string]string{"kind": string(kind)})
		return SearchResult{Kind: SearchError, Reason: err.Error(), ErrorKind: kind}
	}

	if len(items) == 0 {
		return SearchResult{Kind: SearchNoResults, Reason: fmt.Sprintf("no matches for %q", q)}
	}
	return SearchResult{Kind: SearchSuccess, Items: items}
}

func searchErrorKind(class apierr.Class) SearchErrorKind {
	switch class {
	case apierr.RateLimit:
		return SearchErrAPILimit
	case apierr.Network:
		return SearchErrNetwork
	case apierr.ServerError:
		return SearchErrServer
	case apierr.InvalidCall:
		return SearchErrInvalidKey
	default:
		return SearchErrUnknown
	}
}
