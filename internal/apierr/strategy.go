package apierr

import "time"

// Strategy is one row of the static recovery table.
type Strategy struct {
	ShouldRetry bool
	RetryDelay  time.Duration
	MaxRetries  int
	Fallback    string
}

var strategies = map[Class]Strategy{
	Network:        {ShouldRetry: true, RetryDelay: 2 * time.Second, MaxRetries: 3, Fallback: "use cached data"},
	RateLimit:      {ShouldRetry: true, RetryDelay: 60 * time.Second, MaxRetries: 2, Fallback: "use cached data and delay next update"},
	ServerError:    {ShouldRetry: true, RetryDelay: 5 * time.Second, MaxRetries: 3, Fallback: "use cached data"},
	InvalidCall:    {ShouldRetry: false, RetryDelay: 0, MaxRetries: 0, Fallback: "check API key and parameters"},
	DataValidation: {ShouldRetry: false, RetryDelay: 0, MaxRetries: 0, Fallback: "use cached data"},
	Unknown:        {ShouldRetry: true, RetryDelay: 3 * time.Second, MaxRetries: 2, Fallback: "use cached data"},
}

// StrategyFor returns the recovery strategy for a classification. The table
// is total: every Class has exactly one row, unlisted values fall back to the
// Unknown row.
func StrategyFor(c Class) Strategy {
	if s, ok := strategies[c]; ok {
		return s
	}
	return strategies[Unknown]
}

// Classes lists every classification, for table-completeness checks.
func Classes() []Class {
	return []Class{Network, RateLimit, ServerError, InvalidCall, DataValidation, Unknown}
}
