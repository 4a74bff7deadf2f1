package validate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

const (
	maxPayloadBytes = 100_000
	maxSymbolLen    = 10
	maxPrice        = 1_000_000
	maxRate         = 1_000
	// Provider clocks drift; timestamps up to this far ahead are tolerated.
	futureSlack = 60 * time.Second
)

// Verdict is the outcome of a validation check. The zero value is invalid on
// purpose; use Valid() or Invalid().
type Verdict struct {
	OK     bool
	Reason string
}

func Valid() Verdict { return Verdict{OK: true} }

func Invalid(format string, args ...any) Verdict {
	return Verdict{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Payload rejects a raw provider response before decoding: empty bodies,
// oversized bodies, NUL bytes, and provider-side error envelopes (both an
// "error" and a "message" marker present).
func Payload(body, dataType string) Verdict {
	switch {
	case strings.TrimSpace(body) == "":
		return logInvalid(dataType, Invalid("response is empty"))
	case len(body) > maxPayloadBytes:
		return logInvalid(dataType, Invalid("response too large: %d bytes", len(body)))
	case strings.Contains(body, "\x00"):
		return logInvalid(dataType, Invalid("response contains null bytes"))
	case strings.Contains(body, "error") && strings.Contains(body, "message"):
		return logInvalid(dataType, Invalid("response contains provider error envelope"))
	default:
		return Valid()
	}
}

// QuoteRecord checks a decoded quote against sanity bounds. now is the
// validation reference time.
func QuoteRecord(symbol string, price float64, lastUpdated time.Time, now time.Time) Verdict {
	switch {
	case strings.TrimSpace(symbol) == "":
		return logInvalid("quote", Invalid("symbol is blank"))
	case len(symbol) > maxSymbolLen:
		return logInvalid("quote", Invalid("symbol too long: %q", symbol))
	case math.IsNaN(price) || math.IsInf(price, 0):
		return logInvalid("quote", Invalid("price is not a number"))
	case price <= 0:
		return logInvalid("quote", Invalid("price must be positive, got %v", price))
	case price >= maxPrice:
		return logInvalid("quote", Invalid("price above sanity ceiling: %v", price))
	case lastUpdated.IsZero() || lastUpdated.Unix() <= 0:
		return logInvalid("quote", Invalid("missing update time"))
	case lastUpdated.After(now.Add(futureSlack)):
		return logInvalid("quote", Invalid("update time in the future: %v", lastUpdated))
	default:
		return Valid()
	}
}

// RateRecord checks a decoded exchange rate. The pair is "FROM_TO".
func RateRecord(pair string, rate float64, lastUpdated time.Time, now time.Time) Verdict {
	switch {
	case strings.TrimSpace(pair) == "":
		return logInvalid("rate", Invalid("currency pair is blank"))
	case !strings.Contains(pair, "_"):
		return logInvalid("rate", Invalid("currency pair must be FROM_TO, got %q", pair))
	case math.IsNaN(rate) || math.IsInf(rate, 0):
		return logInvalid("rate", Invalid("rate is not a number"))
	case rate <= 0:
		return logInvalid("rate", Invalid("rate must be positive, got %v", rate))
	case rate >= maxRate:
		return logInvalid("rate", Invalid("rate above sanity ceiling: %v", rate))
	case lastUpdated.IsZero() || lastUpdated.Unix() <= 0:
		return logInvalid("rate", Invalid("missing update time"))
	case lastUpdated.After(now.Add(futureSlack)):
		return logInvalid("rate", Invalid("update time in the future: %v", lastUpdated))
	default:
		return Valid()
	}
}

// SanitizeSymbol normalizes a symbol to uppercase letters, digits, and dots,
// capped at the symbol length bound.
func SanitizeSymbol(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(symbol)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
		if b.Len() >= maxSymbolLen {
			break
		}
	}
	return b.String()
}

func logInvalid(dataType string, v Verdict) Verdict {
	observ.Warn("validation_rejected", map[string]any{"type": dataType, "reason": v.Reason})
	observ.IncCounter("validation_rejections_total", map[string]string{"type": dataType})
	return v
}
