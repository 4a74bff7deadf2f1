package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// Class buckets a provider failure into the cause the recovery table keys on.
type Class int

const (
	Network Class = iota
	RateLimit
	ServerError
	InvalidCall
	DataValidation
	Unknown
)

func (c Class) String() string {
	switch c {
	case Network:
		return "network"
	case RateLimit:
		return "rate_limit"
	case ServerError:
		return "server_error"
	case InvalidCall:
		return "invalid_call"
	case DataValidation:
		return "data_validation"
	default:
		return "unknown"
	}
}

// HTTPError is a provider response with a non-2xx status. Provider clients
// return it so classification can key off the status code.
type HTTPError struct {
	StatusCode int
	Provider   string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
}

// Classify maps a failure to its Class. Status code rules win over message
// inspection; connectivity errors are recognized before falling back to
// keyword matching on the lower-cased message.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			observ.Warn("api_error", map[string]any{"class": "rate_limit", "status": httpErr.StatusCode})
			return RateLimit
		case httpErr.StatusCode >= 500 && httpErr.StatusCode <= 599:
			observ.Warn("api_error", map[string]any{"class": "server_error", "status": httpErr.StatusCode})
			return ServerError
		case httpErr.StatusCode == 400 || httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			observ.Warn("api_error", map[string]any{"class": "invalid_call", "status": httpErr.StatusCode})
			return InvalidCall
		default:
			return Unknown
		}
	}

	if isConnectivityError(err) {
		return Network
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no valid") || strings.Contains(msg, "invalid data"):
		return DataValidation
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return RateLimit
	default:
		return Unknown
	}
}

func isConnectivityError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
