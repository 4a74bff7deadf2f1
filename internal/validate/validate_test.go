package validate

import (
	"strings"
	"testing"
	"time"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"well formed", `{"c": 123.45, "d": 1.2}`, true},
		{"empty", "", false},
		{"whitespace only", "   \n\t", false},
		{"too large", strings.Repeat("x", 100_001), false},
		{"null bytes", "abc\x00def", false},
		{"error envelope", `{"error": true, "message": "bad key"}`, false},
		{"error word alone is fine", `{"note": "errors were zero"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Payload(tt.body, "quote")
			if v.OK != tt.ok {
				t.Errorf("Payload OK=%v reason=%q, want OK=%v", v.OK, v.Reason, tt.ok)
			}
			if !v.OK && v.Reason == "" {
				t.Error("invalid verdict must carry a reason")
			}
		})
	}
}

func TestQuoteRecord(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Minute)

	tests := []struct {
		name    string
		symbol  string
		price   float64
		updated time.Time
		ok      bool
	}{
		{"valid", "AAPL", 187.23, fresh, true},
		{"valid taiwan code", "2330", 1050, fresh, true},
		{"blank symbol", "  ", 10, fresh, false},
		{"symbol too long", "ABCDEFGHIJK", 10, fresh, false},
		{"zero price", "AAPL", 0, fresh, false},
		{"negative price", "AAPL", -5, fresh, false},
		{"price at ceiling", "AAPL", 1_000_000, fresh, false},
		{"zero time", "AAPL", 10, time.Time{}, false},
		{"far future", "AAPL", 10, now.Add(2 * time.Minute), false},
		{"slight future within slack", "AAPL", 10, now.Add(30 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := QuoteRecord(tt.symbol, tt.price, tt.updated, now)
			if v.OK != tt.ok {
				t.Errorf("QuoteRecord = %+v, want OK=%v", v, tt.ok)
			}
		})
	}
}

func TestQuoteRecordIdempotent(t *testing.T) {
	now := time.Now()
	a := QuoteRecord("AAPL", 187.23, now.Add(-time.Minute), now)
	b := QuoteRecord("AAPL", 187.23, now.Add(-time.Minute), now)
	if a != b {
		t.Errorf("same input produced different verdicts: %+v vs %+v", a, b)
	}

	// price=0 is invalid regardless of other fields.
	for _, sym := range []string{"AAPL", "2330", "X"} {
		if v := QuoteRecord(sym, 0, now, now); v.OK {
			t.Errorf("QuoteRecord(%q, price=0) = valid, want invalid", sym)
		}
	}
}

func TestRateRecord(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Minute)

	tests := []struct {
		name    string
		pair    string
		rate    float64
		updated time.Time
		ok      bool
	}{
		{"valid", "USD_TWD", 31.42, fresh, true},
		{"blank pair", "", 31.42, fresh, false},
		{"missing separator", "USDTWD", 31.42, fresh, false},
		{"zero rate", "USD_TWD", 0, fresh, false},
		{"rate at ceiling", "USD_TWD", 1000, fresh, false},
		{"future time", "USD_TWD", 31.42, now.Add(2 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := RateRecord(tt.pair, tt.rate, tt.updated, now)
			if v.OK != tt.ok {
				t.Errorf("RateRecord = %+v, want OK=%v", v, tt.ok)
			}
		})
	}
}

func TestSanitizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" aapl ", "AAPL"},
		{"2330.tw", "2330.TW"},
		{"br k-a!", "BRKA"},
		{"abcdefghijklmno", "ABCDEFGHIJ"},
	}
	for _, tt := range tests {
		if got := SanitizeSymbol(tt.in); got != tt.want {
			t.Errorf("SanitizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
