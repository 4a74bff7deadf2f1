package quota

import (
	"context"
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// Tier is a provider subscription level; it fixes the request quotas.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Alpha-Vantage-style published limits per tier.
const (
	freeRequestsPerMinute = 5
	freeRequestsPerDay    = 500
	freeMinInterval       = 12 * time.Second

	premiumRequestsPerMinute = 120
	premiumRequestsPerDay    = 30000
	premiumMinInterval       = 500 * time.Millisecond
)

// Stats is a point-in-time snapshot of quota consumption.
type Stats struct {
	RequestsThisMinute int
	RequestsToday      int
	MinuteLimit        int
	DailyLimit         int
	Tier               Tier
	LastRequest        time.Time
}

// NearLimit reports whether either window is at 80% or more of its quota.
func (s Stats) NearLimit() bool {
	return float64(s.RequestsThisMinute) >= 0.8*float64(s.MinuteLimit) ||
		float64(s.RequestsToday) >= 0.8*float64(s.DailyLimit)
}

// Throttle enforces a provider's per-minute and per-day quotas plus a minimum
// spacing between requests. Counter rollover is checked lazily on every call,
// there is no background timer.
type Throttle struct {
	mu              sync.Mutex
	provider        string
	tier            Tier
	requestsMinute  int
	requestsDay     int
	lastRequest     time.Time
	lastMinuteReset time.Time
	lastDayReset    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewThrottle(provider string, tier Tier) *Throttle {
	return NewThrottleWithClock(provider, tier, time.Now, sleepCtx)
}

func NewThrottleWithClock(provider string, tier Tier, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Throttle {
	t := now()
	return &Throttle{
		provider:        provider,
		tier:            tier,
		lastMinuteReset: t,
		lastDayReset:    t,
		now:             now,
		sleep:           sleep,
	}
}

func (t *Throttle) SetTier(tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tier = tier
	observ.Log("quota_tier_set", map[string]any{"provider": t.provider, "tier": string(tier)})
}

// CanProceed reports whether a request may be issued now. It returns false at
// a minute or day quota; when the quotas allow but the minimum inter-request
// interval has not yet elapsed, it cooperatively waits out the remainder
// before returning true. The caller must call RecordRequest immediately after
// actually issuing the request.
func (t *Throttle) CanProceed(ctx context.Context) (bool, error) {
	t.mu.Lock()
	nowT := t.now()
	t.resetCountersLocked(nowT)

	if t.requestsDay >= t.dailyLimit() {
		observ.Warn("quota_daily_limit", map[string]any{
			"provider": t.provider, "used": t.requestsDay, "limit": t.dailyLimit(),
		})
		observ.IncCounter("quota_rejections_total", map[string]string{"provider": t.provider, "window": "day"})
		t.mu.Unlock()
		return false, nil
	}
	if t.requestsMinute >= t.minuteLimit() {
		observ.Warn("quota_minute_limit", map[string]any{
			"provider": t.provider, "used": t.requestsMinute, "limit": t.minuteLimit(),
		})
		observ.IncCounter("quota_rejections_total", map[string]string{"provider": t.provider, "window": "minute"})
		t.mu.Unlock()
		return false, nil
	}

	wait := t.minInterval() - nowT.Sub(t.lastRequest)
	t.mu.Unlock()

	if !t.lastRequestIsZero() && wait > 0 {
		observ.Log("quota_spacing_wait", map[string]any{
			"provider": t.provider, "wait_ms": wait.Milliseconds(),
		})
		if err := t.sleep(ctx, wait); err != nil {
			return false, err
		}
	}
	return true, nil
}

// RecordRequest counts an issued request against both windows.
func (t *Throttle) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRequest = t.now()
	t.requestsMinute++
	t.requestsDay++
	observ.SetGauge("quota_requests_today", float64(t.requestsDay), map[string]string{"provider": t.provider})
}

func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetCountersLocked(t.now())
	return Stats{
		RequestsThisMinute: t.requestsMinute,
		RequestsToday:      t.requestsDay,
		MinuteLimit:        t.minuteLimit(),
		DailyLimit:         t.dailyLimit(),
		Tier:               t.tier,
		LastRequest:        t.lastRequest,
	}
}

func (t *Throttle) RemainingToday() int {
	s := t.Stats()
	if r := s.DailyLimit - s.RequestsToday; r > 0 {
		return r
	}
	return 0
}

func (t *Throttle) lastRequestIsZero() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRequest.IsZero()
}

// resetCountersLocked rolls either counter over once its window has passed.
func (t *Throttle) resetCountersLocked(now time.Time) {
	if now.Sub(t.lastMinuteReset) >= time.Minute {
		t.requestsMinute = 0
		t.lastMinuteReset = now
	}
	if now.Sub(t.lastDayReset) >= 24*time.Hour {
		t.requestsDay = 0
		t.lastDayReset = now
	}
}

func (t *Throttle) minuteLimit() int {
	if t.tier == TierPremium {
		return premiumRequestsPerMinute
	}
	return freeRequestsPerMinute
}

func (t *Throttle) dailyLimit() int {
	if t.tier == TierPremium {
		return premiumRequestsPerDay
	}
	return freeRequestsPerDay
}

func (t *Throttle) minInterval() time.Duration {
	if t.tier == TierPremium {
		return premiumMinInterval
	}
	return freeMinInterval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
