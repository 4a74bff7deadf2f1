package quota

import (
	"context"
	"testing"
	"time"
)

type testClock struct {
	t      time.Time
	waited []time.Duration
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) sleep(_ context.Context, d time.Duration) error {
	c.waited = append(c.waited, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestThrottle(tier Tier) (*Throttle, *testClock) {
	clk := &testClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	return NewThrottleWithClock("finnhub", tier, clk.now, clk.sleep), clk
}

func TestFirstRequestProceedsWithoutWait(t *testing.T) {
	th, clk := newTestThrottle(TierFree)

	ok, err := th.CanProceed(context.Background())
	if err != nil || !ok {
		t.Fatalf("CanProceed = %v, %v; want true, nil", ok, err)
	}
	if len(clk.waited) != 0 {
		t.Errorf("waited %v before any request was recorded", clk.waited)
	}
}

func TestMinIntervalSpacing(t *testing.T) {
	th, clk := newTestThrottle(TierFree)

	ok, _ := th.CanProceed(context.Background())
	if !ok {
		t.Fatal("first CanProceed refused")
	}
	th.RecordRequest()

	clk.t = clk.t.Add(3 * time.Second)
	ok, err := th.CanProceed(context.Background())
	if err != nil || !ok {
		t.Fatalf("CanProceed = %v, %v", ok, err)
	}
	if len(clk.waited) != 1 || clk.waited[0] != 9*time.Second {
		t.Errorf("waited %v, want a single 9s spacing wait (12s interval - 3s elapsed)", clk.waited)
	}
}

func TestMinuteLimitRefusesUntilRollover(t *testing.T) {
	th, clk := newTestThrottle(TierFree)

	for i := 0; i < 5; i++ {
		th.RecordRequest()
	}
	ok, _ := th.CanProceed(context.Background())
	if ok {
		t.Fatal("CanProceed = true at the 5/min limit, want false")
	}

	clk.t = clk.t.Add(61 * time.Second)
	ok, _ = th.CanProceed(context.Background())
	if !ok {
		t.Fatal("CanProceed = false after minute rollover, want true")
	}
}

func TestDailyLimitRefusesUntilRollover(t *testing.T) {
	th, clk := newTestThrottle(TierFree)

	// Walk the clock so the minute counter keeps rolling over while the daily
	// counter accumulates to exactly the limit.
	for i := 0; i < 500; i++ {
		th.RecordRequest()
		if (i+1)%5 == 0 {
			clk.t = clk.t.Add(61 * time.Second)
		}
	}

	ok, _ := th.CanProceed(context.Background())
	if ok {
		t.Fatal("CanProceed = true at the daily limit, want false")
	}

	clk.t = clk.t.Add(25 * time.Hour)
	ok, _ = th.CanProceed(context.Background())
	if !ok {
		t.Fatal("CanProceed = false after day rollover, want true")
	}
}

func TestPremiumTierLimits(t *testing.T) {
	th, clk := newTestThrottle(TierPremium)

	for i := 0; i < 120; i++ {
		th.RecordRequest()
	}
	if ok, _ := th.CanProceed(context.Background()); ok {
		t.Error("premium minute limit of 120 not enforced")
	}

	clk.t = clk.t.Add(61 * time.Second)
	if ok, _ := th.CanProceed(context.Background()); !ok {
		t.Error("premium throttle refused after rollover")
	}
	th.RecordRequest()

	clk.t = clk.t.Add(100 * time.Millisecond)
	ok, _ := th.CanProceed(context.Background())
	if !ok {
		t.Fatal("premium CanProceed refused inside interval")
	}
	if len(clk.waited) != 1 || clk.waited[0] != 400*time.Millisecond {
		t.Errorf("waited %v, want 400ms (500ms interval - 100ms elapsed)", clk.waited)
	}
}

func TestStatsNearLimit(t *testing.T) {
	th, _ := newTestThrottle(TierFree)

	for i := 0; i < 4; i++ {
		th.RecordRequest()
	}
	s := th.Stats()
	if !s.NearLimit() {
		t.Errorf("Stats=%+v, want NearLimit at 4/5 of the minute quota", s)
	}
	if s.RequestsThisMinute != 4 || s.RequestsToday != 4 {
		t.Errorf("Stats=%+v, want 4 requests in both windows", s)
	}
}

func TestRemainingToday(t *testing.T) {
	th, _ := newTestThrottle(TierFree)
	th.RecordRequest()
	th.RecordRequest()
	if got := th.RemainingToday(); got != 498 {
		t.Errorf("RemainingToday = %d, want 498", got)
	}
}
