package breaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clk *fakeClock) *Breaker {
	return NewWithConfig("test", 5, 60*time.Second, clk.now)
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if b.State() != Closed {
			t.Fatalf("state=%v after %d failures, want closed", b.State(), i+1)
		}
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state=%v after 5 failures, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() = %v while open, want ErrOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != Closed {
		t.Errorf("state=%v, want closed: success should have reset the count", b.State())
	}
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.advance(61 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v, want trial admitted", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state=%v, want half-open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("second Allow() during trial = %v, want ErrOpen", err)
	}
}

func TestTrialSuccessCloses(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.advance(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Errorf("state=%v after trial success, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after close = %v, want nil", err)
	}
}

func TestTrialFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.advance(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("state=%v after trial failure, want open", b.State())
	}
	// Cooldown restarts from the trial failure.
	clk.advance(30 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() mid-cooldown = %v, want ErrOpen", err)
	}
	clk.advance(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after restarted cooldown = %v, want trial admitted", err)
	}
}

func TestExecuteSkipsOperationWhileOpen(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	b := newTestBreaker(clk)

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error { return boom })
	}

	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute while open = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("operation was invoked while breaker open")
	}
}
