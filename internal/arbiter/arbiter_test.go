package arbiter

import (
	"errors"
	"math"
	"testing"
	"time"
)

// recorder collects submitted values.
type recorder struct {
	values []float64
	err    error
}

func (r *recorder) submit(v float64) error {
	if r.err != nil {
		return r.err
	}
	r.values = append(r.values, v)
	return nil
}

func (r *recorder) last() float64 {
	return r.values[len(r.values)-1]
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestArbiter(cfg Config) (*Arbiter, *recorder, *fakeClock) {
	rec := &recorder{}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := New(cfg, rec.submit)
	a.SetClock(clock.now)
	return a, rec, clock
}

func mustRegister(t *testing.T, a *Arbiter, id string, priority int) {
	t.Helper()
	if err := a.RegisterSource(id, priority); err != nil {
		t.Fatalf("RegisterSource(%q) error: %v", id, err)
	}
}

func TestHighestPriorityWins(t *testing.T) {
	a, rec, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)
	mustRegister(t, a, "B", 10)

	if err := a.Write("A", 21.0); err != nil {
		t.Fatal(err)
	}
	if err := a.Write("B", 19.5); err != nil {
		t.Fatal(err)
	}

	if v, ok := a.EffectiveValue(); !ok || v != 19.5 {
		t.Errorf("EffectiveValue() = %v, %v, want 19.5", v, ok)
	}
	if rec.last() != 19.5 {
		t.Errorf("last submitted = %v, want 19.5", rec.last())
	}

	if err := a.SetPriority("B", 3); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.EffectiveValue(); v != 21.0 {
		t.Errorf("EffectiveValue() after lowering B = %v, want 21.0", v)
	}
	if rec.last() != 21.0 {
		t.Errorf("last submitted = %v, want 21.0", rec.last())
	}
	if a.Winner() != "A" {
		t.Errorf("Winner() = %q, want A", a.Winner())
	}
}

func TestEqualPriorityMostRecentWins(t *testing.T) {
	a, _, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)
	mustRegister(t, a, "B", 5)

	a.Write("A", 30)
	a.Write("B", 35)
	if v, _ := a.EffectiveValue(); v != 35 {
		t.Errorf("EffectiveValue() = %v, want 35", v)
	}

	a.Write("A", 30)
	if v, _ := a.EffectiveValue(); v != 30 {
		t.Errorf("EffectiveValue() after rewrite = %v, want 30", v)
	}
}

func TestDuplicateValuesNotResubmitted(t *testing.T) {
	a, rec, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)
	mustRegister(t, a, "B", 1)

	a.Write("A", 40)
	a.Write("A", 40)
	a.Write("B", 30) // loses, effective value unchanged

	if len(rec.values) != 1 {
		t.Errorf("submitted %v, want a single 40", rec.values)
	}
}

func TestInvalidateAndWithdraw(t *testing.T) {
	a, rec, _ := newTestArbiter(Config{Target: 1, ReleaseValue: DefaultReleaseValue})
	mustRegister(t, a, "A", 5)
	mustRegister(t, a, "B", 10)

	a.Write("A", 21)
	a.Write("B", 19.5)

	if err := a.Invalidate("B"); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.EffectiveValue(); v != 21 {
		t.Errorf("EffectiveValue() after invalidate = %v, want 21", v)
	}

	if err := a.Withdraw("A"); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.EffectiveValue(); ok {
		t.Error("EffectiveValue() ok after all sources withdrawn or invalid")
	}
	if rec.last() != DefaultReleaseValue {
		t.Errorf("last submitted = %v, want release value", rec.last())
	}
	if !a.HasSource("A") {
		t.Error("Withdraw() unregistered the source")
	}

	// a withdrawn source needs a new write to compete again
	a.SetPriority("A", 20)
	if _, ok := a.EffectiveValue(); ok {
		t.Error("withdrawn source became effective without a write")
	}
}

func TestNoReleaseBeforeFirstValue(t *testing.T) {
	a, rec, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)
	a.Withdraw("A")
	a.SetPriority("A", 1)

	if len(rec.values) != 0 {
		t.Errorf("submitted %v before any value was written", rec.values)
	}
}

func TestSourceErrors(t *testing.T) {
	a, _, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"duplicate", a.RegisterSource("A", 1), ErrDuplicateSource},
		{"empty id", a.RegisterSource("", 1), ErrInvalidSource},
		{"unknown write", a.Write("nope", 1), ErrUnknownSource},
		{"unknown priority", a.SetPriority("nope", 1), ErrUnknownSource},
		{"unknown withdraw", a.Withdraw("nope"), ErrUnknownSource},
		{"nan", a.Write("A", math.NaN()), ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("error = %v, want %v", tt.err, tt.wantErr)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	a, rec, clock := newTestArbiter(Config{Target: 1, RefreshInterval: DefaultRefreshInterval})
	mustRegister(t, a, "A", 5)
	a.Write("A", 45)

	clock.t = clock.t.Add(30 * time.Second)
	a.Refresh(clock.t)
	if len(rec.values) != 1 {
		t.Fatalf("refreshed early: %v", rec.values)
	}

	clock.t = clock.t.Add(20 * time.Second)
	a.Refresh(clock.t)
	if len(rec.values) != 2 || rec.last() != 45 {
		t.Errorf("after interval submitted %v, want 45 twice", rec.values)
	}

	a.Withdraw("A")
	clock.t = clock.t.Add(time.Hour)
	a.Refresh(clock.t)
	if rec.last() != 0 || len(rec.values) != 3 {
		t.Errorf("release was refreshed: %v", rec.values)
	}
}

func TestFailedSubmitRetriedOnRefresh(t *testing.T) {
	a, rec, clock := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)

	rec.err = errors.New("queue full")
	a.Write("A", 50)
	if _, sent := a.LastSent(); sent {
		t.Fatal("LastSent() reports a failed submit")
	}

	rec.err = nil
	a.Refresh(clock.t)
	if len(rec.values) != 1 || rec.last() != 50 {
		t.Errorf("submitted %v, want retried 50", rec.values)
	}
}

func TestUnconfirmedSubmission(t *testing.T) {
	tests := []struct {
		name      string
		retry     bool
		reported  float64
		wantAfter int // submissions after rewriting the same value
		wantTick  int // submissions after a Refresh without a change
	}{
		{name: "lost without retry resends on rewrite", retry: false, reported: 40, wantAfter: 2, wantTick: 1},
		{name: "lost with retry resends on refresh", retry: true, reported: 40, wantAfter: 2, wantTick: 2},
		{name: "stale report ignored", retry: true, reported: 35, wantAfter: 1, wantTick: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name+" (rewrite)", func(t *testing.T) {
			a, rec, _ := newTestArbiter(Config{Target: 1})
			mustRegister(t, a, "A", 5)
			a.Write("A", 40)

			a.Unconfirmed(tt.reported, tt.retry)
			a.Write("A", 40)
			if len(rec.values) != tt.wantAfter {
				t.Errorf("submitted %v, want %d submissions", rec.values, tt.wantAfter)
			}
			if _, ok := a.LastSent(); !ok {
				t.Error("LastSent() false after a successful resend")
			}
		})
		t.Run(tt.name+" (refresh)", func(t *testing.T) {
			a, rec, clock := newTestArbiter(Config{Target: 1})
			mustRegister(t, a, "A", 5)
			a.Write("A", 40)

			a.Unconfirmed(tt.reported, tt.retry)
			a.Refresh(clock.t)
			if len(rec.values) != tt.wantTick {
				t.Errorf("submitted %v, want %d submissions", rec.values, tt.wantTick)
			}
		})
	}
}

func TestUnconfirmedHidesLastSent(t *testing.T) {
	a, _, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "A", 5)
	a.Write("A", 40)

	a.Unconfirmed(40, false)
	if v, ok := a.LastSent(); ok {
		t.Errorf("LastSent() = %v, true after a lost submission", v)
	}
}

func TestRequests(t *testing.T) {
	a, _, _ := newTestArbiter(Config{Target: 1})
	mustRegister(t, a, "low", 1)
	mustRegister(t, a, "high", 9)
	a.Write("low", 20)

	reqs := a.Requests()
	if len(reqs) != 2 || reqs[0].SourceID != "high" || reqs[1].SourceID != "low" {
		t.Fatalf("Requests() = %+v", reqs)
	}
	if reqs[0].Written || !reqs[1].Written || !reqs[1].Valid {
		t.Errorf("Requests() state = %+v", reqs)
	}
}
