package resilience

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var (
	errProviderDown = errors.New("synthesis provider unavailable")
	errBadMessage   = errors.New("synthesis provider rejected the message")
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newSynthesisBreaker counts only errProviderDown and records transitions
func newSynthesisBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *testClock, *[]string) {
	var transitions []string
	cb := NewCircuitBreaker(BreakerOptions{
		Name:         "gemini",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		Counts:       func(err error) bool { return errors.Is(err, errProviderDown) },
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.now
	return cb, clock, &transitions
}

// synthesize makes one guarded call that returns result and reports whether
// the provider was actually reached
func synthesize(cb *CircuitBreaker, result error) (reached bool, err error) {
	err = cb.Call(func() error {
		reached = true
		return result
	})
	return reached, err
}

func TestCircuitBreaker_OpensAfterConsecutiveOutages(t *testing.T) {
	cb, _, transitions := newSynthesisBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		if _, err := synthesize(cb, errProviderDown); !errors.Is(err, errProviderDown) {
			t.Fatalf("call %d: expected the provider error unchanged, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 outages, got %s", cb.State())
	}

	reached, err := synthesize(cb, nil)
	if reached {
		t.Error("Expected the open circuit to keep the call from the provider")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	stats := cb.Stats()
	if stats.Calls != 3 || stats.Failures != 3 || stats.Rejected != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if got := strings.Join(*transitions, ","); got != "gemini:closed->open" {
		t.Errorf("Unexpected transitions %s", got)
	}
}

func TestCircuitBreaker_RejectedMessagesDoNotTrip(t *testing.T) {
	cb, _, _ := newSynthesisBreaker(2, 30*time.Second)

	for i := 0; i < 10; i++ {
		reached, err := synthesize(cb, errBadMessage)
		if !reached {
			t.Fatalf("call %d: expected the provider to be called", i)
		}
		if !errors.Is(err, errBadMessage) {
			t.Fatalf("call %d: expected the provider error unchanged, got %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected bad input to leave the circuit closed, got %s", cb.State())
	}
	if stats := cb.Stats(); stats.Calls != 10 || stats.Failures != 0 {
		t.Errorf("Expected 10 calls and no counted failures, got %+v", stats)
	}
}

func TestCircuitBreaker_StreakIsBrokenByAnswers(t *testing.T) {
	cb, _, _ := newSynthesisBreaker(3, 30*time.Second)

	// Two outages, then the provider answers (even if it refuses the text)
	synthesize(cb, errProviderDown)
	synthesize(cb, errProviderDown)
	synthesize(cb, errBadMessage)
	synthesize(cb, errProviderDown)
	synthesize(cb, errProviderDown)
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed without 3 outages in a row, got %s", cb.State())
	}

	synthesize(cb, nil)
	synthesize(cb, errProviderDown)
	synthesize(cb, errProviderDown)
	if cb.State() != StateClosed {
		t.Fatalf("Expected a success to restart the count, got %s", cb.State())
	}

	synthesize(cb, errProviderDown)
	if cb.State() != StateOpen {
		t.Errorf("Expected open after 3 outages in a row, got %s", cb.State())
	}
}

func TestCircuitBreaker_TrialCallsCloseCircuit(t *testing.T) {
	cb, clock, transitions := newSynthesisBreaker(1, 30*time.Second)

	synthesize(cb, errProviderDown)
	clock.advance(29 * time.Second)
	if reached, _ := synthesize(cb, nil); reached {
		t.Fatal("Expected calls refused before the reset timeout")
	}

	clock.advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after the reset timeout, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		reached, err := synthesize(cb, nil)
		if !reached || err != nil {
			t.Fatalf("trial %d: expected the provider to be called, got reached=%v err=%v", i, reached, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after 3 good trial calls, got %s", cb.State())
	}

	want := "gemini:closed->open,gemini:open->half_open,gemini:half_open->closed"
	if got := strings.Join(*transitions, ","); got != want {
		t.Errorf("Expected transitions %s, got %s", want, got)
	}
}

func TestCircuitBreaker_TrialOutageReopens(t *testing.T) {
	cb, clock, _ := newSynthesisBreaker(1, 30*time.Second)

	synthesize(cb, errProviderDown)
	clock.advance(30 * time.Second)

	synthesize(cb, nil)
	synthesize(cb, errProviderDown)
	if cb.State() != StateOpen {
		t.Fatalf("Expected a failed trial to reopen the circuit, got %s", cb.State())
	}

	// The open period restarts from the failed trial
	clock.advance(20 * time.Second)
	if reached, _ := synthesize(cb, nil); reached {
		t.Error("Expected calls refused during the new open period")
	}
	clock.advance(10 * time.Second)
	if reached, _ := synthesize(cb, nil); !reached {
		t.Error("Expected a trial call once the new open period ended")
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	cb, clock, _ := newSynthesisBreaker(1, time.Second)

	synthesize(cb, errProviderDown)
	clock.advance(time.Second)

	// Trial calls still in flight hold their slot
	allowed := 0
	for i := 0; i < 5; i++ {
		if cb.acquire() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 concurrent trial calls, got %d", allowed)
	}
	if stats := cb.Stats(); stats.Rejected != 2 {
		t.Errorf("Expected 2 rejected calls, got %d", stats.Rejected)
	}
}

func TestCircuitBreaker_CountsEveryErrorByDefault(t *testing.T) {
	cb := NewCircuitBreaker(BreakerOptions{Name: "relay", MaxFailures: 2})

	cb.Call(func() error { return errBadMessage })
	cb.Call(func() error { return errBadMessage })
	if cb.State() != StateOpen {
		t.Errorf("Expected any error to count without a classifier, got %s", cb.State())
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerOptions{Name: "relay"})

	if cb.opts.MaxFailures != 5 || cb.opts.ResetTimeout != 30*time.Second || cb.opts.TrialCalls != 3 {
		t.Errorf("Unexpected defaults %+v", cb.opts)
	}
	if cb.Name() != "relay" {
		t.Errorf("Expected name relay, got %q", cb.Name())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _, transitions := newSynthesisBreaker(1, time.Hour)

	synthesize(cb, errProviderDown)
	synthesize(cb, nil)
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
	if stats := cb.Stats(); stats != (BreakerStats{State: StateClosed}) {
		t.Errorf("Expected cleared stats, got %+v", stats)
	}
	if got := strings.Join(*transitions, ","); got != "gemini:closed->open,gemini:open->closed" {
		t.Errorf("Unexpected transitions %s", got)
	}
	if reached, _ := synthesize(cb, nil); !reached {
		t.Error("Expected calls to reach the provider after reset")
	}
}

func TestCircuitState_String(t *testing.T) {
	for state, want := range map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half_open",
		CircuitState(42): "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
