package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSleeper struct {
	calls []time.Duration
	err   error
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.calls = append(f.calls, d)
	return f.err
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("resource busy")

	tests := []struct {
		name         string
		attempts     int
		failures     int
		wantErr      bool
		wantCalls    int
		wantSleeps   int
		wantRetryLog []int
	}{
		{name: "first attempt succeeds", attempts: 5, failures: 0, wantCalls: 1},
		{name: "succeeds on third", attempts: 5, failures: 2, wantCalls: 3, wantSleeps: 2, wantRetryLog: []int{1, 2}},
		{name: "succeeds on last", attempts: 5, failures: 4, wantCalls: 5, wantSleeps: 4, wantRetryLog: []int{1, 2, 3, 4}},
		{name: "exhausted", attempts: 5, failures: 10, wantErr: true, wantCalls: 5, wantSleeps: 4, wantRetryLog: []int{1, 2, 3, 4}},
		{name: "zero attempts still calls once", attempts: 0, failures: 10, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSleeper{}
			var retried []int
			p := Policy{
				Attempts: tt.attempts,
				Delay:    15 * time.Second,
				Sleep:    s.sleep,
				OnRetry:  func(attempt int, _ error) { retried = append(retried, attempt) },
			}

			calls := 0
			err := Do(context.Background(), p, func(attempt int) error {
				calls++
				if attempt != calls {
					t.Fatalf("expected attempt %d, got %d", calls, attempt)
				}
				if calls <= tt.failures {
					return errFlaky
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.wantErr && !errors.Is(err, errFlaky) {
				t.Errorf("expected last error to be returned, got %v", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if len(s.calls) != tt.wantSleeps {
				t.Errorf("expected %d sleeps, got %d", tt.wantSleeps, len(s.calls))
			}
			for _, d := range s.calls {
				if d != 15*time.Second {
					t.Errorf("expected fixed delay of 15s, got %v", d)
				}
			}
			if len(retried) != len(tt.wantRetryLog) {
				t.Fatalf("expected OnRetry for %v, got %v", tt.wantRetryLog, retried)
			}
			for i := range retried {
				if retried[i] != tt.wantRetryLog[i] {
					t.Errorf("expected OnRetry for %v, got %v", tt.wantRetryLog, retried)
				}
			}
		})
	}
}

func TestDo_SleepInterrupted(t *testing.T) {
	errFlaky := errors.New("resource busy")
	s := &fakeSleeper{err: context.Canceled}

	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Sleep: s.sleep}, func(int) error {
		calls++
		return errFlaky
	})

	if calls != 1 {
		t.Errorf("expected a single call before interruption, got %d", calls)
	}
	if !errors.Is(err, errFlaky) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected both the attempt error and the interruption, got %v", err)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("expected nil for zero delay, got %v", err)
	}
}
