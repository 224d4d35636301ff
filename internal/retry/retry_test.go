package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_DoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3}
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPolicy_DoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5}
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPolicy_DoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still failing")
	calls := 0
	p := Policy{MaxAttempts: 3}
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPolicy_DoStopsOnStop(t *testing.T) {
	wantErr := errors.New("definitive")
	calls := 0
	p := Policy{MaxAttempts: 5}
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return Stop(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Stop must end the loop, got %d calls", calls)
	}
}

func TestPolicy_DoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	err := p.Do(ctx, func(attempt int) error {
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPolicy_DelaySchedule(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	if d := p.delay(0); d != 100*time.Millisecond {
		t.Errorf("attempt 0: expected 100ms, got %v", d)
	}
	if d := p.delay(1); d != 200*time.Millisecond {
		t.Errorf("attempt 1: expected 200ms, got %v", d)
	}
	if d := p.delay(2); d != 300*time.Millisecond {
		t.Errorf("attempt 2: expected cap 300ms, got %v", d)
	}
	if d := p.delay(10); d != 300*time.Millisecond {
		t.Errorf("attempt 10: expected cap 300ms, got %v", d)
	}
}
