package retry

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2, Unit: time.Second, Max: 300 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{100, 300 * time.Second},
		{-1, time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitter(t *testing.T) {
	b := DefaultBackoff()

	for i := 0; i < 50; i++ {
		got := b.Delay(3)
		if got < 8*time.Second || got >= 9*time.Second {
			t.Fatalf("Delay(3) = %v, want in [8s, 9s)", got)
		}
	}
}

func TestBackoffDefaultsForZeroValue(t *testing.T) {
	var b Backoff
	if got := b.Delay(1); got != 2*time.Second {
		t.Errorf("zero Backoff Delay(1) = %v, want 2s", got)
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep() returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Sleep() on cancelled context = %v, want context.Canceled", err)
	}
}

func TestSleepUntil(t *testing.T) {
	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()

	start := time.Now()
	if err := SleepUntil(context.Background(), nil, time.Hour, done); err != nil {
		t.Fatalf("SleepUntil() error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("SleepUntil() did not wake on done")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepUntil(ctx, Sleep, time.Hour, make(chan struct{})); err != context.Canceled {
		t.Errorf("SleepUntil() on cancelled context = %v, want context.Canceled", err)
	}

	if err := SleepUntil(context.Background(), nil, 0, nil); err != nil {
		t.Errorf("SleepUntil(0) = %v, want nil", err)
	}
}
