package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingCycler struct {
	mu    sync.Mutex
	asOfs []time.Time
	err   error
}

func (c *recordingCycler) RunCycle(ctx context.Context, asOf time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asOfs = append(c.asOfs, asOf)
	return c.err
}

func (c *recordingCycler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.asOfs)
}

func waitForRuns(t *testing.T, c *recordingCycler, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for c.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d cycle runs, want at least %d", c.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerRunsCycleWithClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cycler := &recordingCycler{}
	s, err := New(cycler, 20*time.Millisecond, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForRuns(t, cycler, 2)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	cycler.mu.Lock()
	defer cycler.mu.Unlock()
	for _, asOf := range cycler.asOfs {
		if !asOf.Equal(fixed) {
			t.Errorf("asOf = %v, want %v", asOf, fixed)
		}
	}
}

func TestSchedulerKeepsTickingAfterFailure(t *testing.T) {
	cycler := &recordingCycler{err: errors.New("ledger unavailable")}
	s, err := New(cycler, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForRuns(t, cycler, 2)
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerSkipsCancelledContext(t *testing.T) {
	cycler := &recordingCycler{}
	s, err := New(cycler, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.runCycle(ctx); err != nil {
		t.Errorf("runCycle() error = %v", err)
	}
	if cycler.count() != 0 {
		t.Errorf("cycle ran %d times on a cancelled context", cycler.count())
	}
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(&recordingCycler{}, 0); err == nil {
		t.Error("New() with zero interval should fail")
	}
}
