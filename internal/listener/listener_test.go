package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPoller struct {
	calls atomic.Int32
	err   error
}

func (p *countingPoller) Poll(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerPollsUntilStopped(t *testing.T) {
	poller := &countingPoller{}
	l := NewSettlementListener(SettlementListenerConfig{Poller: poller, PollingInterval: 10 * time.Millisecond})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if poller.calls.Load() < 1 {
		t.Error("expected a recovery poll during Start")
	}

	waitFor(t, func() bool { return poller.calls.Load() >= 3 })
	l.Stop()
	l.Stop()

	stopped := poller.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := poller.calls.Load(); got != stopped {
		t.Errorf("polled %d times after Stop", got-stopped)
	}
}

func TestListenerKeepsPollingAfterErrors(t *testing.T) {
	poller := &countingPoller{err: errors.New("provider unavailable")}
	l := NewSettlementListener(SettlementListenerConfig{Poller: poller, PollingInterval: 10 * time.Millisecond})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return poller.calls.Load() >= 3 })
	l.Stop()

	polls, failures := l.Stats()
	if polls < 3 || failures != polls {
		t.Errorf("Stats() = %d polls, %d failures", polls, failures)
	}
}

func TestListenerStopsWithContext(t *testing.T) {
	poller := &countingPoller{}
	l := NewSettlementListener(SettlementListenerConfig{Poller: poller, PollingInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}

func TestStartFailsWhenContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poller := &countingPoller{err: context.Canceled}
	l := NewSettlementListener(SettlementListenerConfig{Poller: poller})
	if err := l.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}
