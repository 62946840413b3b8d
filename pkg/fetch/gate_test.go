package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestGate_AcquireRelease_Basic(t *testing.T) {
	gate := NewRequestGate(2)

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (both slots held)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx); err == nil {
		t.Fatal("expected third acquire to fail, but it succeeded")
	}
	if gate.InFlight() != 2 {
		t.Errorf("expected 2 in flight, got %d", gate.InFlight())
	}

	gate.Release()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}

	gate.Release()
	gate.Release()
	if gate.InFlight() != 0 {
		t.Errorf("expected 0 in flight after releases, got %d", gate.InFlight())
	}
}

func TestRequestGate_DefaultsToOne(t *testing.T) {
	gate := NewRequestGate(0)
	if gate.Limit() != 1 {
		t.Errorf("expected limit 1, got %d", gate.Limit())
	}
}

func TestRequestGate_CancelledAcquireDoesNotLeak(t *testing.T) {
	gate := NewRequestGate(1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Acquire(ctx); err == nil {
		t.Fatal("expected acquire with cancelled context to fail")
	}
	if gate.InFlight() != 1 {
		t.Errorf("expected 1 in flight, got %d", gate.InFlight())
	}
	gate.Release()
}

func TestRequestGate_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	gate := NewRequestGate(3)
	const goroutines = 40

	var peak atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			if n := gate.InFlight(); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			gate.Release()
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("observed %d concurrent holders, limit is 3", peak.Load())
	}
	if gate.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", gate.InFlight())
	}
}
