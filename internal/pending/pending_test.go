package pending

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNextIDUniqueUnderConcurrency(t *testing.T) {
	m := NewMap()
	const workers = 16
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := m.NextID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestResolveSettlesOnce(t *testing.T) {
	m := NewMap()
	id := m.NextID()
	w := m.Register(id, time.Minute)

	if !m.Resolve(id, json.RawMessage(`{"a":1}`)) {
		t.Fatalf("first resolve must succeed")
	}
	if m.Resolve(id, json.RawMessage(`{"a":2}`)) {
		t.Fatalf("second resolve on same id must return false")
	}
	if m.Reject(id, errors.New("late")) {
		t.Fatalf("reject after resolve must return false")
	}

	result, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if string(result) != `{"a":1}` {
		t.Fatalf("expected first result to win, got %s", result)
	}
}

func TestRejectDeliversError(t *testing.T) {
	m := NewMap()
	id := m.NextID()
	w := m.Register(id, time.Minute)

	if !m.Reject(id, errors.New("navigation failed")) {
		t.Fatalf("reject must succeed")
	}
	if _, err := w.Wait(context.Background()); err == nil || err.Error() != "navigation failed" {
		t.Fatalf("expected navigation failed, got %v", err)
	}
}

func TestTimeoutRejects(t *testing.T) {
	m := NewMap()
	id := m.NextID()
	w := m.Register(id, 20*time.Millisecond)

	_, err := w.Wait(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out after 20ms") {
		t.Fatalf("unexpected timeout message: %v", err)
	}
	if m.Resolve(id, nil) {
		t.Fatalf("resolve after timeout must return false")
	}
	if m.Len() != 0 {
		t.Fatalf("timed-out entry must be removed, len = %d", m.Len())
	}
}

func TestTimeoutAndResponseRace(t *testing.T) {
	m := NewMap()
	for i := 0; i < 100; i++ {
		id := m.NextID()
		w := m.Register(id, time.Millisecond)
		go m.Resolve(id, json.RawMessage(`"ok"`))

		result, err := w.Wait(context.Background())
		// Either the resolve or the timeout wins, never both and never neither.
		if err == nil && string(result) != `"ok"` {
			t.Fatalf("resolved with unexpected value %s", result)
		}
		if err != nil && !strings.Contains(err.Error(), "timed out") {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestCancelAllRejectsEverything(t *testing.T) {
	m := NewMap()
	const n = 25
	waiters := make([]*Waiter, n)
	for i := 0; i < n; i++ {
		id := m.NextID()
		waiters[i] = m.Register(id, time.Hour)
	}

	m.CancelAll(CancelReason)

	for i, w := range waiters {
		_, err := w.Wait(context.Background())
		if err == nil || err.Error() != CancelReason {
			t.Fatalf("waiter %d: expected %q, got %v", i, CancelReason, err)
		}
	}
	if m.Len() != 0 {
		t.Fatalf("table must be empty after CancelAll, len = %d", m.Len())
	}
}

func TestElapsed(t *testing.T) {
	m := NewMap()
	id := m.NextID()
	m.Register(id, time.Minute)

	time.Sleep(10 * time.Millisecond)
	d, ok := m.Elapsed(id)
	if !ok {
		t.Fatalf("expected elapsed for pending id")
	}
	if d < 10*time.Millisecond {
		t.Fatalf("elapsed too small: %v", d)
	}
	m.Resolve(id, nil)
	if _, ok := m.Elapsed(id); ok {
		t.Fatalf("settled id must report unknown elapsed")
	}
}

func TestWaitContextCancel(t *testing.T) {
	m := NewMap()
	id := m.NextID()
	w := m.Register(id, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The abandoned entry can still be settled without blocking.
	if !m.Resolve(id, nil) {
		t.Fatalf("settling an abandoned waiter must succeed")
	}
}
