// Package pending implements the asynchronous request/response correlation
// table that ties an outbound executor command to its eventual reply.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// CancelReason is the rejection message used when the executor connection
// goes away with requests still in flight.
const CancelReason = "connection closed"

type outcome struct {
	result json.RawMessage
	err    error
}

// Waiter is the suspended caller's side of a registered request. Exactly one
// outcome is ever delivered.
type Waiter struct {
	ch chan outcome
}

// Wait blocks until the request settles or ctx is cancelled. A cancelled
// context abandons the waiter; the map entry is settled or timed out later
// and its outcome discarded.
func (w *Waiter) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-w.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	waiter    *Waiter
	timer     *time.Timer
	startedAt time.Time
}

// Map is the pending-request table. All methods are safe for concurrent use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
	counter atomic.Uint64
}

// NewMap returns an empty pending-request table.
func NewMap() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// NewCallID allocates a request id for front-end response envelopes. These
// ids identify one inbound API call in logs and responses; they are not
// executor correlation ids.
func NewCallID() string {
	return "cmd_" + strconv.FormatInt(time.Now().UnixMilli(), 36)
}

// NextID allocates a correlation id that is unique under concurrent calls
// and across process restarts within a run: a monotonic counter plus a
// millisecond wall-clock component, both base36.
func (m *Map) NextID() string {
	n := m.counter.Add(1)
	return "cmd_" + strconv.FormatUint(n, 36) + "_" + strconv.FormatInt(time.Now().UnixMilli(), 36)
}

// Register adds a waiter for id. If neither Resolve nor Reject settles it
// within timeout, the entry rejects itself.
func (m *Map) Register(id string, timeout time.Duration) *Waiter {
	w := &Waiter{ch: make(chan outcome, 1)}
	e := &entry{waiter: w, startedAt: time.Now()}
	e.timer = time.AfterFunc(timeout, func() {
		m.Reject(id, fmt.Errorf("command %s timed out after %dms", id, timeout.Milliseconds()))
	})

	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()
	return w
}

// Resolve settles id with a result. Returns false when the id is unknown or
// already settled; the first settle always wins.
func (m *Map) Resolve(id string, result json.RawMessage) bool {
	e := m.take(id)
	if e == nil {
		return false
	}
	e.waiter.ch <- outcome{result: result}
	return true
}

// Reject settles id with an error. Returns false when the id is unknown or
// already settled.
func (m *Map) Reject(id string, err error) bool {
	e := m.take(id)
	if e == nil {
		return false
	}
	e.waiter.ch <- outcome{err: err}
	return true
}

// CancelAll rejects every still-pending entry with the given reason and
// clears the table. Used when the executor disconnects.
func (m *Map) CancelAll(reason string) {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.waiter.ch <- outcome{err: fmt.Errorf("%s", reason)}
	}
}

// Elapsed reports how long id has been pending. The second return is false
// when the id is unknown or already settled.
func (m *Map) Elapsed(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return 0, false
	}
	return time.Since(e.startedAt), true
}

// Len returns the number of in-flight requests.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// take removes and returns the entry for id, stopping its timer. Returns nil
// when the id is unknown or already settled.
func (m *Map) take(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	delete(m.entries, id)
	e.timer.Stop()
	return e
}
