// Package session implements the Browser Session Pool: it owns a bounded
// set of driver instances, hands out healthy sessions, reaps dead ones, and
// serializes creation under contention.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wayfarer-labs/pilot/internal/driver"
)

// State is a Session's position in its lifecycle. A session in Dead is
// never returned to callers; Busy cannot transition directly to Creating.
type State int

const (
	StateCreating State = iota
	StateReady
	StateBusy
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// actionHistoryCap bounds the ring buffer of recent actions kept per session
// for diagnostics.
const actionHistoryCap = 32

// Session wraps a driver.Adapter with pool bookkeeping: identity, state,
// timestamps, use count, and a bounded action history.
type Session struct {
	ID        string
	Adapter   driver.Adapter
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	lastUsedAt  time.Time
	useCount    int
	currentURL  string
	pageHint    string
	history     []string
	historyHead int
}

func newSession(adapter driver.Adapter) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Adapter:    adapter,
		CreatedAt:  now,
		state:      StateCreating,
		lastUsedAt: now,
		history:    make([]string, 0, actionHistoryCap),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// UseCount returns how many leases this session has served.
func (s *Session) UseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useCount
}

// Age returns time elapsed since creation.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// RecordAction appends to the bounded action history, overwriting the
// oldest entry once the ring is full.
func (s *Session) RecordAction(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < actionHistoryCap {
		s.history = append(s.history, action)
		return
	}
	s.history[s.historyHead] = action
	s.historyHead = (s.historyHead + 1) % actionHistoryCap
}

// History returns a snapshot of the recorded actions, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < actionHistoryCap {
		out := make([]string, len(s.history))
		copy(out, s.history)
		return out
	}
	out := make([]string, actionHistoryCap)
	copy(out, s.history[s.historyHead:])
	copy(out[actionHistoryCap-s.historyHead:], s.history[:s.historyHead])
	return out
}

// SetPageHint records an optional page-type hint (e.g. "search_results").
func (s *Session) SetPageHint(hint string) {
	s.mu.Lock()
	s.pageHint = hint
	s.mu.Unlock()
}

// PageHint returns the last recorded page-type hint.
func (s *Session) PageHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageHint
}
