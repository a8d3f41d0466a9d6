package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wayfarer-labs/pilot/internal/backoff"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
)

// Factory creates a new driver.Adapter backing a fresh session. Pool calls
// it under a creation semaphore of concurrency 1.
type Factory func(ctx context.Context) (driver.Adapter, error)

// Handle is a scoped lease on a Session. Release must be called on every
// exit path; Handle does not do this automatically, the same way the
// teacher's pool requires an explicit Release after Acquire.
type Handle struct {
	Session *Session
	pool    *Pool
	failed  bool
}

// MarkFailed flags the leased session as fatally broken. Release will then
// kill the session instead of returning it to the idle queue.
func (h *Handle) MarkFailed() { h.failed = true }

// Release returns the session to the pool, or kills it per §4.2's release
// algorithm if it failed, exceeded max uses, or exceeded max lifetime.
func (h *Handle) Release() {
	h.pool.release(h.Session, h.failed)
}

// ErrPoolExhausted is returned by Acquire when the deadline fires before a
// session becomes available.
var ErrPoolExhausted = fmt.Errorf("session: pool exhausted")

// ErrPoolClosed is returned by Acquire once Drain has been called.
var ErrPoolClosed = fmt.Errorf("session: pool closed")

// Pool owns a bounded set of driver instances. §4.2 invariants:
// |idle| + |busy| + |creating| = total <= max_sessions at all times; no
// session is simultaneously in two states; acquire never returns a session
// that failed is_alive() within the current call.
type Pool struct {
	cfg     config.PoolConfig
	factory Factory

	mu       sync.Mutex
	idle     []*Session
	total    int
	draining bool

	createSem chan struct{}

	notifyMu sync.Mutex
	notifyCh chan struct{}

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New builds a Pool that creates sessions through factory. It starts the
// background reaper immediately.
func New(cfg config.PoolConfig, factory Factory) *Pool {
	p := &Pool{
		cfg:        cfg,
		factory:    factory,
		createSem:  make(chan struct{}, 1),
		notifyCh:   make(chan struct{}),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// notifyWaiters wakes every goroutine blocked on waitForNotify.
func (p *Pool) notifyWaiters() {
	p.notifyMu.Lock()
	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
	p.notifyMu.Unlock()
}

func (p *Pool) waitChannel() chan struct{} {
	p.notifyMu.Lock()
	ch := p.notifyCh
	p.notifyMu.Unlock()
	return ch
}

// Acquire implements the §4.2 acquisition algorithm. It pops idle sessions
// one at a time under the pool's coarse lock, probes liveness, creates a
// fresh session when under capacity, or waits for a release/deadline.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		for len(p.idle) > 0 {
			candidate := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()

			aliveCtx, cancel := context.WithTimeout(ctx, p.cfg.IsAliveTimeout)
			alive := candidate.Adapter.IsAlive(aliveCtx)
			cancel()
			if alive {
				candidate.setState(StateBusy)
				return &Handle{Session: candidate, pool: p}, nil
			}
			candidate.setState(StateDead)
			_ = candidate.Adapter.Close(context.Background())
			p.mu.Lock()
			p.total--
		}

		if p.total < p.cfg.MaxSessions {
			p.total++
			p.mu.Unlock()

			handle, err := p.createLeased(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				p.notifyWaiters()
				return nil, err
			}
			return handle, nil
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPoolExhausted
		}

		waitCh := p.waitChannel()
		timer := time.NewTimer(remaining)
		select {
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// createLeased creates a new session under the pool's creation semaphore
// with bounded concurrency 1, retrying transient errors with exponential
// backoff. The new session is leased directly, never queued, the same way
// a just-created instance skips the idle channel in the teacher's pool.
func (p *Pool) createLeased(ctx context.Context) (*Handle, error) {
	select {
	case p.createSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.createSem }()

	policy := backoff.BackoffPolicy{
		InitialMs: float64(p.cfg.CreationBackoffBase.Milliseconds()),
		MaxMs:     float64(p.cfg.CreationBackoffCap.Milliseconds()),
		Factor:    2,
		Jitter:    0.2,
	}

	var lastErr error
	attempts := p.cfg.CreationAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		adapter, err := p.factory(ctx)
		if err == nil {
			sess := newSession(adapter)
			sess.setState(StateBusy)
			return &Handle{Session: sess, pool: p}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			select {
			case <-time.After(backoff.ComputeBackoff(policy, attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("session: create session after %d attempts: %w", attempts, lastErr)
}

// release implements the §4.2 release algorithm: fatal errors or exceeded
// use/lifetime kill the session; otherwise it resets per-use state and
// rejoins the idle queue.
func (p *Pool) release(sess *Session, failed bool) {
	if sess == nil {
		return
	}

	sess.mu.Lock()
	sess.useCount++
	sess.lastUsedAt = time.Now()
	useCount := sess.useCount
	sess.mu.Unlock()

	expired := useCount >= p.cfg.MaxUsesPerSession || sess.Age() >= p.cfg.MaxSessionLifetime

	if failed || expired {
		sess.setState(StateDead)
		_ = sess.Adapter.Close(context.Background())
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.notifyWaiters()
		return
	}

	sess.setState(StateReady)
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		sess.setState(StateDead)
		_ = sess.Adapter.Close(context.Background())
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.notifyWaiters()
		return
	}
	p.idle = append(p.idle, sess)
	p.mu.Unlock()
	p.notifyWaiters()
}

// reapLoop periodically probes idle sessions and drops dead ones. This is
// additive to the on-acquire liveness check, not a substitute for it.
func (p *Pool) reapLoop() {
	defer close(p.reaperDone)
	interval := p.cfg.ReaperInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapOnce()
		case <-p.reaperStop:
			return
		}
	}
}

func (p *Pool) reapOnce() {
	p.mu.Lock()
	candidates := p.idle
	p.idle = nil
	p.mu.Unlock()

	var survivors []*Session
	for _, sess := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.IsAliveTimeout)
		alive := sess.Adapter.IsAlive(ctx)
		cancel()
		if alive {
			survivors = append(survivors, sess)
			continue
		}
		sess.setState(StateDead)
		_ = sess.Adapter.Close(context.Background())
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.idle = append(survivors, p.idle...)
	p.mu.Unlock()

	if len(candidates) != len(survivors) {
		p.notifyWaiters()
	}
}

// Drain stops new acquisitions and reaps sessions as they are released.
// In-flight leases complete normally; once released under a draining pool
// their sessions are killed instead of requeued.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, sess := range idle {
		sess.setState(StateDead)
		_ = sess.Adapter.Close(context.Background())
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
	}
	close(p.reaperStop)
	<-p.reaperDone
	p.notifyWaiters()
}

// Stats reports the pool's current occupancy for diagnostics.
type Stats struct {
	Total int
	Idle  int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Idle: len(p.idle)}
}
