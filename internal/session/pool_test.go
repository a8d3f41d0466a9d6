package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
)

// fakeAdapter is a minimal driver.Adapter stand-in for pool tests; it never
// talks to a real browser.
type fakeAdapter struct {
	mu     sync.Mutex
	alive  bool
	closed bool
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{alive: true} }

func (f *fakeAdapter) Navigate(ctx context.Context, url string, policy driver.WaitPolicy) (driver.NavigateResult, error) {
	return driver.NavigateResult{FinalURL: url}, nil
}
func (f *fakeAdapter) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (f *fakeAdapter) Title(ctx context.Context) (string, error)     { return "", nil }
func (f *fakeAdapter) PageStatus(ctx context.Context) (driver.StatusCategory, error) {
	return driver.StatusOK, nil
}
func (f *fakeAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}
func (f *fakeAdapter) Find(ctx context.Context, candidates []string, timeout time.Duration) (*driver.Element, error) {
	return nil, nil
}
func (f *fakeAdapter) Click(ctx context.Context, el *driver.Element, button driver.MouseButton, modifiers ...driver.Modifier) error {
	return nil
}
func (f *fakeAdapter) Type(ctx context.Context, el *driver.Element, text string, opts driver.TypeOptions) error {
	return nil
}
func (f *fakeAdapter) Select(ctx context.Context, el *driver.Element, values []string) error {
	return nil
}
func (f *fakeAdapter) Scroll(ctx context.Context, el *driver.Element) error { return nil }
func (f *fakeAdapter) Screenshot(ctx context.Context, scope driver.ScreenshotScope) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) IsAlive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
func (f *fakeAdapter) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeAdapter) setAlive(v bool) {
	f.mu.Lock()
	f.alive = v
	f.mu.Unlock()
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxSessions:         2,
		MaxUsesPerSession:   3,
		MaxSessionLifetime:  time.Hour,
		ReaperInterval:      time.Hour, // disabled for these tests
		IsAliveTimeout:      50 * time.Millisecond,
		CreationAttempts:    3,
		CreationBackoffBase: 5 * time.Millisecond,
		CreationBackoffCap:  20 * time.Millisecond,
	}
}

func TestAcquireCreatesUpToMax(t *testing.T) {
	var created int32
	factory := func(ctx context.Context) (driver.Adapter, error) {
		atomic.AddInt32(&created, 1)
		return newFakeAdapter(), nil
	}
	pool := New(testPoolConfig(), factory)
	defer pool.Drain()

	h1, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h2, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 sessions created, got %d", created)
	}

	_, err = pool.Acquire(context.Background(), 50*time.Millisecond)
	if err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	h1.Release()
	h2.Release()
}

func TestReleaseRequeuesHealthySession(t *testing.T) {
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return newFakeAdapter(), nil
	}
	pool := New(testPoolConfig(), factory)
	defer pool.Drain()

	h, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	firstID := h.Session.ID
	h.Release()

	if stats := pool.Stats(); stats.Idle != 1 || stats.Total != 1 {
		t.Fatalf("expected 1 idle/1 total after release, got %+v", stats)
	}

	h2, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h2.Session.ID != firstID {
		t.Fatalf("expected reacquired session to be reused, got different id")
	}
	h2.Release()
}

func TestAcquireClosesDeadIdleCandidate(t *testing.T) {
	dead := newFakeAdapter()
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return dead, nil
	}
	pool := New(testPoolConfig(), factory)
	defer pool.Drain()

	h, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h.Release()

	dead.setAlive(false)
	if _, err := pool.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	dead.mu.Lock()
	closed := dead.closed
	dead.mu.Unlock()
	if !closed {
		t.Fatalf("expected a dead idle candidate to be Closed during Acquire")
	}
}

func TestReleaseKillsSessionAtMaxUses(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxUsesPerSession = 1
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return newFakeAdapter(), nil
	}
	pool := New(cfg, factory)
	defer pool.Drain()

	h, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	adapter := h.Session.Adapter.(*fakeAdapter)
	h.Release()

	if !adapter.closed {
		t.Fatalf("expected session exceeding max uses to be closed")
	}
	if stats := pool.Stats(); stats.Total != 0 {
		t.Fatalf("expected total=0 after killing expired session, got %+v", stats)
	}
}

func TestAcquireDropsDeadIdleSession(t *testing.T) {
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return newFakeAdapter(), nil
	}
	pool := New(testPoolConfig(), factory)
	defer pool.Drain()

	h, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	adapter := h.Session.Adapter.(*fakeAdapter)
	h.Release()
	adapter.setAlive(false)

	h2, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h2.Session.Adapter.(*fakeAdapter) == adapter {
		t.Fatalf("expected a fresh session after the idle one failed is_alive()")
	}
	h2.Release()
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return newFakeAdapter(), nil
	}
	cfg := testPoolConfig()
	cfg.MaxSessions = 1
	pool := New(cfg, factory)
	defer pool.Drain()

	h, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		h2, err := pool.Acquire(context.Background(), time.Second)
		if err == nil {
			h2.Release()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected blocked Acquire to succeed after release, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked Acquire never returned after release")
	}
}

func TestDrainRejectsNewAcquires(t *testing.T) {
	factory := func(ctx context.Context) (driver.Adapter, error) {
		return newFakeAdapter(), nil
	}
	pool := New(testPoolConfig(), factory)
	pool.Drain()

	if _, err := pool.Acquire(context.Background(), time.Second); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed after Drain, got %v", err)
	}
}
