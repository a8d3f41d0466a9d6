package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/wayfarer-labs/pilot/internal/cache"
	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/executor"
	"github.com/wayfarer-labs/pilot/internal/observability"
	"github.com/wayfarer-labs/pilot/internal/perception"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/resolver"
	"github.com/wayfarer-labs/pilot/internal/session"
	"github.com/wayfarer-labs/pilot/internal/sitepatterns"
	"github.com/wayfarer-labs/pilot/internal/workflow"
)

// stubAdapter is the minimal driver.Adapter the pool's Factory hands out in
// tests; every call succeeds immediately.
type stubAdapter struct {
	navigateErr error
}

func (s *stubAdapter) Navigate(ctx context.Context, url string, policy driver.WaitPolicy) (driver.NavigateResult, error) {
	if s.navigateErr != nil {
		return driver.NavigateResult{}, s.navigateErr
	}
	return driver.NavigateResult{FinalURL: url, Status: driver.StatusOK}, nil
}
func (s *stubAdapter) CurrentURL(ctx context.Context) (string, error) { return "https://example.com", nil }
func (s *stubAdapter) Title(ctx context.Context) (string, error)      { return "title", nil }
func (s *stubAdapter) PageStatus(ctx context.Context) (driver.StatusCategory, error) {
	return driver.StatusOK, nil
}
func (s *stubAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return map[string]any{"key_elements": []any{}, "page_status": "complete"}, nil
}
func (s *stubAdapter) Find(ctx context.Context, selectorCandidates []string, timeout time.Duration) (*driver.Element, error) {
	return &driver.Element{BackendID: "1", Selector: selectorCandidates[0]}, nil
}
func (s *stubAdapter) Click(ctx context.Context, el *driver.Element, button driver.MouseButton, modifiers ...driver.Modifier) error {
	return nil
}
func (s *stubAdapter) Type(ctx context.Context, el *driver.Element, text string, opts driver.TypeOptions) error {
	return nil
}
func (s *stubAdapter) Select(ctx context.Context, el *driver.Element, values []string) error { return nil }
func (s *stubAdapter) Scroll(ctx context.Context, el *driver.Element) error                  { return nil }
func (s *stubAdapter) Screenshot(ctx context.Context, scope driver.ScreenshotScope) ([]byte, error) {
	return []byte("png-bytes"), nil
}
func (s *stubAdapter) IsAlive(ctx context.Context) bool { return true }
func (s *stubAdapter) Close(ctx context.Context) error  { return nil }

func testLogger() *observability.Logger {
	return observability.MustNewLogger(observability.LogConfig{Level: "error", Format: "text", Output: io.Discard})
}

func testOrchestrator(t *testing.T, factory session.Factory) *Orchestrator {
	t.Helper()
	pool := session.New(config.DefaultPoolConfig(), factory)
	t.Cleanup(pool.Drain)

	res := resolver.New(config.DefaultResolverConfig(), sitepatterns.New(nil))
	eng := perception.New(config.DefaultPerceptionConfig(), cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 64}))
	ex := executor.New(res, eng)
	pl := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	cls := classifier.NewRuleBased(classifier.NewSiteWhitelist())

	return New(cls, pl, pool, ex, testLogger(), config.DefaultOrchestratorConfig())
}

func TestExecuteNavigateCommandSucceeds(t *testing.T) {
	orc := testOrchestrator(t, func(ctx context.Context) (driver.Adapter, error) {
		return &stubAdapter{}, nil
	})

	result, err := orc.Execute(context.Background(), "go to example.com", Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.TaskType != classifier.Navigate {
		t.Fatalf("expected Navigate task type, got %v", result.TaskType)
	}
	if result.Outcome != executor.Success {
		t.Fatalf("expected Success outcome, got %v (exec=%+v)", result.Outcome, result.Exec)
	}
}

func TestExecuteUnknownInputStillProducesDiagnosticPlan(t *testing.T) {
	orc := testOrchestrator(t, func(ctx context.Context) (driver.Adapter, error) {
		return &stubAdapter{}, nil
	})

	result, err := orc.Execute(context.Background(), "???", Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.TaskType != classifier.Unknown {
		t.Fatalf("expected Unknown task type, got %v", result.TaskType)
	}
	if len(result.Plan.Steps) == 0 {
		t.Fatal("expected a non-empty diagnostic plan for Unknown input")
	}
}

func TestExecutePlanBypassesClassifierAndPlanner(t *testing.T) {
	orc := testOrchestrator(t, func(ctx context.Context) (driver.Adapter, error) {
		return &stubAdapter{}, nil
	})

	plan, err := workflow.Parse([]byte(`
steps:
  - id: nav
    kind: navigate
    parameters:
      url: https://example.com
    timeout: 10s
`), ".yaml")
	if err != nil {
		t.Fatalf("workflow.Parse() error = %v", err)
	}

	result, err := orc.ExecutePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if result.Outcome != executor.Success {
		t.Fatalf("expected Success outcome, got %v (exec=%+v)", result.Outcome, result.Exec)
	}
}

func TestExecutePropagatesPoolExhaustion(t *testing.T) {
	poolCfg := config.DefaultPoolConfig()
	poolCfg.MaxSessions = 1

	factory := func(ctx context.Context) (driver.Adapter, error) {
		return &stubAdapter{}, nil
	}
	pool := session.New(poolCfg, factory)
	t.Cleanup(pool.Drain)

	res := resolver.New(config.DefaultResolverConfig(), sitepatterns.New(nil))
	eng := perception.New(config.DefaultPerceptionConfig(), cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 64}))
	ex := executor.New(res, eng)
	pl := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	cls := classifier.NewRuleBased(classifier.NewSiteWhitelist())
	orc := New(cls, pl, pool, ex, testLogger(), config.DefaultOrchestratorConfig())

	held, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	_, err = orc.Execute(context.Background(), "go to example.com", Options{SessionTimeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected pool exhaustion to surface as an error")
	}
}
