package executor

import (
	"context"
	"testing"
	"time"

	"github.com/wayfarer-labs/pilot/internal/cache"
	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/perception"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/resolver"
	"github.com/wayfarer-labs/pilot/internal/sitepatterns"
)

// fakeAdapter is a minimal driver.Adapter for exercising the step loop
// without a real browser backend.
type fakeAdapter struct {
	navigateErr   error
	findErr       error
	clickErr      error
	typeErr       error
	screenshotErr error
	evaluateFn    func(ctx context.Context, script string, args ...any) (any, error)
}

func (f *fakeAdapter) Navigate(ctx context.Context, url string, policy driver.WaitPolicy) (driver.NavigateResult, error) {
	if f.navigateErr != nil {
		return driver.NavigateResult{}, f.navigateErr
	}
	return driver.NavigateResult{FinalURL: url, Status: driver.StatusOK}, nil
}

func (f *fakeAdapter) CurrentURL(ctx context.Context) (string, error) { return "https://example.com", nil }
func (f *fakeAdapter) Title(ctx context.Context) (string, error)      { return "title", nil }
func (f *fakeAdapter) PageStatus(ctx context.Context) (driver.StatusCategory, error) {
	return driver.StatusOK, nil
}

func (f *fakeAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if f.evaluateFn != nil {
		return f.evaluateFn(ctx, script, args...)
	}
	return map[string]any{"key_elements": []any{}, "page_status": "complete"}, nil
}

func (f *fakeAdapter) Find(ctx context.Context, selectorCandidates []string, timeout time.Duration) (*driver.Element, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return &driver.Element{BackendID: "1", Selector: selectorCandidates[0]}, nil
}

func (f *fakeAdapter) Click(ctx context.Context, el *driver.Element, button driver.MouseButton, modifiers ...driver.Modifier) error {
	return f.clickErr
}
func (f *fakeAdapter) Type(ctx context.Context, el *driver.Element, text string, opts driver.TypeOptions) error {
	return f.typeErr
}
func (f *fakeAdapter) Select(ctx context.Context, el *driver.Element, values []string) error { return nil }
func (f *fakeAdapter) Scroll(ctx context.Context, el *driver.Element) error                  { return nil }

func (f *fakeAdapter) Screenshot(ctx context.Context, scope driver.ScreenshotScope) ([]byte, error) {
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return []byte("png-bytes"), nil
}

func (f *fakeAdapter) IsAlive(ctx context.Context) bool { return true }
func (f *fakeAdapter) Close(ctx context.Context) error  { return nil }

func testExecutor() *Executor {
	res := resolver.New(config.DefaultResolverConfig(), sitepatterns.New(nil))
	eng := perception.New(config.DefaultPerceptionConfig(), cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 64}))
	return New(res, eng)
}

func TestExecuteNavigatePlanSucceeds(t *testing.T) {
	x := testExecutor()
	p := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	plan := p.Plan(classifier.Result{
		TaskType: classifier.Navigate,
		Entities: []classifier.Entity{{Kind: classifier.EntityDomain, Value: "example.com"}},
	})

	result, err := x.Execute(context.Background(), &fakeAdapter{}, "sess-1", plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outcome != Success {
		t.Fatalf("expected Success, got %v (steps=%+v)", result.Outcome, result.Steps)
	}
	if result.SuccessCount != len(plan.Steps) {
		t.Fatalf("expected all %d steps to succeed, got %d", len(plan.Steps), result.SuccessCount)
	}
}

func TestExecuteFirstStepFailureIsAlwaysFailure(t *testing.T) {
	x := testExecutor()
	p := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	plan := p.Plan(classifier.Result{
		TaskType: classifier.Navigate,
		Entities: []classifier.Entity{{Kind: classifier.EntityDomain, Value: "example.com"}},
	})

	adapter := &fakeAdapter{navigateErr: &driver.Error{Kind: driver.KindProtocolClosed, Op: "navigate"}}
	result, err := x.Execute(context.Background(), adapter, "sess-1", plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outcome != Failure {
		t.Fatalf("expected Failure when the first step fails, got %v", result.Outcome)
	}
}

func TestExecuteOptionalStepFailureYieldsPartial(t *testing.T) {
	x := testExecutor()
	p := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	plan := p.Plan(classifier.Result{TaskType: classifier.Testing})

	adapter := &fakeAdapter{navigateErr: &driver.Error{Kind: driver.KindTimeout, Op: "navigate"}}
	result, err := x.Execute(context.Background(), adapter, "sess-1", plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outcome == Failure {
		t.Fatalf("expected optional-step failures not to force Failure, got %v (steps=%+v)", result.Outcome, result.Steps)
	}
}

func TestExecuteEmitsStepEventsWithoutBlockingOnAbsentConsumer(t *testing.T) {
	x := testExecutor()
	p := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	plan := p.Plan(classifier.Result{TaskType: classifier.Unknown})

	done := make(chan struct{})
	go func() {
		_, _ = x.Execute(context.Background(), &fakeAdapter{}, "sess-1", plan, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() blocked with no event consumer")
	}
}

func TestExecuteUnknownPlanProducesDiagnosticReport(t *testing.T) {
	x := testExecutor()
	p := planner.New(config.DefaultPerceptionConfig(), config.DefaultPlannerConfig())
	plan := p.Plan(classifier.Result{TaskType: classifier.Unknown})

	result, err := x.Execute(context.Background(), &fakeAdapter{}, "sess-1", plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outcome != Success {
		t.Fatalf("expected the diagnostic Report step to succeed, got %v", result.Outcome)
	}
}
