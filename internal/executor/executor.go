// Package executor implements the Task Executor (C7): it drives an
// ActionPlan on a leased session, enforcing per-step timeouts and retry
// policy, collecting artifacts, and aggregating a PlanOutcome per the
// partial-failure policy of spec.md §4.7.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/perception"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/resolver"
	"github.com/wayfarer-labs/pilot/internal/retry"
)

// StepStatus is the outcome of one executed ActionStep.
type StepStatus int

const (
	StepSuccess StepStatus = iota
	StepFailed
	StepSkipped
	StepTimedOut
)

func (s StepStatus) String() string {
	switch s {
	case StepSuccess:
		return "success"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	case StepTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Artifact is a produced side effect of a step: a screenshot, an extracted
// record, or the URL reached after a navigation/click.
type Artifact struct {
	StepID string
	Kind   string // "screenshot" | "extract" | "url"
	Name   string
	Data   []byte
	Value  any
}

// StepResult is the per-step record in a PlanResult.
type StepResult struct {
	ID           string
	Status       StepStatus
	Duration     time.Duration
	FailureKind  driver.Kind
	Detail       string
	RecoveryPath string
	Artifacts    []Artifact
}

// PlanOutcome is the plan-level aggregate per spec.md §3/§4.7.
type PlanOutcome int

const (
	Success PlanOutcome = iota
	Partial
	Failure
)

func (o PlanOutcome) String() string {
	switch o {
	case Success:
		return "success"
	case Partial:
		return "partial"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// PlanResult is the Executor's full output for one ActionPlan run.
type PlanResult struct {
	Outcome      PlanOutcome
	SuccessCount int
	FailureCount int
	Duration     time.Duration
	Artifacts    []Artifact
	Summary      string
	Steps        []StepResult
}

// Context is carried across a single command's plan execution: current
// URL, last PerceptionSnapshot, resolved element references keyed by the
// Resolve step's id (for "click it"-style references in later steps), and
// variables accumulated from Extract steps.
type Context struct {
	CurrentURL   string
	LastSnapshot *perception.Snapshot
	Elements     map[string]*driver.Element
	ElementRefs  map[string]*resolver.ElementRef
	Variables    map[string]any
}

func newContext(seedURL string) *Context {
	return &Context{
		CurrentURL:  seedURL,
		Elements:    make(map[string]*driver.Element),
		ElementRefs: make(map[string]*resolver.ElementRef),
		Variables:   make(map[string]any),
	}
}

// EventKind distinguishes the two progress event shapes.
type EventKind int

const (
	EventStepStarted EventKind = iota
	EventStepFinished
)

// Event is one entry in the Executor's progress stream.
type Event struct {
	Kind     EventKind
	StepID   string
	Status   StepStatus
	Duration time.Duration
}

// emit sends ev to events without blocking when no consumer is listening,
// per §4.7: "the stream is single-producer; consumers may be absent."
func emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

// Executor drives ActionPlans against a leased driver.Adapter.
type Executor struct {
	resolver   *resolver.Resolver
	perception *perception.Engine
	schemas    *SchemaRegistry
}

// New builds an Executor against the Resolver (C3) and Perception Engine
// (C4) instances shared with the rest of the runtime.
func New(res *resolver.Resolver, eng *perception.Engine) *Executor {
	return &Executor{resolver: res, perception: eng, schemas: DefaultSchemaRegistry()}
}

// Execute runs plan on adapter under sessionID, emitting progress events to
// events (nil is a valid "no consumer" value).
func (x *Executor) Execute(ctx context.Context, adapter driver.Adapter, sessionID string, plan *planner.ActionPlan, events chan<- Event) (*PlanResult, error) {
	start := time.Now()
	actx := newContext("")
	statusByID := make(map[string]StepStatus, len(plan.Steps))
	var results []StepResult
	var artifacts []Artifact
	shortCircuited := false

	for _, step := range plan.Steps {
		if shortCircuited {
			statusByID[step.ID] = StepSkipped
			results = append(results, StepResult{ID: step.ID, Status: StepSkipped, Detail: "short-circuited by prior failure"})
			continue
		}

		if depFailed(step, statusByID) && !step.Optional {
			statusByID[step.ID] = StepSkipped
			results = append(results, StepResult{ID: step.ID, Status: StepSkipped, Detail: "dependency failed"})
			continue
		}

		emit(events, Event{Kind: EventStepStarted, StepID: step.ID})
		result := x.runStep(ctx, adapter, sessionID, step, actx)
		emit(events, Event{Kind: EventStepFinished, StepID: step.ID, Status: result.Status, Duration: result.Duration})

		statusByID[step.ID] = result.Status
		results = append(results, result)
		artifacts = append(artifacts, result.Artifacts...)

		if (result.Status == StepFailed || result.Status == StepTimedOut) && !step.Optional {
			shortCircuited = true
		}
	}

	outcome, successCount, failureCount := aggregate(plan, results)
	summary := buildSummary(plan, results, outcome)

	return &PlanResult{
		Outcome:      outcome,
		SuccessCount: successCount,
		FailureCount: failureCount,
		Duration:     time.Since(start),
		Artifacts:    artifacts,
		Summary:      summary,
		Steps:        results,
	}, nil
}

func depFailed(step planner.ActionStep, statusByID map[string]StepStatus) bool {
	for _, dep := range step.DependsOn {
		switch statusByID[dep] {
		case StepFailed, StepSkipped, StepTimedOut:
			return true
		}
	}
	return false
}

// aggregate implements the authoritative partial-failure policy: a plan
// with >=1 successful producing step and no first-step failure is Partial,
// not Failure; a plan whose first step fails is always Failure.
func aggregate(plan *planner.ActionPlan, results []StepResult) (PlanOutcome, int, int) {
	successCount, failureCount := 0, 0
	for _, r := range results {
		switch r.Status {
		case StepSuccess:
			successCount++
		case StepFailed, StepTimedOut:
			failureCount++
		}
	}

	firstStepFailed := len(results) > 0 && len(plan.Steps) > 0 && !plan.Steps[0].Optional &&
		(results[0].Status == StepFailed || results[0].Status == StepTimedOut)
	if firstStepFailed {
		return Failure, successCount, failureCount
	}
	if failureCount == 0 {
		return Success, successCount, failureCount
	}
	if successCount > 0 {
		return Partial, successCount, failureCount
	}
	return Failure, successCount, failureCount
}

func buildSummary(plan *planner.ActionPlan, results []StepResult, outcome PlanOutcome) string {
	completed := 0
	for _, r := range results {
		if r.Status == StepSuccess {
			completed++
		}
	}
	return fmt.Sprintf("%s task %s: %d/%d steps completed", plan.TaskType, outcome, completed, len(results))
}

// runStep dispatches one step to its driver/resolver/perception call,
// wrapped in the step's retry policy.
func (x *Executor) runStep(ctx context.Context, adapter driver.Adapter, sessionID string, step planner.ActionStep, actx *Context) StepResult {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	var artifacts []Artifact
	retryCfg := retryConfig(step.RetryPolicy)

	_, rr := retry.DoWithValue(stepCtx, retryCfg, func() ([]Artifact, error) {
		produced, err := x.dispatch(stepCtx, adapter, sessionID, step, actx)
		if err != nil {
			if !retryable(err, step.RetryPolicy) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		artifacts = produced
		return produced, nil
	})

	duration := time.Since(start)
	if rr.Err == nil {
		return StepResult{ID: step.ID, Status: StepSuccess, Duration: duration, Artifacts: artifacts}
	}

	if stepCtx.Err() == context.DeadlineExceeded {
		return StepResult{ID: step.ID, Status: StepTimedOut, Duration: duration, Detail: rr.Err.Error()}
	}

	kind, detail := classifyFailure(rr.Err)
	return StepResult{ID: step.ID, Status: StepFailed, Duration: duration, FailureKind: kind, Detail: detail}
}

func retryConfig(policy planner.RetryPolicy) retry.Config {
	return retry.Config{
		MaxAttempts:  policy.MaxRetries + 1,
		InitialDelay: policy.InitialBackoff,
		MaxDelay:     policy.MaxBackoff,
		Factor:       2.0,
		Jitter:       true,
	}
}

func retryable(err error, policy planner.RetryPolicy) bool {
	de, ok := err.(*driver.Error)
	if !ok {
		return true
	}
	for _, k := range policy.RetryableKinds {
		if de.Kind == k {
			return true
		}
	}
	return false
}

func classifyFailure(err error) (driver.Kind, string) {
	var de *driver.Error
	if errors.As(err, &de) {
		return de.Kind, de.Error()
	}
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		return driver.KindNotFound, nf.Error()
	}
	return driver.KindScriptError, err.Error()
}
