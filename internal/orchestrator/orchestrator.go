// Package orchestrator implements the single public entry point (C8): it
// classifies raw_text, plans it, acquires a session, executes the plan, and
// aggregates the outcome, owning per-request cancellation and the overall
// deadline per spec.md §4.8.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/executor"
	"github.com/wayfarer-labs/pilot/internal/observability"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/session"
)

// Options carries per-request overrides of the §4.8 defaults. A zero value
// for either field falls back to the configured default.
type Options struct {
	SessionTimeout time.Duration
	Deadline       time.Duration
	Prior          *classifier.Context
}

// Result is the Orchestrator's full output for one execute() call.
type Result struct {
	TaskType classifier.TaskType
	Outcome  executor.PlanOutcome
	Plan     *planner.ActionPlan
	Exec     *executor.PlanResult
}

// Orchestrator wires together the Classifier (C5), Planner (C6), Session
// Pool (C2), and Executor (C7) behind a single execute() entry point.
type Orchestrator struct {
	classifier classifier.Classifier
	planner    *planner.Planner
	pool       *session.Pool
	executor   *executor.Executor
	logger     *observability.Logger
	cfg        config.OrchestratorConfig
}

// New builds an Orchestrator from its already-constructed collaborators.
// The caller owns the Pool's lifetime (it is shared across Orchestrator
// invocations, per spec.md §4's "the pool is the only process-wide mutable
// subsystem").
func New(cls classifier.Classifier, p *planner.Planner, pool *session.Pool, ex *executor.Executor, logger *observability.Logger, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{classifier: cls, planner: p, pool: pool, executor: ex, logger: logger, cfg: cfg}
}

// Execute runs the full classify -> plan -> acquire -> execute -> release
// pipeline for one command, described by spec.md §4.8's five steps.
func (o *Orchestrator) Execute(ctx context.Context, rawText string, opts Options) (*Result, error) {
	sessionTimeout := opts.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = o.cfg.SessionTimeout
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = o.cfg.Deadline
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	classified, err := o.classifier.Classify(runCtx, rawText, opts.Prior)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: classify: %w", err)
	}
	o.logger.Info(runCtx, "classified command", "task_type", classified.TaskType.String(), "confidence", classified.Confidence)

	plan := o.planner.Plan(classified)
	return o.runAcquiredPlan(ctx, runCtx, sessionTimeout, classified.TaskType, plan)
}

// ExecutePlan runs an already-built ActionPlan (typically produced by the
// Workflow Input Adapter, §6) directly against an acquired session,
// bypassing the Classifier and Planner entirely.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan *planner.ActionPlan) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()
	return o.runAcquiredPlan(ctx, runCtx, o.cfg.SessionTimeout, plan.TaskType, plan)
}

// runAcquiredPlan acquires a session under sessionTimeout, executes plan on
// it, and aggregates the Result. ctx is the caller's original context (used
// for the post-failure liveness check, which must survive runCtx's
// deadline firing); runCtx is the deadline-bounded context passed to every
// suspension point per §4.8.
func (o *Orchestrator) runAcquiredPlan(ctx, runCtx context.Context, sessionTimeout time.Duration, taskType classifier.TaskType, plan *planner.ActionPlan) (*Result, error) {
	handle, err := o.pool.Acquire(runCtx, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire session: %w", err)
	}
	defer handle.Release()

	execResult, err := o.runPlan(runCtx, handle, plan)
	if err != nil {
		handle.MarkFailed()
		return nil, fmt.Errorf("orchestrator: execute: %w", err)
	}

	if execResult.Outcome == executor.Failure && !handle.Session.Adapter.IsAlive(ctx) {
		handle.MarkFailed()
	}

	o.logger.Info(runCtx, "plan executed", "task_type", taskType.String(), "outcome", execResult.Outcome.String(),
		"success_count", execResult.SuccessCount, "failure_count", execResult.FailureCount)

	return &Result{
		TaskType: taskType,
		Outcome:  execResult.Outcome,
		Plan:     plan,
		Exec:     execResult,
	}, nil
}

// runPlan drives the Executor and translates a deadline cancellation into a
// partial/failure outcome instead of a plain error, per §4.8's cancellation
// contract: "returns whatever is currently aggregated with PlanOutcome =
// Partial or Failure depending on progress."
func (o *Orchestrator) runPlan(ctx context.Context, handle *session.Handle, plan *planner.ActionPlan) (*executor.PlanResult, error) {
	adapter := handle.Session.Adapter
	result, err := o.executor.Execute(ctx, adapter, handle.Session.ID, plan, nil)
	if err != nil {
		if ctx.Err() != nil {
			return degradedResult(plan, ctx.Err()), nil
		}
		return nil, err
	}
	return result, nil
}

// degradedResult builds a minimal PlanResult for the case where the
// Executor's own context expired before it could return a result: the
// Orchestrator still owes the caller a PlanOutcome.
func degradedResult(plan *planner.ActionPlan, cause error) *executor.PlanResult {
	outcome := executor.Failure
	if len(plan.Steps) > 1 {
		outcome = executor.Partial
	}
	return &executor.PlanResult{
		Outcome: outcome,
		Summary: fmt.Sprintf("deadline exceeded before plan completion: %v", cause),
	}
}
