package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/perception"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/resolver"
)

// dispatch executes one step's capability call and returns any artifacts it
// produced. actx is mutated in place to thread state (current URL, last
// snapshot, resolved elements, extracted variables) to later steps.
func (x *Executor) dispatch(ctx context.Context, adapter driver.Adapter, sessionID string, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	switch step.Kind {
	case planner.KindNavigate:
		return x.dispatchNavigate(ctx, adapter, step, actx)
	case planner.KindWait:
		return x.dispatchWait(ctx, adapter, step)
	case planner.KindPerceive:
		return x.dispatchPerceive(ctx, adapter, sessionID, step, actx)
	case planner.KindResolve:
		return x.dispatchResolve(ctx, adapter, step, actx)
	case planner.KindClick:
		return x.dispatchClick(ctx, adapter, step, actx)
	case planner.KindType:
		return x.dispatchType(ctx, adapter, step, actx)
	case planner.KindSelect:
		return x.dispatchSelect(ctx, adapter, step, actx)
	case planner.KindScroll:
		return x.dispatchScroll(ctx, adapter, step, actx)
	case planner.KindScreenshot:
		return x.dispatchScreenshot(ctx, adapter, step, actx)
	case planner.KindExtract:
		return x.dispatchExtract(step, actx)
	case planner.KindReport:
		return x.dispatchReport(step, actx)
	default:
		return nil, fmt.Errorf("executor: unknown step kind %v", step.Kind)
	}
}

func stringParam(step planner.ActionStep, key string) string {
	v, _ := step.Parameters[key].(string)
	return v
}

func (x *Executor) dispatchNavigate(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	url := stringParam(step, "url")
	if url == "" {
		url = actx.CurrentURL
	}
	result, err := adapter.Navigate(ctx, url, driver.WaitLoad)
	if err != nil {
		return nil, err
	}
	actx.CurrentURL = result.FinalURL
	return []Artifact{{StepID: step.ID, Kind: "url", Value: result.FinalURL}}, nil
}

func (x *Executor) dispatchWait(ctx context.Context, adapter driver.Adapter, step planner.ActionStep) ([]Artifact, error) {
	fallback, _ := step.Parameters["fallback"].(time.Duration)
	if fallback <= 0 {
		fallback = time.Second
	}
	condition := stringParam(step, "condition")
	if condition == "network_idle" {
		deadline := time.Now().Add(fallback)
		for time.Now().Before(deadline) {
			if status, err := adapter.PageStatus(ctx); err == nil && status != driver.StatusUnknown {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(fallback):
	}
	return nil, nil
}

func (x *Executor) dispatchPerceive(ctx context.Context, adapter driver.Adapter, sessionID string, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	mode, _ := step.Parameters["mode"].(perception.Mode)
	domRevisionHint := ""
	if actx.LastSnapshot != nil {
		domRevisionHint = actx.LastSnapshot.SourceURL
	}
	snap, err := x.perception.Perceive(ctx, adapter, sessionID, actx.CurrentURL, domRevisionHint, mode)
	if err != nil {
		return nil, err
	}
	actx.LastSnapshot = snap
	return nil, nil
}

func candidatesFromSnapshot(snap *perception.Snapshot) []resolver.Candidate {
	if snap == nil {
		return nil
	}
	elements := snap.KeyElements
	if len(snap.FullElementTree) > 0 {
		elements = snap.FullElementTree
	}
	candidates := make([]resolver.Candidate, 0, len(elements))
	for i, el := range elements {
		ref := el.Ref
		candidates = append(candidates, resolver.Candidate{
			Element:    &ref,
			Role:       el.Role,
			Label:      el.Label,
			InViewport: el.Visible,
			Enabled:    el.Enabled,
			DocOrder:   i,
			BoundingBox: resolver.BoundingBox{
				X: el.Box.X, Y: el.Box.Y, Width: el.Box.Width, Height: el.Box.Height,
			},
		})
	}
	return candidates
}

func (x *Executor) dispatchResolve(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	req := resolver.Request{
		Concept:            stringParam(step, "concept"),
		TargetDescription:  stringParam(step, "target_description"),
		SelectorCandidates: nil,
	}
	if req.Concept == "" && req.TargetDescription == "" {
		req.TargetDescription = stringParam(step, "target")
	}

	candidates := candidatesFromSnapshot(actx.LastSnapshot)
	el, ref, err := x.resolver.Resolve(ctx, adapter, req, candidates)
	if err != nil {
		return nil, err
	}
	actx.Elements[step.ID] = el
	actx.ElementRefs[step.ID] = ref
	return nil, nil
}

// targetElement resolves a step's "target" parameter to a previously
// resolved element. The target names the id of the Resolve step that
// produced it.
func targetElement(step planner.ActionStep, actx *Context) (*driver.Element, error) {
	target := stringParam(step, "target")
	el, ok := actx.Elements[target]
	if !ok {
		return nil, fmt.Errorf("executor: step %s references unresolved target %q", step.ID, target)
	}
	return el, nil
}

func (x *Executor) dispatchClick(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	el, err := targetElement(step, actx)
	if err != nil {
		return nil, err
	}
	return nil, adapter.Click(ctx, el, driver.ButtonLeft)
}

func (x *Executor) dispatchType(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	el, err := targetElement(step, actx)
	if err != nil {
		return nil, err
	}
	text := stringParam(step, "text")
	return nil, adapter.Type(ctx, el, text, driver.TypeOptions{ClearFirst: true})
}

func (x *Executor) dispatchSelect(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	el, err := targetElement(step, actx)
	if err != nil {
		return nil, err
	}
	value := stringParam(step, "value")
	return nil, adapter.Select(ctx, el, []string{value})
}

func (x *Executor) dispatchScroll(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	el, err := targetElement(step, actx)
	if err != nil {
		return nil, err
	}
	return nil, adapter.Scroll(ctx, el)
}

func (x *Executor) dispatchScreenshot(ctx context.Context, adapter driver.Adapter, step planner.ActionStep, actx *Context) ([]Artifact, error) {
	scope := driver.ScreenshotScope{FullPage: true}
	if target := stringParam(step, "target"); target != "" {
		if el, ok := actx.Elements[target]; ok {
			scope = driver.ScreenshotScope{Element: el}
		}
	}
	data, err := adapter.Screenshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("step_%s_%d.png", step.ID, time.Now().UnixNano())
	return []Artifact{{StepID: step.ID, Kind: "screenshot", Name: name, Data: data}}, nil
}

func (x *Executor) dispatchExtract(step planner.ActionStep, actx *Context) ([]Artifact, error) {
	schemaName := stringParam(step, "schema")
	record := extractFromSnapshot(actx.LastSnapshot)

	if err := x.schemas.Validate(schemaName, record); err != nil {
		return nil, err
	}

	actx.Variables[step.ID] = record
	return []Artifact{{StepID: step.ID, Kind: "extract", Name: schemaName, Value: record}}, nil
}

// extractFromSnapshot builds the record an Extract step appends to Context,
// derived from whatever the last Perceive call captured.
func extractFromSnapshot(snap *perception.Snapshot) map[string]any {
	if snap == nil {
		return map[string]any{}
	}
	record := map[string]any{
		"source_url": snap.SourceURL,
	}
	if snap.PrincipalContent != "" {
		record["principal_content"] = snap.PrincipalContent
	}
	if snap.SemanticClass != "" {
		record["semantic_class"] = snap.SemanticClass
	}
	if len(snap.EntityHints) > 0 {
		record["entity_hints"] = snap.EntityHints
	}
	items := make([]map[string]any, 0, len(snap.KeyElements))
	for _, el := range snap.KeyElements {
		items = append(items, map[string]any{
			"label": el.Label,
			"role":  el.Role,
		})
	}
	record["items"] = items
	return record
}

func (x *Executor) dispatchReport(step planner.ActionStep, actx *Context) ([]Artifact, error) {
	template := stringParam(step, "template")
	summary := fmt.Sprintf("%s: %d variables captured", template, len(actx.Variables))
	return []Artifact{{StepID: step.ID, Kind: "report", Name: template, Value: summary}}, nil
}
