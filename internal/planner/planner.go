// Package planner implements the Task Planner (C6): given a classified
// TaskType, its entities, and prior Context, it emits an ordered
// ActionPlan per the authoritative templates of spec.md §4.6.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/perception"
)

// StepKind is the closed set of action-step kinds an ActionStep may carry.
type StepKind int

const (
	KindNavigate StepKind = iota
	KindWait
	KindPerceive
	KindResolve
	KindClick
	KindType
	KindSelect
	KindScroll
	KindScreenshot
	KindExtract
	KindReport
)

func (k StepKind) String() string {
	switch k {
	case KindNavigate:
		return "Navigate"
	case KindWait:
		return "Wait"
	case KindPerceive:
		return "Perceive"
	case KindResolve:
		return "Resolve"
	case KindClick:
		return "Click"
	case KindType:
		return "Type"
	case KindSelect:
		return "Select"
	case KindScroll:
		return "Scroll"
	case KindScreenshot:
		return "Screenshot"
	case KindExtract:
		return "Extract"
	case KindReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// ParseStepKind maps a workflow document's "kind" string to a StepKind.
// Unrecognized names return ok=false so callers can reject the document
// rather than silently treating an unknown kind as one of the above.
func ParseStepKind(s string) (StepKind, bool) {
	switch strings.ToLower(s) {
	case "navigate":
		return KindNavigate, true
	case "wait":
		return KindWait, true
	case "perceive":
		return KindPerceive, true
	case "resolve":
		return KindResolve, true
	case "click":
		return KindClick, true
	case "type":
		return KindType, true
	case "select":
		return KindSelect, true
	case "scroll":
		return KindScroll, true
	case "screenshot":
		return KindScreenshot, true
	case "extract":
		return KindExtract, true
	case "report":
		return KindReport, true
	default:
		return 0, false
	}
}

// RetryPolicy governs whether and how the Executor retries a failed step.
// RetryableKinds holds the driver.Kind values worth retrying; spec.md §4.6
// default is {Timeout, Stale, NotFound}, never ProtocolClosed.
type RetryPolicy struct {
	MaxRetries     int
	RetryableKinds []driver.Kind
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is the §4.6 default: 2 retries on {Timeout, Stale,
// NotFound}, 500ms initial / 1s max backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		RetryableKinds: []driver.Kind{driver.KindTimeout, driver.KindStale, driver.KindNotFound},
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// NoRetryPolicy is used for steps whose only meaningful failure is
// permanent (e.g. a Report step).
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// retryPolicy builds the configured default retry policy for a retryable
// step kind, from this Planner's config.PlannerConfig.
func (p *Planner) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     p.planner.DefaultRetries,
		RetryableKinds: []driver.Kind{driver.KindTimeout, driver.KindStale, driver.KindNotFound},
		InitialBackoff: p.planner.RetryBackoffBase,
		MaxBackoff:     p.planner.RetryBackoffCap,
	}
}

// ActionStep is one node in an ActionPlan's DAG.
type ActionStep struct {
	ID          string
	Kind        StepKind
	Parameters  map[string]any
	DependsOn   []string
	Optional    bool
	RetryPolicy RetryPolicy
	Timeout     time.Duration
}

// ActionPlan is the ordered, finite DAG of steps the Executor runs.
type ActionPlan struct {
	TaskType classifier.TaskType
	Steps    []ActionStep
}

// perceiveBudgetMargin is added to a mode's latency budget to derive its
// step timeout, giving the Perceive step room for dispatch overhead beyond
// the Engine's own internal deadline.
const perceiveBudgetMargin = 100 * time.Millisecond

// defaultSearchHost is used for Search tasks with no explicit host entity
// (spec.md §4.6: "Navigate(host or default_search)").
const defaultSearchHost = "https://www.google.com/search"

func perceiveTimeout(mode perception.Mode, cfg config.PerceptionConfig) time.Duration {
	switch mode {
	case perception.Lightning:
		return cfg.LightningBudget + perceiveBudgetMargin
	case perception.Quick:
		return cfg.QuickBudget + perceiveBudgetMargin
	case perception.Standard:
		return cfg.StandardBudget + perceiveBudgetMargin
	default:
		return cfg.DeepBudget + perceiveBudgetMargin
	}
}

// Planner builds an ActionPlan from a classifier.Result and prior Context.
type Planner struct {
	perception    config.PerceptionConfig
	planner       config.PlannerConfig
	defaultSearch string
}

// New builds a Planner against the C4 perception budgets and the C6 default
// timeout/retry configuration (spec.md §4.6, §6).
func New(perceptionCfg config.PerceptionConfig, plannerCfg config.PlannerConfig) *Planner {
	return &Planner{
		perception:    perceptionCfg,
		planner:       plannerCfg,
		defaultSearch: defaultSearchHost,
	}
}

// Plan builds the ActionPlan for result, dispatching to the matching
// template per spec.md §4.6.
func (p *Planner) Plan(result classifier.Result) *ActionPlan {
	switch result.TaskType {
	case classifier.Navigate:
		return p.planNavigate(result)
	case classifier.Screenshot:
		return p.planScreenshot(result)
	case classifier.Search:
		return p.planSearch(result)
	case classifier.Planning:
		return p.planPlanning(result)
	case classifier.Analysis:
		return p.planAnalysis(result)
	case classifier.Extraction:
		return p.planExtraction(result)
	case classifier.Testing:
		return p.planTesting(result)
	default:
		return p.planUnknown(result)
	}
}

func domainEntity(entities []classifier.Entity) string {
	for _, e := range entities {
		if e.Kind == classifier.EntityDomain {
			return e.Value
		}
	}
	return ""
}

func queryEntity(entities []classifier.Entity) string {
	for _, e := range entities {
		if e.Kind == classifier.EntityQuery {
			return e.Value
		}
	}
	return ""
}

func toURL(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain
}

func stepID(prefix string, i int) string {
	return fmt.Sprintf("%s_%d", prefix, i)
}

func (p *Planner) planNavigate(result classifier.Result) *ActionPlan {
	url := toURL(domainEntity(result.Entities))

	if result.HasModifier(classifier.Screenshot) {
		return p.planNavigateWithScreenshot(url)
	}

	steps := []ActionStep{
		{ID: "navigate", Kind: KindNavigate, Parameters: map[string]any{"url": url}, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "perceive", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Quick}, DependsOn: []string{"navigate"}, Timeout: perceiveTimeout(perception.Quick, p.perception)},
	}
	return &ActionPlan{TaskType: classifier.Navigate, Steps: steps}
}

// planNavigateWithScreenshot builds the compound "go to X and take
// screenshot" plan: Navigate, then Perceive(Lightning) (enough to confirm
// the page loaded), then a full-page Screenshot.
func (p *Planner) planNavigateWithScreenshot(url string) *ActionPlan {
	steps := []ActionStep{
		{ID: "navigate", Kind: KindNavigate, Parameters: map[string]any{"url": url}, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "perceive", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Lightning}, DependsOn: []string{"navigate"}, Timeout: perceiveTimeout(perception.Lightning, p.perception)},
		{ID: "screenshot", Kind: KindScreenshot, Parameters: map[string]any{"target": ""}, DependsOn: []string{"perceive"}, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
	}
	return &ActionPlan{TaskType: classifier.Navigate, Steps: steps}
}

func (p *Planner) planScreenshot(result classifier.Result) *ActionPlan {
	target := ""
	for _, e := range result.Entities {
		if e.Kind == classifier.EntityRaw {
			target = e.Value
		}
	}
	steps := []ActionStep{
		{ID: "perceive", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Lightning}, Timeout: perceiveTimeout(perception.Lightning, p.perception), RetryPolicy: p.retryPolicy()},
		{ID: "screenshot", Kind: KindScreenshot, Parameters: map[string]any{"target": target}, DependsOn: []string{"perceive"}, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
	}
	return &ActionPlan{TaskType: classifier.Screenshot, Steps: steps}
}

func (p *Planner) planSearch(result classifier.Result) *ActionPlan {
	query := queryEntity(result.Entities)
	host := toURL(domainEntity(result.Entities))
	if host == "" {
		host = p.defaultSearch
	}

	steps := []ActionStep{
		{ID: "navigate", Kind: KindNavigate, Parameters: map[string]any{"url": host}, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "perceive_quick", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Quick}, DependsOn: []string{"navigate"}, Timeout: perceiveTimeout(perception.Quick, p.perception)},
		{ID: "resolve_search_box", Kind: KindResolve, Parameters: map[string]any{"concept": "search_box"}, DependsOn: []string{"perceive_quick"}, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "type_query", Kind: KindType, Parameters: map[string]any{"text": query, "target": "resolve_search_box"}, DependsOn: []string{"resolve_search_box"}, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "click_submit", Kind: KindClick, Parameters: map[string]any{"target": "search submit"}, DependsOn: []string{"type_query"}, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "wait_idle", Kind: KindWait, Parameters: map[string]any{"condition": "network_idle", "fallback": time.Second}, DependsOn: []string{"click_submit"}, Timeout: p.planner.NavigateTimeout},
		{ID: "perceive_standard", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Standard}, DependsOn: []string{"wait_idle"}, Timeout: perceiveTimeout(perception.Standard, p.perception)},
		{ID: "extract_results", Kind: KindExtract, Parameters: map[string]any{"schema": "result_list_schema"}, DependsOn: []string{"perceive_standard"}, Timeout: p.planner.ExtractTimeout, RetryPolicy: p.retryPolicy()},
	}
	return &ActionPlan{TaskType: classifier.Search, Steps: steps}
}

// planningSubtopics backs the 5-7 step Planning composite: one optional
// sub-pipeline per subtopic plus a trailing Report, per spec.md §4.6.
var planningSubtopics = []string{"destination", "flights", "hotels", "attractions", "weather"}

func (p *Planner) planPlanning(result classifier.Result) *ActionPlan {
	var steps []ActionStep
	var reportDeps []string

	for i, topic := range planningSubtopics {
		navID := stepID("navigate_"+topic, i)
		perceiveID := stepID("perceive_"+topic, i)
		extractID := stepID("extract_"+topic, i)

		steps = append(steps,
			ActionStep{ID: navID, Kind: KindNavigate, Parameters: map[string]any{"url": p.defaultSearch, "query": topic}, Optional: true, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
			ActionStep{ID: perceiveID, Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Standard}, DependsOn: []string{navID}, Optional: true, Timeout: perceiveTimeout(perception.Standard, p.perception)},
			ActionStep{ID: extractID, Kind: KindExtract, Parameters: map[string]any{"schema": topic + "_schema"}, DependsOn: []string{perceiveID}, Optional: true, Timeout: p.planner.ExtractTimeout, RetryPolicy: p.retryPolicy()},
		)
		reportDeps = append(reportDeps, extractID)
	}

	steps = append(steps, ActionStep{
		ID:         "report",
		Kind:       KindReport,
		Parameters: map[string]any{"template": "planning_summary"},
		DependsOn:  reportDeps,
		Timeout:    p.planner.ExtractTimeout,
	})

	return &ActionPlan{TaskType: classifier.Planning, Steps: steps}
}

func (p *Planner) planAnalysis(result classifier.Result) *ActionPlan {
	url := toURL(domainEntity(result.Entities))
	steps := []ActionStep{
		{ID: "navigate", Kind: KindNavigate, Parameters: map[string]any{"url": url}, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "perceive", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Deep}, DependsOn: []string{"navigate"}, Timeout: perceiveTimeout(perception.Deep, p.perception)},
		{ID: "extract", Kind: KindExtract, Parameters: map[string]any{"schema": "semantic_schema"}, DependsOn: []string{"perceive"}, Timeout: p.planner.ExtractTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "report", Kind: KindReport, Parameters: map[string]any{"template": "analysis_summary"}, DependsOn: []string{"extract"}, Timeout: p.planner.ExtractTimeout},
	}
	return &ActionPlan{TaskType: classifier.Analysis, Steps: steps}
}

func (p *Planner) planExtraction(result classifier.Result) *ActionPlan {
	url := toURL(domainEntity(result.Entities))
	steps := []ActionStep{
		{ID: "navigate", Kind: KindNavigate, Parameters: map[string]any{"url": url}, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "perceive", Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Standard}, DependsOn: []string{"navigate"}, Timeout: perceiveTimeout(perception.Standard, p.perception)},
		{ID: "extract", Kind: KindExtract, Parameters: map[string]any{"schema": "user_schema"}, DependsOn: []string{"perceive"}, Timeout: p.planner.ExtractTimeout, RetryPolicy: p.retryPolicy()},
		{ID: "report", Kind: KindReport, Parameters: map[string]any{"template": "extraction_summary"}, DependsOn: []string{"extract"}, Timeout: p.planner.ExtractTimeout},
	}
	return &ActionPlan{TaskType: classifier.Extraction, Steps: steps}
}

func (p *Planner) planTesting(result classifier.Result) *ActionPlan {
	urls := []string{}
	for _, e := range result.Entities {
		if e.Kind == classifier.EntityDomain {
			urls = append(urls, toURL(e.Value))
		}
	}
	if len(urls) == 0 {
		urls = []string{""}
	}

	var steps []ActionStep
	var reportDeps []string
	for i, url := range urls {
		navID := stepID("navigate", i)
		perceiveID := stepID("perceive", i)
		screenshotID := stepID("screenshot", i)

		steps = append(steps,
			ActionStep{ID: navID, Kind: KindNavigate, Parameters: map[string]any{"url": url}, Optional: true, Timeout: p.planner.NavigateTimeout, RetryPolicy: p.retryPolicy()},
			ActionStep{ID: perceiveID, Kind: KindPerceive, Parameters: map[string]any{"mode": perception.Quick}, DependsOn: []string{navID}, Optional: true, Timeout: perceiveTimeout(perception.Quick, p.perception)},
			ActionStep{ID: screenshotID, Kind: KindScreenshot, Parameters: map[string]any{"target": ""}, DependsOn: []string{perceiveID}, Optional: true, Timeout: p.planner.ResolveTimeout, RetryPolicy: p.retryPolicy()},
		)
		reportDeps = append(reportDeps, screenshotID)
	}
	steps = append(steps, ActionStep{ID: "report", Kind: KindReport, Parameters: map[string]any{"template": "testing_summary"}, DependsOn: reportDeps, Timeout: p.planner.ExtractTimeout})

	return &ActionPlan{TaskType: classifier.Testing, Steps: steps}
}

func (p *Planner) planUnknown(result classifier.Result) *ActionPlan {
	return &ActionPlan{
		TaskType: classifier.Unknown,
		Steps: []ActionStep{
			{ID: "report", Kind: KindReport, Parameters: map[string]any{"template": "unknown_diagnostic"}, Timeout: p.planner.ExtractTimeout},
		},
	}
}
