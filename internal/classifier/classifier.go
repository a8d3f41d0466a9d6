// Package classifier implements the Command Classifier (C5): it maps raw
// natural-language input to a TaskType, extracted entities, and a
// confidence score. The rule-based implementation is mandatory and always
// available; LLM-backed implementations are pluggable behind the same
// Classifier interface and fall back to rule-based on any provider error.
package classifier

import "context"

// TaskType is the closed set of task kinds the Planner (C6) understands.
type TaskType int

const (
	Unknown TaskType = iota
	Navigate
	Screenshot
	Search
	Planning
	Analysis
	Extraction
	Monitoring
	Testing
	Reporting
	Interaction
)

func (t TaskType) String() string {
	switch t {
	case Navigate:
		return "Navigate"
	case Screenshot:
		return "Screenshot"
	case Search:
		return "Search"
	case Planning:
		return "Planning"
	case Analysis:
		return "Analysis"
	case Extraction:
		return "Extraction"
	case Monitoring:
		return "Monitoring"
	case Testing:
		return "Testing"
	case Reporting:
		return "Reporting"
	case Interaction:
		return "Interaction"
	default:
		return "Unknown"
	}
}

// EntityKind distinguishes what an extracted Entity represents.
type EntityKind int

const (
	EntityDomain EntityKind = iota
	EntityQuery
	EntityLocation
	EntityDate
	EntityRaw
)

// Entity is one piece of structured data pulled out of raw_text.
type Entity struct {
	Kind  EntityKind
	Value string
}

// Result is the classifier's output: {task_type, entities[], confidence}.
// Modifiers carries secondary intents layered onto TaskType by a compound
// command, e.g. "go to stackoverflow and take screenshot" classifies as
// Navigate with a Screenshot modifier rather than losing the navigation.
type Result struct {
	TaskType   TaskType
	Entities   []Entity
	Modifiers  []TaskType
	Confidence float64
}

// HasModifier reports whether t is present in r.Modifiers.
func (r Result) HasModifier(t TaskType) bool {
	for _, m := range r.Modifiers {
		if m == t {
			return true
		}
	}
	return false
}

// ConfidenceFloor is the minimum confidence required to act without asking
// the user to confirm; below it the task_type is forced to Unknown.
const ConfidenceFloor = 0.5

// Context is the prior conversation/session context a classifier may use to
// disambiguate (e.g. a pending element reference for "click it").
type Context struct {
	PreviousTaskType TaskType
	PreviousURL      string
}

// Classifier maps raw_text (and optional prior Context) to a Result.
// Implementations MUST NOT return a TaskType other than Unknown alongside
// an error; callers treat a returned error as "try the next provider".
type Classifier interface {
	Classify(ctx context.Context, rawText string, prior *Context) (Result, error)
}

func applyConfidenceFloor(r Result) Result {
	if r.Confidence < ConfidenceFloor {
		r.TaskType = Unknown
	}
	return r
}
