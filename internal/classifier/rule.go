package classifier

import (
	"context"
	"regexp"
	"strings"
)

// keywordRule pairs a set of trigger phrases with the TaskType they imply.
// Rules are tried in order; the first match wins, so more specific phrases
// should precede more general ones.
type keywordRule struct {
	taskType TaskType
	phrases  []string
}

var keywordRules = []keywordRule{
	{Planning, []string{"plan", "itinerary", "travel plan"}},
	{Screenshot, []string{"screenshot", "capture"}},
	{Navigate, []string{"go to", "open", "visit", "navigate to"}},
	{Search, []string{"search", "find", "look up", "look for"}},
	{Analysis, []string{"analyze", "analyse"}},
	{Extraction, []string{"extract", "scrape", "pull data"}},
	{Testing, []string{"test", "check that", "verify that"}},
	{Monitoring, []string{"monitor", "watch for changes"}},
	{Reporting, []string{"report on", "summarize"}},
}

// imperativeVerbs are stripped from the input before domain extraction, so
// "go to stackoverflow" does not leave "go" in front of the regex match.
var imperativeVerbs = []string{
	"go to", "navigate to", "open", "visit", "search for", "find", "look up",
	"look for", "screenshot", "capture", "analyze", "analyse", "extract",
	"scrape", "test", "monitor", "plan", "summarize", "report on",
}

var domainRegex = regexp.MustCompile(`\b[a-z0-9][a-z0-9-]*\.(com|org|net|io|dev|co)\b`)

// RuleBased is the mandatory, always-available Classifier: keyword/pattern
// matching against the documented taxonomy plus whitelist-then-regex
// domain extraction.
type RuleBased struct {
	whitelist *SiteWhitelist
}

// NewRuleBased builds a RuleBased classifier backed by whitelist for known
// site name resolution. A nil whitelist falls back to regex-only domain
// extraction.
func NewRuleBased(whitelist *SiteWhitelist) *RuleBased {
	return &RuleBased{whitelist: whitelist}
}

func (r *RuleBased) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	lower := strings.ToLower(strings.TrimSpace(rawText))
	if lower == "" {
		return Result{TaskType: Unknown, Confidence: 0}, nil
	}

	taskType, confidence := matchKeywords(lower)
	taskType, modifiers := applyCompoundModifiers(lower, taskType)
	entities := r.extractEntities(lower, taskType)

	return applyConfidenceFloor(Result{
		TaskType:   taskType,
		Entities:   entities,
		Modifiers:  modifiers,
		Confidence: confidence,
	}), nil
}

// matchKeywords returns the first matching rule's TaskType with a fixed
// high confidence (multi-word phrase matches are unambiguous enough to
// warrant well above the 0.5 floor), or Unknown at zero confidence.
func matchKeywords(lower string) (TaskType, float64) {
	for _, rule := range keywordRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return rule.taskType, 0.85
			}
		}
	}
	return Unknown, 0
}

// extractEntities pulls a domain entity (whitelist first, then a generic
// regex) for Navigate/Search task types, and a bare query entity for
// Search. Imperative verbs and "screenshot" are stripped first so a phrase
// like "go to stackoverflow" does not let "go" bleed into a false domain
// match such as "go.com".
func (r *RuleBased) extractEntities(lower string, taskType TaskType) []Entity {
	if taskType != Navigate && taskType != Search {
		return nil
	}

	stripped := stripImperatives(lower)

	if r.whitelist != nil {
		for _, name := range r.whitelist.Names() {
			if strings.Contains(stripped, name) {
				if domain, ok := r.whitelist.Lookup(name); ok {
					return []Entity{{Kind: EntityDomain, Value: domain}}
				}
			}
		}
	}

	if match := domainRegex.FindString(stripped); match != "" {
		return []Entity{{Kind: EntityDomain, Value: match}}
	}

	if taskType == Search {
		query := strings.TrimSpace(stripped)
		if query != "" {
			return []Entity{{Kind: EntityQuery, Value: query}}
		}
	}

	return nil
}

// applyCompoundModifiers re-derives the primary TaskType for inputs that
// name two intents at once, e.g. "go to stackoverflow and take screenshot":
// the Screenshot rule matches first per keywordRules's priority order, but
// the user's primary intent is Navigate with a screenshot appended, not a
// screenshot of whatever page happened to be open. Without this the nav
// target is silently dropped and the screenshot captures a blank page.
func applyCompoundModifiers(lower string, taskType TaskType) (TaskType, []TaskType) {
	if taskType == Screenshot && containsAny(lower, phrasesFor(Navigate)) {
		return Navigate, []TaskType{Screenshot}
	}
	return taskType, nil
}

func phrasesFor(t TaskType) []string {
	for _, rule := range keywordRules {
		if rule.taskType == t {
			return rule.phrases
		}
	}
	return nil
}

func containsAny(lower string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func stripImperatives(lower string) string {
	out := lower
	for _, verb := range imperativeVerbs {
		out = strings.ReplaceAll(out, verb, " ")
	}
	return strings.TrimSpace(out)
}
