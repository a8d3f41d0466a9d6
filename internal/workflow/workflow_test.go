package workflow

import (
	"testing"

	"github.com/wayfarer-labs/pilot/internal/planner"
)

func TestParseYAMLBuildsLinearPlan(t *testing.T) {
	plan, err := Parse([]byte(`
steps:
  - id: nav
    kind: navigate
    parameters:
      url: https://example.com
    timeout: 30s
  - id: shot
    kind: screenshot
    depends_on: [nav]
    timeout: 5s
`), ".yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Kind != planner.KindNavigate {
		t.Fatalf("expected first step Navigate, got %v", plan.Steps[0].Kind)
	}
	if plan.Steps[1].DependsOn[0] != "nav" {
		t.Fatalf("expected second step to depend on nav, got %v", plan.Steps[1].DependsOn)
	}
}

func TestParseJSON5EquivalentDocument(t *testing.T) {
	plan, err := Parse([]byte(`{
		// trailing commas and comments are valid JSON5
		steps: [
			{ id: "nav", kind: "navigate", parameters: { url: "https://example.com" }, timeout: "30s" },
		],
	}`), ".json5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ID != "nav" {
		t.Fatalf("unexpected plan: %+v", plan.Steps)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(`
steps:
  - id: nav
    kind: navigate
    bogus_field: true
`), ".yaml")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`
steps:
  - id: nav
    kind: teleport
`), ".yaml")
	if err == nil {
		t.Fatal("expected error for unknown step kind")
	}
}

func TestParseRejectsForwardDependsOn(t *testing.T) {
	_, err := Parse([]byte(`
steps:
  - id: nav
    kind: navigate
    depends_on: [shot]
  - id: shot
    kind: screenshot
`), ".yaml")
	if err == nil {
		t.Fatal("expected error for a depends_on referencing a later step")
	}
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	_, err := Parse([]byte(`steps: []`), ".yaml")
	if err == nil {
		t.Fatal("expected error for a document with zero steps")
	}
}

func TestParseRetryPolicyDefaultsToNoRetry(t *testing.T) {
	plan, err := Parse([]byte(`
steps:
  - id: nav
    kind: navigate
`), ".yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if plan.Steps[0].RetryPolicy.MaxRetries != 0 {
		t.Fatalf("expected no-retry default, got %+v", plan.Steps[0].RetryPolicy)
	}
}

func TestParseRetryPolicyHonorsRetryableKinds(t *testing.T) {
	plan, err := Parse([]byte(`
steps:
  - id: nav
    kind: navigate
    retry_policy:
      max_retries: 2
      retryable_kinds: [timeout, stale]
      initial_backoff: 250ms
      max_backoff: 2s
`), ".yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rp := plan.Steps[0].RetryPolicy
	if rp.MaxRetries != 2 || len(rp.RetryableKinds) != 2 {
		t.Fatalf("unexpected retry policy: %+v", rp)
	}
}
