package classifier

import (
	"context"
	"errors"
	"testing"
)

func TestRuleBasedNavigateWithWhitelistedDomain(t *testing.T) {
	r := NewRuleBased(NewSiteWhitelist())
	result, err := r.Classify(context.Background(), "go to stackoverflow", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Navigate {
		t.Fatalf("expected Navigate, got %v", result.TaskType)
	}
	if len(result.Entities) != 1 || result.Entities[0].Value != "stackoverflow.com" {
		t.Fatalf("expected entity stackoverflow.com, got %v", result.Entities)
	}
}

func TestRuleBasedCompoundNavigateAndScreenshot(t *testing.T) {
	r := NewRuleBased(NewSiteWhitelist())
	result, err := r.Classify(context.Background(), "go to stackoverflow and take screenshot", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Navigate {
		t.Fatalf("expected Navigate (not Screenshot), got %v", result.TaskType)
	}
	if !result.HasModifier(Screenshot) {
		t.Fatalf("expected a Screenshot modifier, got %v", result.Modifiers)
	}
	if len(result.Entities) != 1 || result.Entities[0].Value != "stackoverflow.com" {
		t.Fatalf("expected entity stackoverflow.com, got %v", result.Entities)
	}
}

func TestRuleBasedPlanningHighConfidence(t *testing.T) {
	r := NewRuleBased(NewSiteWhitelist())
	result, err := r.Classify(context.Background(), "give me a travel plan for Tokyo", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Planning {
		t.Fatalf("expected Planning, got %v", result.TaskType)
	}
	if result.Confidence < 0.75 {
		t.Fatalf("expected confidence >= 0.75, got %v", result.Confidence)
	}
}

func TestRuleBasedSearchExtractsQuery(t *testing.T) {
	r := NewRuleBased(NewSiteWhitelist())
	result, err := r.Classify(context.Background(), "search for golang concurrency patterns", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Search {
		t.Fatalf("expected Search, got %v", result.TaskType)
	}
	if len(result.Entities) != 1 || result.Entities[0].Kind != EntityQuery {
		t.Fatalf("expected a query entity, got %v", result.Entities)
	}
}

func TestRuleBasedEmptyInputIsUnknown(t *testing.T) {
	r := NewRuleBased(NewSiteWhitelist())
	result, err := r.Classify(context.Background(), "   ", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Unknown {
		t.Fatalf("expected Unknown for empty input, got %v", result.TaskType)
	}
}

func TestApplyConfidenceFloorForcesUnknown(t *testing.T) {
	r := applyConfidenceFloor(Result{TaskType: Navigate, Confidence: 0.3})
	if r.TaskType != Unknown {
		t.Fatalf("expected Unknown below confidence floor, got %v", r.TaskType)
	}
}

type stubClassifier struct {
	result Result
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	return s.result, s.err
}

func TestFallbackUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubClassifier{result: Result{TaskType: Analysis, Confidence: 0.9}}
	f := NewFallback(primary, NewRuleBased(NewSiteWhitelist()))

	result, err := f.Classify(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Analysis {
		t.Fatalf("expected primary's Analysis result, got %v", result.TaskType)
	}
}

func TestFallbackDegradesToRuleBasedOnPrimaryError(t *testing.T) {
	primary := &stubClassifier{err: errors.New("provider unavailable")}
	f := NewFallback(primary, NewRuleBased(NewSiteWhitelist()))

	result, err := f.Classify(context.Background(), "go to github", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Navigate {
		t.Fatalf("expected rule-based fallback to classify Navigate, got %v", result.TaskType)
	}
}

func TestFallbackWithNilPrimaryUsesRuleBased(t *testing.T) {
	f := NewFallback(nil, NewRuleBased(NewSiteWhitelist()))
	result, err := f.Classify(context.Background(), "screenshot the page", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.TaskType != Screenshot {
		t.Fatalf("expected Screenshot, got %v", result.TaskType)
	}
}
