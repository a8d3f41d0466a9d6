// Package workflow implements the optional Workflow Input Adapter of
// spec.md §6: it parses a structured plan document (YAML or JSON/JSON5)
// using the same step schema as §3's ActionPlan, short-circuiting the
// Classifier (C5) and Planner (C6) and feeding the Executor (C7) directly.
// Unknown fields are rejected, the same way internal/config rejects
// unknown configuration keys.
package workflow

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/planner"
)

// document is the wire shape of a workflow file: an ordered list of steps
// with the exact §3/§6 field set. yaml.Decoder.KnownFields(true) rejects
// any field not named here, mirroring internal/config's decodeRawConfig.
type document struct {
	Steps []stepDocument `yaml:"steps"`
}

type stepDocument struct {
	ID          string         `yaml:"id"`
	Kind        string         `yaml:"kind"`
	Parameters  map[string]any `yaml:"parameters"`
	DependsOn   []string       `yaml:"depends_on"`
	Optional    bool           `yaml:"optional"`
	RetryPolicy *retryDocument `yaml:"retry_policy"`
	Timeout     string         `yaml:"timeout"`
}

type retryDocument struct {
	MaxRetries     int      `yaml:"max_retries"`
	RetryableKinds []string `yaml:"retryable_kinds"`
	InitialBackoff string   `yaml:"initial_backoff"`
	MaxBackoff     string   `yaml:"max_backoff"`
}

// Parse reads a workflow document from data. format is the source file's
// extension (".yaml", ".yml", ".json", ".json5"); any other value is
// treated as YAML, matching internal/config's LoadRaw convention.
func Parse(data []byte, format string) (*planner.ActionPlan, error) {
	raw, err := decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}
	return build(raw)
}

// ParseFile is a convenience wrapper that derives format from path's
// extension.
func ParseFile(path string, data []byte) (*planner.ActionPlan, error) {
	return Parse(data, filepath.Ext(path))
}

func decode(data []byte, format string) (*document, error) {
	format = strings.ToLower(format)
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		reencoded, err := yaml.Marshal(raw)
		if err != nil {
			return nil, err
		}
		data = reencoded
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc document
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single document")
	}
	return &doc, nil
}

// build validates doc against §3's ActionPlan invariants and converts it
// into a planner.ActionPlan ready for the Executor.
func build(doc *document) (*planner.ActionPlan, error) {
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("workflow: document has no steps")
	}

	seen := make(map[string]bool, len(doc.Steps))
	steps := make([]planner.ActionStep, 0, len(doc.Steps))

	for i, sd := range doc.Steps {
		if sd.ID == "" {
			return nil, fmt.Errorf("workflow: step %d: id is required", i)
		}
		if seen[sd.ID] {
			return nil, fmt.Errorf("workflow: step %d: duplicate id %q", i, sd.ID)
		}

		kind, ok := planner.ParseStepKind(sd.Kind)
		if !ok {
			return nil, fmt.Errorf("workflow: step %q: unknown kind %q", sd.ID, sd.Kind)
		}

		for _, dep := range sd.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("workflow: step %q: depends_on %q must reference an earlier step", sd.ID, dep)
			}
		}
		seen[sd.ID] = true

		timeout, err := parseDuration(sd.Timeout, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("workflow: step %q: timeout: %w", sd.ID, err)
		}

		retryPolicy, err := buildRetryPolicy(sd.RetryPolicy)
		if err != nil {
			return nil, fmt.Errorf("workflow: step %q: retry_policy: %w", sd.ID, err)
		}

		steps = append(steps, planner.ActionStep{
			ID:          sd.ID,
			Kind:        kind,
			Parameters:  sd.Parameters,
			DependsOn:   sd.DependsOn,
			Optional:    sd.Optional,
			RetryPolicy: retryPolicy,
			Timeout:     timeout,
		})
	}

	// TaskType is left Unknown: a workflow document bypasses the Classifier
	// (C5) entirely, so there is no classification to report.
	return &planner.ActionPlan{TaskType: classifier.Unknown, Steps: steps}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func buildRetryPolicy(rd *retryDocument) (planner.RetryPolicy, error) {
	if rd == nil {
		return planner.NoRetryPolicy(), nil
	}

	kinds := make([]driver.Kind, 0, len(rd.RetryableKinds))
	for _, name := range rd.RetryableKinds {
		kind, ok := driver.ParseKind(name)
		if !ok {
			return planner.RetryPolicy{}, fmt.Errorf("unknown retryable kind %q", name)
		}
		kinds = append(kinds, kind)
	}

	initial, err := parseDuration(rd.InitialBackoff, 500*time.Millisecond)
	if err != nil {
		return planner.RetryPolicy{}, fmt.Errorf("initial_backoff: %w", err)
	}
	maxBackoff, err := parseDuration(rd.MaxBackoff, time.Second)
	if err != nil {
		return planner.RetryPolicy{}, fmt.Errorf("max_backoff: %w", err)
	}

	return planner.RetryPolicy{
		MaxRetries:     rd.MaxRetries,
		RetryableKinds: kinds,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
	}, nil
}
