// Package perception implements the Perception Engine: it produces a
// PerceptionSnapshot in one of four fixed-budget modes (Lightning, Quick,
// Standard, Deep), each a single driver-side round trip that yields exactly
// the fields its mode is allowed to emit.
package perception

import (
	"context"
	"time"

	"github.com/wayfarer-labs/pilot/internal/cache"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
)

// Mode selects a fixed latency budget and the fields the snapshot may emit.
type Mode int

const (
	Lightning Mode = iota
	Quick
	Standard
	Deep
)

func (m Mode) String() string {
	switch m {
	case Lightning:
		return "lightning"
	case Quick:
		return "quick"
	case Standard:
		return "standard"
	case Deep:
		return "deep"
	default:
		return "unknown"
	}
}

// Status reports whether a snapshot completed within its budget.
type Status int

const (
	StatusComplete Status = iota
	StatusPartial
)

// PageStatus mirrors the driver's coarse page readiness.
type PageStatus int

const (
	PageLoading PageStatus = iota
	PageInteractive
	PageComplete
	PageError
)

// KeyElement is one interactive element surfaced at every mode.
type KeyElement struct {
	Ref     driver.Element
	Label   string
	Role    string
	Box     Box
	Visible bool
	Enabled bool
}

// Box is an element bounding rectangle in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// LayoutRegion names a structural page region (Standard+).
type LayoutRegion struct {
	Kind     string // nav|main|aside|footer
	Selector string
}

// Snapshot is the output of one Perceive call. Fields beyond KeyElements
// and PageStatusValue are populated only for the modes that afford them;
// Lightning/Quick snapshots MUST omit fields requiring a higher budget even
// when the data happens to be cached from an earlier, deeper capture.
type Snapshot struct {
	Mode       Mode
	CapturedAt time.Time
	SourceURL  string
	Status     Status

	KeyElements     []KeyElement
	PageStatusValue PageStatus

	// Standard+
	FullElementTree []KeyElement
	LayoutRegions   []LayoutRegion
	Tables          []string
	Images          []string

	// Deep only
	SemanticClass    string
	PrincipalContent string
	EntityHints      []string
}

// lightningElementCap bounds the Lightning-mode key element list (K=10).
const lightningElementCap = 10

// budgetFor returns the configured hard latency budget for a mode.
func budgetFor(cfg config.PerceptionConfig, mode Mode) time.Duration {
	switch mode {
	case Lightning:
		return cfg.LightningBudget
	case Quick:
		return cfg.QuickBudget
	case Standard:
		return cfg.StandardBudget
	default:
		return cfg.DeepBudget
	}
}

// Engine produces PerceptionSnapshots under the mode's hard wall-clock
// budget, including IPC to the driver. At most one Perceive runs per
// session at a time; the caller enforces this by holding the session Busy.
type Engine struct {
	cfg   config.PerceptionConfig
	cache *cache.SnapshotCache
}

// New builds an Engine backed by snapshotCache for the (session, url,
// dom_revision_hint) reuse rule.
func New(cfg config.PerceptionConfig, snapshotCache *cache.SnapshotCache) *Engine {
	return &Engine{cfg: cfg, cache: snapshotCache}
}

// Perceive captures a snapshot at mode, reusing a cached snapshot when
// domRevisionHint matches a previous capture for (sessionID, url).
func (e *Engine) Perceive(ctx context.Context, adapter driver.Adapter, sessionID, url, domRevisionHint string, mode Mode) (*Snapshot, error) {
	key := cache.Key(sessionID, url, domRevisionHint)
	if key != "" {
		if cached, ok := e.cache.Get(key); ok {
			if snap, ok := cached.(*Snapshot); ok && snap.Mode >= mode {
				if snap.Mode == mode {
					return snap, nil
				}
				return projectToMode(snap, mode), nil
			}
		}
	}

	budget := budgetFor(e.cfg, mode)
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	snap, err := e.capture(budgetCtx, adapter, url, mode)
	if err != nil {
		return nil, err
	}

	if key != "" {
		e.cache.Put(key, snap)
	}
	return snap, nil
}

// capture runs the single mode-appropriate driver round trip and returns
// the best-effort result. If the budget fires before the script returns,
// the result is marked Partial(mode) rather than failing the call.
func (e *Engine) capture(ctx context.Context, adapter driver.Adapter, url string, mode Mode) (*Snapshot, error) {
	type result struct {
		snap *Snapshot
		err  error
	}
	done := make(chan result, 1)

	go func() {
		raw, err := adapter.Evaluate(ctx, scriptForMode(mode))
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{snap: decodeSnapshot(raw, mode, url)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			// A budget that fired concurrently with the driver round trip
			// returning an error (e.g. a cancelled Evaluate) is a timeout,
			// not a failure: ctx.Err() is permanently set once the deadline
			// passes, so this check is race-free regardless of which
			// channel the select happened to observe first.
			if ctx.Err() != nil {
				return partialSnapshot(mode, url), nil
			}
			return nil, r.err
		}
		r.snap.Status = StatusComplete
		return r.snap, nil
	case <-ctx.Done():
		return partialSnapshot(mode, url), nil
	}
}

// partialSnapshot is returned when the budget fires before the driver
// round trip completes. A partial snapshot is still usable downstream; the
// Executor decides whether to retry at the same or a lower mode.
func partialSnapshot(mode Mode, url string) *Snapshot {
	return &Snapshot{
		Mode:            mode,
		CapturedAt:      time.Now(),
		SourceURL:       url,
		Status:          StatusPartial,
		PageStatusValue: PageLoading,
	}
}

// projectToMode strips a cached snapshot down to the fields requested mode
// is allowed to carry, mirroring decodeSnapshot's own mode gates. A cache
// hit for a lower mode than the one the snapshot was originally captured at
// must not hand the richer object back verbatim: Lightning/Quick callers
// MUST NOT see Standard/Deep-only fields even when they happen to be cached.
func projectToMode(snap *Snapshot, mode Mode) *Snapshot {
	projected := &Snapshot{
		Mode:            mode,
		CapturedAt:      snap.CapturedAt,
		SourceURL:       snap.SourceURL,
		Status:          snap.Status,
		KeyElements:     snap.KeyElements,
		PageStatusValue: snap.PageStatusValue,
	}
	if mode == Lightning {
		return projected
	}

	projected.FullElementTree = snap.FullElementTree
	if mode == Quick {
		return projected
	}

	projected.LayoutRegions = snap.LayoutRegions
	projected.Tables = snap.Tables
	projected.Images = snap.Images
	if mode == Standard {
		return projected
	}

	projected.SemanticClass = snap.SemanticClass
	projected.PrincipalContent = snap.PrincipalContent
	projected.EntityHints = snap.EntityHints
	return projected
}

// decodeSnapshot interprets the mode-appropriate script's JSON result. The
// scripts themselves (scriptForMode) are responsible for only emitting the
// fields their mode affords; decodeSnapshot trusts that contract rather
// than re-filtering, so a single round trip produces the full snapshot
// regardless of mode.
func decodeSnapshot(raw any, mode Mode, url string) *Snapshot {
	snap := &Snapshot{
		Mode:            mode,
		CapturedAt:      time.Now(),
		SourceURL:       url,
		PageStatusValue: PageComplete,
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return snap
	}

	if elements, ok := data["key_elements"].([]any); ok {
		snap.KeyElements = decodeElements(elements, lightningElementCap)
	}

	if mode == Lightning {
		return snap
	}

	if elements, ok := data["full_elements"].([]any); ok {
		snap.FullElementTree = decodeElements(elements, 0)
	}

	if mode == Quick {
		return snap
	}

	if regions, ok := data["layout_regions"].([]any); ok {
		for _, r := range regions {
			if m, ok := r.(map[string]any); ok {
				snap.LayoutRegions = append(snap.LayoutRegions, LayoutRegion{
					Kind:     stringField(m, "kind"),
					Selector: stringField(m, "selector"),
				})
			}
		}
	}
	if tables, ok := data["tables"].([]any); ok {
		snap.Tables = stringSlice(tables)
	}
	if images, ok := data["images"].([]any); ok {
		snap.Images = stringSlice(images)
	}

	if mode == Standard {
		return snap
	}

	snap.SemanticClass = stringField(data, "semantic_class")
	snap.PrincipalContent = stringField(data, "principal_content")
	if hints, ok := data["entity_hints"].([]any); ok {
		snap.EntityHints = stringSlice(hints)
	}

	return snap
}

func decodeElements(raw []any, cap int) []KeyElement {
	out := make([]KeyElement, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		el := KeyElement{
			Label:   stringField(m, "label"),
			Role:    stringField(m, "role"),
			Visible: boolField(m, "visible"),
			Enabled: boolFieldDefault(m, "enabled", true),
			Box: Box{
				X:      floatField(m, "x"),
				Y:      floatField(m, "y"),
				Width:  floatField(m, "width"),
				Height: floatField(m, "height"),
			},
		}
		el.Ref = driver.Element{Selector: stringField(m, "selector"), BackendID: stringField(m, "selector")}
		out = append(out, el)
		if cap > 0 && len(out) >= cap {
			break
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// boolFieldDefault is like boolField but falls back to def when key is
// absent, for fields (like "enabled") where an older script payload missing
// the key should not be read as an explicit false.
func boolFieldDefault(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func floatField(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func stringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
