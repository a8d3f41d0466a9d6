package perception

import (
	"context"
	"testing"
	"time"

	"github.com/wayfarer-labs/pilot/internal/cache"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
)

// fakeAdapter is a minimal driver.Adapter stand-in; only Evaluate is
// exercised by the Engine under test.
type fakeAdapter struct {
	driver.Adapter
	result any
	err    error
	delay  time.Duration
}

func (f *fakeAdapter) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func testPerceptionConfig() config.PerceptionConfig {
	return config.PerceptionConfig{
		LightningBudget:      50 * time.Millisecond,
		QuickBudget:          200 * time.Millisecond,
		StandardBudget:       500 * time.Millisecond,
		DeepBudget:           time.Second,
		BudgetTolerance:      10 * time.Millisecond,
		LightningMaxElements: 10,
	}
}

func sampleRaw() map[string]any {
	return map[string]any{
		"key_elements": []any{
			map[string]any{"selector": "#search", "label": "Search", "role": "input", "visible": true, "x": 1.0, "y": 2.0, "width": 30.0, "height": 10.0},
		},
	}
}

func TestPerceiveLightningCompletesWithinBudget(t *testing.T) {
	adapter := &fakeAdapter{result: sampleRaw()}
	c := cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 10})
	eng := New(testPerceptionConfig(), c)

	snap, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Lightning)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if snap.Status != StatusComplete {
		t.Fatalf("expected StatusComplete, got %v", snap.Status)
	}
	if len(snap.KeyElements) != 1 {
		t.Fatalf("expected 1 key element, got %d", len(snap.KeyElements))
	}
	if snap.FullElementTree != nil {
		t.Fatalf("expected Lightning snapshot to omit FullElementTree")
	}
}

func TestPerceiveReturnsPartialOnBudgetTimeout(t *testing.T) {
	adapter := &fakeAdapter{result: sampleRaw(), delay: 100 * time.Millisecond}
	c := cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 10})
	eng := New(testPerceptionConfig(), c)

	snap, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Lightning)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if snap.Status != StatusPartial {
		t.Fatalf("expected StatusPartial on timeout, got %v", snap.Status)
	}
}

func TestPerceiveReusesCacheOnMatchingRevisionHint(t *testing.T) {
	adapter := &fakeAdapter{result: sampleRaw()}
	c := cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 10})
	eng := New(testPerceptionConfig(), c)

	first, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Standard)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}

	adapter.result = map[string]any{} // would produce an empty snapshot if re-fetched
	second, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Standard)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if second != first {
		t.Fatalf("expected cached snapshot to be reused for matching (session, url, hint)")
	}
}

func TestPerceiveStripsRichCacheHitDownToRequestedMode(t *testing.T) {
	raw := sampleRaw()
	raw["full_elements"] = []any{map[string]any{"selector": "#a", "label": "A"}}
	raw["layout_regions"] = []any{map[string]any{"kind": "main", "selector": "#main"}}
	raw["semantic_class"] = "article"

	adapter := &fakeAdapter{result: raw}
	c := cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 10})
	eng := New(testPerceptionConfig(), c)

	deep, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Deep)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if deep.SemanticClass == "" {
		t.Fatalf("expected the Deep capture to populate SemanticClass")
	}

	lightning, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Lightning)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if lightning.Mode != Lightning {
		t.Fatalf("expected projected snapshot's Mode to be Lightning, got %v", lightning.Mode)
	}
	if lightning.FullElementTree != nil || lightning.LayoutRegions != nil || lightning.SemanticClass != "" {
		t.Fatalf("expected a Lightning-mode cache hit to omit higher-budget fields even when cached, got %+v", lightning)
	}
	if len(lightning.KeyElements) == 0 {
		t.Fatalf("expected KeyElements (affordable at Lightning) to survive projection")
	}
}

func TestPerceiveMissesCacheOnRevisionHintChange(t *testing.T) {
	adapter := &fakeAdapter{result: sampleRaw()}
	c := cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: time.Minute, MaxSize: 10})
	eng := New(testPerceptionConfig(), c)

	first, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev1", Lightning)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	second, err := eng.Perceive(context.Background(), adapter, "sess1", "https://example.com", "rev2", Lightning)
	if err != nil {
		t.Fatalf("Perceive() error = %v", err)
	}
	if second == first {
		t.Fatalf("expected a changed dom_revision_hint to miss the cache")
	}
}

func TestDecodeElementsDefaultsEnabledTrueWhenFieldAbsent(t *testing.T) {
	raw := map[string]any{
		"key_elements": []any{
			map[string]any{"selector": "#a", "label": "A"},
			map[string]any{"selector": "#b", "label": "B", "enabled": false},
		},
	}
	snap := decodeSnapshot(raw, Lightning, "https://example.com")
	if len(snap.KeyElements) != 2 {
		t.Fatalf("expected 2 key elements, got %d", len(snap.KeyElements))
	}
	if !snap.KeyElements[0].Enabled {
		t.Fatalf("expected missing 'enabled' field to default to true")
	}
	if snap.KeyElements[1].Enabled {
		t.Fatalf("expected explicit enabled=false to be honored")
	}
}

func TestDecodeSnapshotRespectsModeFieldBoundary(t *testing.T) {
	raw := map[string]any{
		"key_elements":      []any{},
		"full_elements":     []any{},
		"layout_regions":    []any{map[string]any{"kind": "nav", "selector": "nav"}},
		"semantic_class":    "commerce",
		"principal_content": "hello",
	}

	quick := decodeSnapshot(raw, Quick, "https://example.com")
	if quick.LayoutRegions != nil {
		t.Fatalf("expected Quick snapshot to omit LayoutRegions, got %v", quick.LayoutRegions)
	}

	standard := decodeSnapshot(raw, Standard, "https://example.com")
	if len(standard.LayoutRegions) != 1 {
		t.Fatalf("expected Standard snapshot to include LayoutRegions, got %v", standard.LayoutRegions)
	}
	if standard.SemanticClass != "" {
		t.Fatalf("expected Standard snapshot to omit SemanticClass, got %q", standard.SemanticClass)
	}

	deep := decodeSnapshot(raw, Deep, "https://example.com")
	if deep.SemanticClass != "commerce" {
		t.Fatalf("expected Deep snapshot to include SemanticClass, got %q", deep.SemanticClass)
	}
}

func TestAdaptiveRouterModeSelectionRules(t *testing.T) {
	r := NewAdaptiveRouter()

	if got := r.Route("example.com", HintSimple, ""); got != Lightning {
		t.Errorf("simple hint: expected Lightning, got %v", got)
	}
	if got := r.Route("example.com", HintInteractionImminent, ""); got != Quick {
		t.Errorf("interaction imminent: expected Quick, got %v", got)
	}
	if got := r.Route("example.com", HintExtract, ""); got != Standard {
		t.Errorf("extract hint: expected Standard, got %v", got)
	}
	if got := r.Route("example.com", HintSimple, "Analysis"); got != Deep {
		t.Errorf("Analysis task kind: expected Deep regardless of hint, got %v", got)
	}
}

func TestAdaptiveRouterEscalatesLightningOnHeavyHost(t *testing.T) {
	r := NewAdaptiveRouter()
	for i := 0; i < 5; i++ {
		r.Observe("heavy.example.com", 300, 60)
	}

	if got := r.Route("heavy.example.com", HintSimple, ""); got != Quick {
		t.Errorf("expected heavy host to escalate Simple hint to Quick, got %v", got)
	}
	if got := r.Route("light.example.com", HintSimple, ""); got != Lightning {
		t.Errorf("expected unobserved host to stay Lightning, got %v", got)
	}
}
