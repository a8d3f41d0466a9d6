// Package resolver implements the Element Resolver: given a human
// description or an explicit selector set, it returns a concrete element
// handle using a layered cascade of strategies, stopping at first success.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/sitepatterns"
)

// genericRolePatterns maps a concept to role/attribute selector candidates
// when no site-specific pattern is registered. Kept as a small immutable
// map, reloadable the same way the site-pattern registry is, rather than
// hardcoded per a single exhaustive list.
var genericRolePatterns = map[string][]string{
	"search_box": {
		"input[type=search]",
		"input[role=searchbox]",
		"input[name*=q]",
		"input[name*=search]",
		"input[name*=query]",
	},
	"submit_button": {
		"button[type=submit]",
		"input[type=submit]",
		"button[role=button]",
	},
	"login_button": {
		"a[href*=login]",
		"button:has-text('Log in')",
		"button:has-text('Sign in')",
	},
}

// Candidate is a visible, interactive element considered by the fuzzy and
// visual strategies. Perception (C4) supplies these from its snapshot.
type Candidate struct {
	Element     *driver.Element
	Role        string
	Label       string
	InViewport  bool
	Enabled     bool
	DocOrder    int
	BoundingBox BoundingBox
}

// BoundingBox is a rounded element rectangle used for position hashing and
// the visual/position heuristic.
type BoundingBox struct {
	X, Y, Width, Height float64
}

// Strategy names the cascade tier that produced a resolution, recorded for
// diagnostics and for the NotFound attempted-strategies trail.
type Strategy int

const (
	StrategyExplicitSelector Strategy = iota
	StrategySitePattern
	StrategyGenericRole
	StrategyFuzzyText
	StrategyVisualPosition
)

func (s Strategy) String() string {
	switch s {
	case StrategyExplicitSelector:
		return "explicit_selector"
	case StrategySitePattern:
		return "site_pattern"
	case StrategyGenericRole:
		return "generic_role"
	case StrategyFuzzyText:
		return "fuzzy_text"
	case StrategyVisualPosition:
		return "visual_position"
	default:
		return "unknown"
	}
}

// Attempt records one cascade tier's outcome for NotFound diagnostics.
type Attempt struct {
	Strategy       Strategy
	CandidateCount int
}

// NotFoundError is returned when every cascade tier fails. Attempted
// supports diagnostic partial-result assembly in the Executor.
type NotFoundError struct {
	Attempted []Attempt
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("resolver: element not found after ")
	for i, a := range e.Attempted {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s(%d)", a.Strategy, a.CandidateCount)
	}
	return b.String()
}

// ElementRef is the stable composite identity returned alongside a resolved
// handle. It is never assumed stable across navigations; every use
// re-resolves through the cascade.
type ElementRef struct {
	CSSSelectorCandidates []string
	TextSignature         string
	Role                  string
	PositionHash          string
}

// Request describes what the caller wants resolved: either an explicit
// selector list, a target description for the fuzzy/site-pattern tiers, or
// both (explicit selectors are always tried first).
type Request struct {
	Host               string
	Concept            string
	TargetDescription  string
	SelectorCandidates []string
	// PreviousReference, when set, anchors the visual/position heuristic to
	// disambiguate duplicates by proximity to a prior "click it" reference.
	PreviousReference *BoundingBox
}

// Resolver implements the §4.3 cascade. It holds no learning component: the
// site-pattern registry and generic role map are both design-time data.
type Resolver struct {
	cfg          config.ResolverConfig
	sitePatterns *sitepatterns.Registry
}

// New builds a Resolver consulting patterns for the site-pattern tier.
func New(cfg config.ResolverConfig, patterns *sitepatterns.Registry) *Resolver {
	return &Resolver{cfg: cfg, sitePatterns: patterns}
}

// Resolve runs the cascade against adapter, given any fuzzy-tier candidates
// the caller has already gathered from a PerceptionSnapshot.
func (r *Resolver) Resolve(ctx context.Context, adapter driver.Adapter, req Request, candidates []Candidate) (*driver.Element, *ElementRef, error) {
	var attempts []Attempt

	if len(req.SelectorCandidates) > 0 {
		el, err := r.tryExplicit(ctx, adapter, req.SelectorCandidates)
		attempts = append(attempts, Attempt{StrategyExplicitSelector, len(req.SelectorCandidates)})
		if err == nil {
			return el, r.buildRef(req.SelectorCandidates, req.TargetDescription, "", el), nil
		}
	}

	if req.Concept != "" && r.sitePatterns != nil {
		if selectors, ok := r.sitePatterns.Lookup(req.Host, req.Concept); ok {
			el, err := r.tryExplicit(ctx, adapter, selectors)
			attempts = append(attempts, Attempt{StrategySitePattern, len(selectors)})
			if err == nil {
				return el, r.buildRef(selectors, req.TargetDescription, "", el), nil
			}
		}
	}

	if req.Concept != "" {
		if selectors, ok := genericRolePatterns[req.Concept]; ok {
			el, err := r.tryExplicit(ctx, adapter, selectors)
			attempts = append(attempts, Attempt{StrategyGenericRole, len(selectors)})
			if err == nil {
				return el, r.buildRef(selectors, req.TargetDescription, "", el), nil
			}
		}
	}

	if req.TargetDescription != "" && len(candidates) > 0 {
		best, runnerUp := rankByFuzzyScore(candidates, req.TargetDescription)
		attempts = append(attempts, Attempt{StrategyFuzzyText, len(candidates)})
		if best != nil && best.score >= r.cfg.AcceptanceThreshold {
			accept := runnerUp == nil || best.score >= runnerUp.score*r.cfg.RunnerUpMargin
			if accept {
				ref := r.buildRef(nil, req.TargetDescription, best.candidate.Label, best.candidate.Element)
				ref.Role = best.candidate.Role
				ref.PositionHash = positionHash(best.candidate)
				return best.candidate.Element, ref, nil
			}
		}
	}

	if req.PreviousReference != nil && len(candidates) > 0 {
		attempts = append(attempts, Attempt{StrategyVisualPosition, len(candidates)})
		if nearest := nearestByPosition(candidates, *req.PreviousReference); nearest != nil {
			ref := r.buildRef(nil, req.TargetDescription, nearest.Label, nearest.Element)
			ref.Role = nearest.Role
			ref.PositionHash = positionHash(*nearest)
			return nearest.Element, ref, nil
		}
	}

	return nil, nil, &NotFoundError{Attempted: attempts}
}

func (r *Resolver) tryExplicit(ctx context.Context, adapter driver.Adapter, selectors []string) (*driver.Element, error) {
	timeout := r.cfg.PerCandidateTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return adapter.Find(ctx, selectors, timeout)
}

func (r *Resolver) buildRef(selectors []string, description, label string, el *driver.Element) *ElementRef {
	signature := label
	if signature == "" {
		signature = description
	}
	ref := &ElementRef{TextSignature: signature}
	if len(selectors) > 0 {
		ref.CSSSelectorCandidates = append([]string(nil), selectors...)
	} else if el != nil {
		ref.CSSSelectorCandidates = []string{el.Selector}
	}
	return ref
}

type scoredCandidate struct {
	candidate Candidate
	score     float64
}

// rankByFuzzyScore scores each candidate by role match times normalized
// text similarity between the target description and the candidate's
// label, returning the best and runner-up.
func rankByFuzzyScore(candidates []Candidate, description string) (*scoredCandidate, *scoredCandidate) {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Enabled {
			continue
		}
		score := textSimilarity(description, c.Label) * roleBoost(description, c.Role)
		scored = append(scored, scoredCandidate{candidate: c, score: score})
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].candidate.InViewport != scored[j].candidate.InViewport {
			return scored[i].candidate.InViewport
		}
		return scored[i].candidate.DocOrder < scored[j].candidate.DocOrder
	})

	best := scored[0]
	if len(scored) == 1 {
		return &best, nil
	}
	runnerUp := scored[1]
	return &best, &runnerUp
}

// roleBoost favors candidates whose role matches a keyword in description;
// otherwise it neither helps nor hurts the score.
func roleBoost(description, role string) float64 {
	desc := strings.ToLower(description)
	switch role {
	case "button":
		if strings.Contains(desc, "button") || strings.Contains(desc, "submit") || strings.Contains(desc, "click") {
			return 1.2
		}
	case "input":
		if strings.Contains(desc, "box") || strings.Contains(desc, "field") || strings.Contains(desc, "input") {
			return 1.2
		}
	case "link":
		if strings.Contains(desc, "link") {
			return 1.2
		}
	}
	return 1.0
}

// textSimilarity is a normalized token-overlap score in [0, 1]: shared
// tokens divided by the larger token set, case-insensitive.
func textSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(tb))
	for _, tok := range tb {
		set[tok] = struct{}{}
	}
	shared := 0
	for _, tok := range ta {
		if _, ok := set[tok]; ok {
			shared++
		}
	}
	denom := len(ta)
	if len(tb) > denom {
		denom = len(tb)
	}
	return float64(shared) / float64(denom)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// nearestByPosition returns the candidate whose bounding box center is
// closest to ref, used to disambiguate duplicates by proximity to a
// previously referenced element.
func nearestByPosition(candidates []Candidate, ref BoundingBox) *Candidate {
	refX, refY := ref.X+ref.Width/2, ref.Y+ref.Height/2

	var nearest *Candidate
	bestDist := -1.0
	for i := range candidates {
		c := &candidates[i]
		cx, cy := c.BoundingBox.X+c.BoundingBox.Width/2, c.BoundingBox.Y+c.BoundingBox.Height/2
		dist := (cx-refX)*(cx-refX) + (cy-refY)*(cy-refY)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			nearest = c
		}
	}
	return nearest
}

// positionHash computes a stable hash of the rounded bounding-box quadrant,
// role, and doc-order index so Resolver determinism (testable property 7)
// holds across repeated calls against the same snapshot.
func positionHash(c Candidate) string {
	quadrantX := int(c.BoundingBox.X) / 100
	quadrantY := int(c.BoundingBox.Y) / 100
	return fmt.Sprintf("%s:%d:%d:%d", c.Role, quadrantX, quadrantY, c.DocOrder)
}
