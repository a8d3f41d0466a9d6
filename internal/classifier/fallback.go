package classifier

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Classifier (typically an LLM-backed provider) with a
// token-bucket throttle so retries and bursts from upstream callers don't
// storm the provider.
type RateLimited struct {
	inner   Classifier
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing ratePerSecond steady
// requests and burst extra ones.
func NewRateLimited(inner Classifier, ratePerSecond float64, burst int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (r *RateLimited) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return r.inner.Classify(ctx, rawText, prior)
}

// Fallback tries primary first (normally an LLM-backed, rate-limited
// provider) and falls back to ruleBased on any error, per §4.5: "Any
// non-success from the provider falls back to rule-based." ruleBased is
// always available and never itself returns an error.
type Fallback struct {
	primary   Classifier
	ruleBased *RuleBased
}

// NewFallback builds a Classifier that prefers primary and degrades to
// ruleBased. Pass a nil primary to always use ruleBased (useful when no
// LLM provider is configured).
func NewFallback(primary Classifier, ruleBased *RuleBased) *Fallback {
	return &Fallback{primary: primary, ruleBased: ruleBased}
}

func (f *Fallback) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	if f.primary != nil {
		if result, err := f.primary.Classify(ctx, rawText, prior); err == nil {
			return result, nil
		}
	}
	return f.ruleBased.Classify(ctx, rawText, prior)
}
