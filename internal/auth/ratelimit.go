package auth

import (
	"context"

	"golang.org/x/time/rate"
)

// RefreshRateLimit caps identity-provider refresh calls per manager,
// independent of and in addition to the single-flight collapse in
// Manager.Refresh: single-flight only dedupes concurrent callers, it does
// nothing to slow down a manager that refreshes, fails, and retries in a
// tight loop (e.g. a 401 on every request for a brief window).
const RefreshRateLimit = 1 // per second
const RefreshBurst = 3

// RateLimitedProvider wraps a Provider with a token-bucket limiter so a
// misbehaving caller can't turn every request into an outbound refresh call.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps p with the default refresh rate limit.
func NewRateLimitedProvider(p Provider) *RateLimitedProvider {
	return &RateLimitedProvider{Provider: p, limiter: rate.NewLimiter(rate.Limit(RefreshRateLimit), RefreshBurst)}
}

func (p *RateLimitedProvider) Refresh(ctx context.Context, cred Credential) (RefreshResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrNetwork, Message: "refresh rate limit wait", Cause: err}
	}
	return p.Provider.Refresh(ctx, cred)
}
