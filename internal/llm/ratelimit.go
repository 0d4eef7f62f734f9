package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited enforces a client-side request budget in front of a Generator.
// Calls over budget fail immediately with ErrRateLimited instead of queueing,
// so a busy provider degrades to "nothing produced" without holding requests.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

func NewRateLimited(next Generator, requestsPerMinute int) *RateLimited {
	if requestsPerMinute <= 0 {
		return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst),
	}
}

func (r *RateLimited) Model() string {
	return r.next.Model()
}

func (r *RateLimited) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if !r.limiter.Allow() {
		return "", ErrRateLimited
	}
	return r.next.Generate(ctx, prompt)
}
