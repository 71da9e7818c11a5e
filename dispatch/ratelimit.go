package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/chorus/jobs/errors"
)

// ErrRateLimited is returned when RateLimitedBackend refuses a submit.
var ErrRateLimited = errors.New("dispatch rate limit exceeded")

// RateLimitedBackend sheds submits above a steady rate. Refusals are
// retryable: nothing reached the wrapped backend.
type RateLimitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

// NewRateLimitedBackend allows perSecond submits with bursts of burst.
func NewRateLimitedBackend(next Backend, perSecond float64, burst int) *RateLimitedBackend {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedBackend{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (b *RateLimitedBackend) Submit(ctx context.Context, req Request) error {
	if !b.limiter.Allow() {
		return errors.MarkRetryable(ErrRateLimited, req.Key)
	}
	return b.next.Submit(ctx, req)
}

// HandsOff forwards the wrapped backend's handoff behaviour.
func (b *RateLimitedBackend) HandsOff() bool {
	return handsOff(b.next)
}
