package ratelimiting

import (
	"context"

	"golang.org/x/time/rate"
)

type RefillPerSecond int
type BurstSize int

// OutboundLimiter caps how fast the layer itself dispatches live requests,
// independent of any cooldown the server has imposed.
type OutboundLimiter struct {
	limiter *rate.Limiter
}

func NewOutboundLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) *OutboundLimiter {
	return &OutboundLimiter{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), int(burstSize)),
	}
}

func (l *OutboundLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
