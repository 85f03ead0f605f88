// Package ratelimit throttles connection attempts per remote IP.
package ratelimit

import (
	"context"
	"fmt"
	"net"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/logging"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/metrics"
)

// ConnLimiter bounds how often a single IP may open a chat connection.
// State lives in process memory; each server instance enforces its own
// budget.
type ConnLimiter struct {
	limiter *limiter.Limiter
	enabled bool
}

// NewConnLimiter creates a ConnLimiter from a ulule-formatted rate such as
// "30-M" (30 per minute). Disabled limiters admit everything; dev mode runs
// disabled so local loops are not throttled.
func NewConnLimiter(rate string, enabled bool) (*ConnLimiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate: %w", err)
	}
	return &ConnLimiter{
		limiter: limiter.New(memory.NewStore(), parsed),
		enabled: enabled,
	}, nil
}

// Allow records a connection attempt from remoteAddr and reports whether it
// is within budget. Unparseable addresses are admitted; the limiter fails
// open on its own errors as well.
func (cl *ConnLimiter) Allow(ctx context.Context, remoteAddr string) bool {
	if cl == nil || !cl.enabled {
		return true
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	lctx, err := cl.limiter.Get(ctx, host)
	if err != nil {
		logging.Warn(ctx, "Rate limiter store error, admitting connection", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RejectedConnections.WithLabelValues("rate_limit").Inc()
		logging.Warn(ctx, "Connection rate limit reached", zap.String("ip", host))
		return false
	}
	return true
}
