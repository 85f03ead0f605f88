package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnLimiterRejectsBadRate(t *testing.T) {
	_, err := NewConnLimiter("not-a-rate", true)
	assert.Error(t, err)
}

func TestAllowWithinBudget(t *testing.T) {
	cl, err := NewConnLimiter("3-M", true)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, cl.Allow(ctx, "10.0.0.1:4000"), "attempt %d should be admitted", i+1)
	}
	assert.False(t, cl.Allow(ctx, "10.0.0.1:4001"), "attempt over budget should be rejected")
}

func TestAllowIsPerIP(t *testing.T) {
	cl, err := NewConnLimiter("1-M", true)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, cl.Allow(ctx, "10.0.0.1:1"))
	assert.False(t, cl.Allow(ctx, "10.0.0.1:2"))
	// A different IP has its own budget.
	assert.True(t, cl.Allow(ctx, "10.0.0.2:1"))
}

func TestAllowDisabled(t *testing.T) {
	cl, err := NewConnLimiter("1-M", false)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		assert.True(t, cl.Allow(ctx, "10.0.0.1:1"))
	}
}

func TestAllowNilLimiter(t *testing.T) {
	var cl *ConnLimiter
	assert.True(t, cl.Allow(context.Background(), "10.0.0.1:1"))
}

func TestAllowUnparseableAddr(t *testing.T) {
	cl, err := NewConnLimiter("1-M", true)
	require.NoError(t, err)

	// Bare hosts still count against a bucket.
	assert.True(t, cl.Allow(context.Background(), "weird-address"))
	assert.False(t, cl.Allow(context.Background(), "weird-address"))
}
