package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_AllowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "cred-1")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, allowed, "call over the limit should be denied")
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalLimiter(1, time.Minute)

	allowed, err := limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "cred-2")
	require.NoError(t, err)
	assert.True(t, allowed, "a different key has its own window")
}

func TestLocalLimiter_WindowResets(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalLimiter(1, 20*time.Millisecond)

	allowed, err := limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(25 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, allowed, "a fresh window allows calls again")
}

func TestUnlimited(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		allowed, err := Unlimited{}.Allow(ctx, "any")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}
