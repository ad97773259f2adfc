package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited(t *testing.T) {
	lim := Unlimited()
	for i := 0; i < 100; i++ {
		require.NoError(t, lim.Wait(context.Background(), "data.example"))
	}
}

// TestLocal_BurstThenBlock allows the burst immediately and blocks once the
// bucket is empty.
func TestLocal_BurstThenBlock(t *testing.T) {
	lim := NewLocal(0.001, 2)

	start := time.Now()
	require.NoError(t, lim.Wait(context.Background(), "data.example"))
	require.NoError(t, lim.Wait(context.Background(), "data.example"))
	assert.Less(t, time.Since(start), time.Second, "burst is not throttled")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, lim.Wait(ctx, "data.example"), "empty bucket blocks until ctx expires")
}

// TestLocal_PerHostBuckets keeps hosts independent: exhausting one does not
// throttle another.
func TestLocal_PerHostBuckets(t *testing.T) {
	lim := NewLocal(0.001, 1)
	require.NoError(t, lim.Wait(context.Background(), "a.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, lim.Wait(ctx, "a.example"))

	require.NoError(t, lim.Wait(context.Background(), "b.example"))
}

func TestLocal_MinimumBurst(t *testing.T) {
	lim := NewLocal(1, 0)
	require.NoError(t, lim.Wait(context.Background(), "data.example"))
}
