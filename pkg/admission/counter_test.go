package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCounter(func() time.Time { return now })

	n, err := c.Incr(ctx, "k", 70*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = c.Incr(ctx, "k", 70*time.Second)
	assert.Equal(t, int64(2), n)

	now = now.Add(71 * time.Second)
	got, _ := c.Get(ctx, "k")
	assert.Equal(t, int64(0), got)

	c.sweep()
	assert.Equal(t, 0, c.Len())

	n, _ = c.Incr(ctx, "k", 70*time.Second)
	assert.Equal(t, int64(1), n)
}
