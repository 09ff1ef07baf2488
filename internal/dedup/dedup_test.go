package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)

	d, err := NewRedisDeduper("redis://"+mr.Addr(), 0, time.Hour)
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen, "first observation should not be seen")

	seen, err = d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.True(t, seen, "second observation should be seen")

	seen, err = d.Seen(ctx, "env-2")
	require.NoError(t, err)
	assert.False(t, seen, "distinct id should not be seen")
}

func TestRedisDeduper_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)

	d, err := NewRedisDeduper("redis://"+mr.Addr(), 0, time.Minute)
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()

	_, err = d.Seen(ctx, "env-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen, "id should be forgotten after TTL")
}

func TestRedisDeduper_Forget(t *testing.T) {
	mr := miniredis.RunT(t)

	d, err := NewRedisDeduper("redis://"+mr.Addr(), 0, time.Hour)
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()

	_, err = d.Seen(ctx, "env-1")
	require.NoError(t, err)

	require.NoError(t, d.Forget(ctx, "env-1"))

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen, "released id should be accepted again")
}

func TestRedisDeduper_InvalidURL(t *testing.T) {
	_, err := NewRedisDeduper("not-a-url", 0, time.Hour)
	assert.Error(t, err)
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	defer d.Close()

	ctx := context.Background()

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryDeduper_Forget(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	defer d.Close()

	ctx := context.Background()

	_, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)

	require.NoError(t, d.Forget(ctx, "env-1"))

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen, "released id should be accepted again")
}

func TestMemoryDeduper_TTLExpiry(t *testing.T) {
	d := NewMemoryDeduper(10 * time.Millisecond)
	defer d.Close()

	ctx := context.Background()

	_, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	seen, err := d.Seen(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, seen, "id should be forgotten after TTL")
}
