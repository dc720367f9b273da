package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "fx:EUR-USD", "payload", 0))
	value, err := m.Get(ctx, "fx:EUR-USD")
	require.NoError(t, err)
	require.Equal(t, "payload", value)

	require.NoError(t, m.Delete(ctx, "fx:EUR-USD"))
	_, err = m.Get(ctx, "fx:EUR-USD")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return current })

	require.NoError(t, m.Set(ctx, "fx:EUR-USD", "payload", 30*time.Second))

	value, err := m.Get(ctx, "fx:EUR-USD")
	require.NoError(t, err)
	require.Equal(t, "payload", value)

	current = current.Add(29 * time.Second)
	_, err = m.Get(ctx, "fx:EUR-USD")
	require.NoError(t, err)

	current = current.Add(time.Second)
	_, err = m.Get(ctx, "fx:EUR-USD")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryScanSkipsExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return current })

	require.NoError(t, m.Set(ctx, "fx:EUR-USD", "a", 10*time.Second))
	require.NoError(t, m.Set(ctx, "fx:GBP-USD", "b", time.Minute))
	require.NoError(t, m.Set(ctx, "ticks:EUR-USD", "c", time.Minute))

	current = current.Add(30 * time.Second)

	keys, err := m.Scan(ctx, "fx:")
	require.NoError(t, err)
	require.Equal(t, []string{"fx:GBP-USD"}, keys)
}

func TestMemoryPushTrimBounds(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.PushTrim(ctx, "ticks:EUR-USD", string(rune('a'+i)), 3, time.Minute))
	}

	entries, err := m.Range(ctx, "ticks:EUR-USD", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d", "c"}, entries)

	// Newest entry first, partial range.
	entries, err = m.Range(ctx, "ticks:EUR-USD", 0, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d"}, entries)
}

func TestMemoryRangeNegativeIndices(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.PushTrim(ctx, "ticks:EUR-USD", string(rune('a'+i)), 10, time.Minute))
	}

	// LRANGE semantics: negative indices count back from the tail.
	entries, err := m.Range(ctx, "ticks:EUR-USD", -2, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, entries)

	entries, err = m.Range(ctx, "ticks:EUR-USD", -100, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d", "c", "b", "a"}, entries)

	entries, err = m.Range(ctx, "ticks:EUR-USD", 3, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMemoryListExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return current })

	require.NoError(t, m.PushTrim(ctx, "ticks:EUR-USD", "a", 10, 30*time.Second))

	current = current.Add(time.Minute)
	entries, err := m.Range(ctx, "ticks:EUR-USD", 0, -1)
	require.NoError(t, err)
	require.Empty(t, entries)
}
