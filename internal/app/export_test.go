package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fx-market-data/internal/snapshot"
	"fx-market-data/internal/stream"
)

func TestSnapshotTicksChronologicalOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newest := snapshot.Snapshot{
		Symbol:   "EUR-USD",
		Bid:      decimal.RequireFromString("1.0876"),
		Ask:      decimal.RequireFromString("1.0878"),
		Mid:      decimal.RequireFromString("1.0877"),
		Spread:   decimal.RequireFromString("0.0002"),
		SourceTS: base.Add(time.Minute),
	}
	oldest := snapshot.Snapshot{
		Symbol:   "EUR-USD",
		Bid:      decimal.RequireFromString("1.0874"),
		Ask:      decimal.RequireFromString("1.0876"),
		Mid:      decimal.RequireFromString("1.0875"),
		Spread:   decimal.RequireFromString("0.0002"),
		SourceTS: base,
	}

	ticks := snapshotTicks([]snapshot.Snapshot{newest, oldest})
	require.Len(t, ticks, 2)
	require.Equal(t, base, ticks[0].Timestamp)
	require.Equal(t, base.Add(time.Minute), ticks[1].Timestamp)
	require.True(t, ticks[0].Bid.Equal(oldest.Bid))
	require.True(t, ticks[1].Mid.Equal(newest.Mid))
}

func TestSnapshotTicksEmpty(t *testing.T) {
	require.Empty(t, snapshotTicks(nil))
}

func TestDownsampleTicksKeepsEndpoints(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := make([]stream.Tick, 10)
	for i := range ticks {
		ticks[i] = stream.Tick{Symbol: "EUR-USD", Timestamp: base.Add(time.Duration(i) * time.Second)}
	}

	out := downsampleTicks(ticks, 4)
	require.Len(t, out, 4)
	require.Equal(t, ticks[0].Timestamp, out[0].Timestamp)
	require.Equal(t, ticks[9].Timestamp, out[3].Timestamp)

	require.Len(t, downsampleTicks(ticks, 20), 10)
}
