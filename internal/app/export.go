package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fx-market-data/internal/snapshot"
	"fx-market-data/internal/store"
	"fx-market-data/internal/stream"
)

// Export renders the cached tick history of one symbol as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.Range(ctx, store.HistoryKey(opts.Symbol), 0, -1)
	if err != nil {
		return err
	}

	// History is stored newest first; flip to chronological order.
	ticks := make([]stream.Tick, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		tick, err := stream.DecodeTick(entries[i])
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}

	// The cache only covers the freshness window. When it is empty, fall
	// back to the durable snapshots if persistence is enabled.
	if len(ticks) == 0 && a.Config.Database.Enabled {
		ticks, err = a.snapshotHistory(ctx, opts.Symbol, opts.MaxPoints)
		if err != nil {
			return err
		}
	}
	if len(ticks) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no ticks available for symbol")
		return nil
	}

	downsampled := downsampleTicks(ticks, opts.MaxPoints)
	a.Logger.Info().Int("total", len(ticks)).Int("exported", len(downsampled)).Msg("exporting ticks")

	if opts.CSVPath != "" {
		if err := writeTicksCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTicksPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) snapshotHistory(ctx context.Context, symbol string, limit int) ([]stream.Tick, error) {
	pool, err := snapshot.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	snapStore := snapshot.NewStore(pool)
	defer snapStore.Close()

	snaps, err := snapStore.ListRecent(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	return snapshotTicks(snaps), nil
}

// snapshotTicks converts newest-first snapshot rows into chronological ticks.
func snapshotTicks(snaps []snapshot.Snapshot) []stream.Tick {
	ticks := make([]stream.Tick, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		snap := snaps[i]
		ticks = append(ticks, stream.Tick{
			Symbol:    snap.Symbol,
			Bid:       snap.Bid,
			Ask:       snap.Ask,
			Mid:       snap.Mid,
			Spread:    snap.Spread,
			Timestamp: snap.SourceTS,
		})
	}
	return ticks
}

func downsampleTicks(ticks []stream.Tick, max int) []stream.Tick {
	if max <= 0 || len(ticks) <= max {
		return ticks
	}

	result := make([]stream.Tick, 0, max)
	step := float64(len(ticks)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(ticks) {
			idx = len(ticks) - 1
		}
		result = append(result, ticks[idx])
	}
	return result
}

func writeTicksCSV(path string, ticks []stream.Tick) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "symbol", "bid", "ask", "mid", "spread"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, tick := range ticks {
		record := []string{
			tick.Timestamp.UTC().Format(time.RFC3339),
			tick.Symbol,
			tick.Bid.String(),
			tick.Ask.String(),
			tick.Mid.String(),
			tick.Spread.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTicksPNG(path, symbol string, ticks []stream.Tick) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(ticks))
	bid := make([]float64, len(ticks))
	ask := make([]float64, len(ticks))
	spread := make([]float64, len(ticks))

	for i, tick := range ticks {
		x[i] = tick.Timestamp
		bid[i] = tick.Bid.InexactFloat64()
		ask[i] = tick.Ask.InexactFloat64()
		spread[i] = tick.Spread.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.5f")
	}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Spread",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Bid",
				XValues: x,
				YValues: bid,
			},
			chart.TimeSeries{
				Name:    "Ask",
				XValues: x,
				YValues: ask,
			},
			chart.TimeSeries{
				Name:    "Spread",
				XValues: x,
				YValues: spread,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
