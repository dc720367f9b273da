package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"fx-market-data/internal/store"
	"fx-market-data/internal/stream"
	"fx-market-data/internal/supervisor"
)

// Show prints the currently cached quotes plus ingestion health, and with
// --history the recent ticks of each symbol.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	a.printHealth(ctx, st)

	keys, err := st.Scan(ctx, store.TickPrefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		fmt.Fprintln(os.Stdout, "no live quotes cached")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tBid\tAsk\tMid\tSpread\tTime (UTC)")

	ticks := make([]stream.Tick, 0, len(keys))
	for _, key := range keys {
		raw, err := st.Get(ctx, key)
		if err != nil {
			continue
		}
		tick, err := stream.DecodeTick(raw)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			tick.Symbol,
			formatDecimal(tick.Bid, 5),
			formatDecimal(tick.Ask, 5),
			formatDecimal(tick.Mid, 5),
			formatDecimal(tick.Spread, 5),
			tick.Timestamp.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()

	if opts.History > 0 {
		for _, tick := range ticks {
			if err := a.printHistory(ctx, st, tick.Symbol, opts.History); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) printHealth(ctx context.Context, st store.Store) {
	raw, err := st.Get(ctx, store.StatusKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(os.Stdout, "ingestion status: unknown (no health record)")
		}
		return
	}
	record, err := supervisor.DecodeHealthRecord(raw)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stdout, "ingestion status: %s (restarts: %d, updated %s)\n\n",
		record.Status, record.RestartCount, record.Timestamp.UTC().Format(time.RFC3339))
}

func (a *App) printHistory(ctx context.Context, st store.Store, symbol string, limit int) error {
	entries, err := st.Range(ctx, store.HistoryKey(symbol), 0, int64(limit-1))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stdout, "\n%s history (newest first):\n", symbol)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bid\tAsk\tMid\tTime (UTC)")
	for _, raw := range entries {
		tick, err := stream.DecodeTick(raw)
		if err != nil {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			formatDecimal(tick.Bid, 5),
			formatDecimal(tick.Ask, 5),
			formatDecimal(tick.Mid, 5),
			tick.Timestamp.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
