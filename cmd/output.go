package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/app"
	"github.com/tradesolutions39/stock-dashboard/internal/historical"
	"github.com/tradesolutions39/stock-dashboard/internal/recorder"
	"github.com/tradesolutions39/stock-dashboard/internal/scanner"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

var bucketTitles = map[scanner.Bucket]string{
	scanner.Strong:       "Strong Delivery",
	scanner.Accumulation: "Accumulation",
	scanner.Weak:         "Weak / Speculative",
}

func decimalFlag(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func formatDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func printScan(out io.Writer, res scanner.Result, only string, limit int) error {
	buckets := scanner.Buckets
	if only != "" {
		b, err := scanner.ParseBucket(only)
		if err != nil {
			return err
		}
		buckets = []scanner.Bucket{b}
	}

	for i, b := range buckets {
		rows := res[b]
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%d)\n", bucketTitles[b], len(rows))
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		printRecords(out, rows)
	}
	return nil
}

func printRecords(out io.Writer, rows []schema.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tCLOSE\tDELIVERY %")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Symbol, formatDecimal(r.ClosePrice, 2), formatDecimal(r.DeliveryPercent, 2))
	}
	w.Flush()
}

func printTop(out io.Writer, ranked []historical.Ranked, window, limit int) {
	fmt.Fprintf(out, "Top symbols by %d-day average delivery (%d)\n", window, len(ranked))
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSYMBOL\tAVG DELIVERY %\tDAYS")
	for i, r := range ranked {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, r.Symbol, r.AvgDeliveryPercent.StringFixed(2), r.Days)
	}
	w.Flush()
}

func printShow(out io.Writer, v *app.SymbolView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Symbol\t%s\n", v.Symbol)
	if v.Snapshot != nil {
		fmt.Fprintf(w, "Today close\t%s\n", formatDecimal(v.Snapshot.ClosePrice, 2))
		fmt.Fprintf(w, "Today delivery %%\t%s\n", formatDecimal(v.Snapshot.DeliveryPercent, 2))
	}
	if v.Latest != nil {
		fmt.Fprintf(w, "Last archived\t%s\n", schema.FormatDate(v.Latest.TradeDate))
	}
	if v.Average != nil {
		fmt.Fprintf(w, "%d-day avg delivery %%\t%s\n", v.Window, formatDecimal(v.Average.DeliveryPercent, 2))
		fmt.Fprintf(w, "%d-day avg close\t%s\n", v.Window, formatDecimal(v.Average.ClosePrice, 2))
		fmt.Fprintf(w, "Trading days\t%d (%s to %s)\n", v.Average.Days,
			v.Average.From.Format(schema.DateLayout), v.Average.To.Format(schema.DateLayout))
	}
	w.Flush()
}

func printRuns(out io.Writer, runs []recorder.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tSTATUS\tTRADE DATE\tROWS\tNEW\tUPDATED\tTOOK\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			humanize.Time(r.StartedAt), r.Kind, r.Status, r.TradeDate,
			r.Rows, r.Inserted, r.Updated, r.Duration().Round(time.Millisecond), r.Error)
	}
	w.Flush()
}
