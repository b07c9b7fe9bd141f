package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tturner/dcpf/internal/metrics"
)

// MetricsReportOptions lists the metrics CSV files to summarize.
type MetricsReportOptions struct {
	Files []string
	Out   io.Writer
}

// RunMetricsReport reads metrics CSVs written by query --metrics-csv and
// prints each file's time range followed by a summary over all records.
// Unreadable files are reported and skipped.
func RunMetricsReport(opts MetricsReportOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	sink := metrics.NewSink()
	loaded := 0
	for _, f := range opts.Files {
		records, first, last, err := metrics.ReadMetricsCSV(f)
		if err != nil {
			renderStatus(out, false, fmt.Sprintf("%s: %v", filepath.Base(f), err))
			continue
		}
		loaded++
		for _, m := range records {
			sink.Record(m)
		}
		renderBlock(out, filepath.Base(f), []row{
			{"records", fmt.Sprintf("%d", len(records))},
			{"first", formatTime(first)},
			{"last", formatTime(last)},
			{"span", last.Sub(first).Round(time.Millisecond).String()},
		})
	}
	if loaded == 0 {
		return fmt.Errorf("no readable metrics files among %d given", len(opts.Files))
	}

	renderSummary(out, sink)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
