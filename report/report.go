// Package report renders crawl results for the terminal and writes the local
// backup copy of a run.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"interp-crawler/models"
)

// maxErrorWidth truncates long failure messages in the failed-task table.
const maxErrorWidth = 80

// Summary writes the counters of one pipeline run followed by its
// terminally failed tasks, if any.
func Summary(w io.Writer, pipeline string, stats *models.CrawlStats) {
	if stats == nil {
		fmt.Fprintf(w, "%s: no results\n", pipeline)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Crawl summary: %s", pipeline))
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Pages fetched", stats.PagesFetched},
		{"Pages failed", stats.PagesFailed},
		{"Retries", stats.Retries},
		{"Records", stats.Records},
		{"Batches flushed", stats.BatchesFlushed},
		{"Batches failed", stats.BatchesFailed},
		{"Duration", stats.Duration.Round(time.Millisecond)},
		{"Rate", formatRate(stats.PagesFetched, stats.Duration)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()

	if len(stats.Failed) > 0 {
		FailedTasks(w, stats.Failed)
	}
}

// FailedTasks writes the error report of a run.
func FailedTasks(w io.Writer, failed []models.FailedTask) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Failed tasks")
	t.AppendHeader(table.Row{"#", "Type", "URL", "Attempts", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: maxErrorWidth},
	})
	for i, f := range failed {
		t.AppendRow(table.Row{i + 1, f.Task.Type, f.Task.URL, f.Task.Attempts, f.Error})
	}
	t.AppendFooter(table.Row{"Total", len(failed)})
	t.Render()
}

func formatRate(pages int, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f pages/s", float64(pages)/d.Seconds())
}
