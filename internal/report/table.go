package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

var tableHeader = []string{
	"Epochs", "Batch Size", "Mean (ms)", "Std (ms)", "P95 (ms)", "P99 (ms)", "Throughput (/s)", "Accuracy",
}

// WriteTable renders the summary table.
func WriteTable(w io.Writer, rows []Row) {
	fmt.Fprintln(w, "\nBenchmark summary")

	table := tablewriter.NewWriter(w)
	table.SetHeader(tableHeader)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.Epochs),
			strconv.Itoa(r.BatchSize),
			fmt.Sprintf("%.3f", r.MeanMs),
			fmt.Sprintf("%.3f", r.StdMs),
			fmt.Sprintf("%.3f", r.P95Ms),
			fmt.Sprintf("%.3f", r.P99Ms),
			fmt.Sprintf("%.1f", r.Throughput),
			fmt.Sprintf("%.4f", r.Accuracy),
		})
	}
	table.Render()
}
