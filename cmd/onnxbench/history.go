package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/born-ml/onnxbench/internal/config"
	"github.com/born-ml/onnxbench/internal/history"
	"github.com/born-ml/onnxbench/internal/report"
)

func newHistoryCmd() *cobra.Command {
	var (
		outDir string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous benchmark runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listHistory(cmd.OutOrStdout(), filepath.Join(outDir, historyDir), limit)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", config.Default().OutDir, "output directory used by run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show, 0 for all")
	return cmd
}

func listHistory(w io.Writer, path string, limit int) error {
	store, err := history.OpenReadOnly(path)
	if errors.Is(err, history.ErrNoHistory) {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, run := range runs {
		env := run.Environment
		fmt.Fprintf(w, "\n%s  dataset=%s device=%s cpu=%q failed=%d/%d\n",
			env.Timestamp.Local().Format(time.DateTime), run.Dataset, env.Device, env.CPU, run.Failed, run.Points)
		report.WriteTable(w, run.Rows)
	}
	return nil
}
