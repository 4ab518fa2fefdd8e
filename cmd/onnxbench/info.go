package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/born-ml/born/onnx"
	"github.com/spf13/cobra"

	"github.com/born-ml/onnxbench/internal/costmodel"
	"github.com/born-ml/onnxbench/internal/onnxexport"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "info <model.onnx>",
		Short: "Describe an ONNX model and estimate its per-operator cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			if err != nil {
				return err
			}
			return describeModel(cmd.OutOrStdout(), logger, args[0], batch)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 1, "batch size bound to symbolic dimensions for the cost estimate")
	return cmd
}

func describeModel(w io.Writer, logger *slog.Logger, path string, batch int) error {
	info, err := onnx.GetModelInfo(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	fmt.Fprintf(w, "Model:    %s\n", path)
	fmt.Fprintf(w, "Producer: %s %s\n", info.ProducerName, info.ProducerVersion)
	fmt.Fprintf(w, "IR:       %d\n", info.IRVersion)
	fmt.Fprintf(w, "Opset:    %d\n", info.OpsetVersion)
	fmt.Fprintf(w, "Inputs:   %s\n", strings.Join(info.InputNames, ", "))
	fmt.Fprintf(w, "Outputs:  %s\n", strings.Join(info.OutputNames, ", "))
	fmt.Fprintf(w, "Nodes:    %d\n", info.NodeCount)
	fmt.Fprintf(w, "Weights:  %d\n\n", info.WeightCount)

	m, err := onnxexport.ParseFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, onnxexport.Tree(m.Graph).String())

	est, err := costmodel.EstimateGraph(m.Graph, batch)
	if err != nil {
		logger.Warn("cost estimate unavailable", slog.Any("err", err))
		return nil
	}
	fmt.Fprintf(w, "Estimated cost (batch %d):\n", batch)
	return est.WriteProfile(w)
}
