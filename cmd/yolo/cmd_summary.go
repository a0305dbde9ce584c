package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the layer table and parameter counts of a model",
	Example: `  yolo summary
  yolo summary --scale s --nc 3
  yolo summary --model custom.yaml`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	m, release, err := buildModel()
	if err != nil {
		return err
	}
	defer release()

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tfrom\tn\tparams\tmodule\targuments\t")
	for _, l := range m.Layers() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\t\n",
			l.Index, formatFrom(l.From), l.Repeats, l.Params, l.Module, formatArgs(l.Args))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = io.WriteString(out, m.Summary()+"\n")
	return err
}

func formatFrom(from []int) string {
	if len(from) == 1 {
		return fmt.Sprint(from[0])
	}
	return formatArgs(from)
}

func formatArgs[T any](args []T) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
