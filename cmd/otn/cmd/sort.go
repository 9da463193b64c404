package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/container"
)

var sortCmd = &cobra.Command{
	Use:   "sort <events> <output>",
	Short: "Sort an event file by start time and index it",
	Long: `Build an indexed container from an event file. Events are ordered by
start time; events starting together keep their original order.

Examples:
  otn sort events.bin events.idx`,
	Args: cobra.ExactArgs(2),
	RunE: runSort,
}

func init() {
	rootCmd.AddCommand(sortCmd)
}

func runSort(cmd *cobra.Command, args []string) (err error) {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := createOutput(args[1])
	if err != nil {
		return err
	}
	defer closeOutput(out, &err)

	n, err := container.Build(in, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sorted %d events\n", n)
	return nil
}
