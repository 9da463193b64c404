package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/pipeline"
)

var groupCmd = &cobra.Command{
	Use:   "group <input> <output>",
	Short: "Decode a raw capture into protocol events",
	Long: `Read a raw sniffer capture, re-join it across buffer overflows and decode
NAND, SD and host command traffic into an event file.

Examples:
  otn group capture.bin events.bin
  otn group --log-level debug capture.bin events.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runGroup,
}

func init() {
	rootCmd.AddCommand(groupCmd)
}

func runGroup(cmd *cobra.Command, args []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	opts, err := a.cfg.Pipeline(a.log)
	if err != nil {
		return err
	}
	s, err := pipeline.NewSession(opts)
	if err != nil {
		return err
	}

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

	if err := s.Run(cmd.Context(), in, out); err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), s.Stats())
	return nil
}

func printStats(w io.Writer, st pipeline.Stats) {
	fmt.Fprintf(w, "Records:      %d\n", st.Records)
	if st.Truncated {
		fmt.Fprintf(w, "              (input truncated)\n")
	}
	if st.Events > 0 || st.Decoder.Fallbacks > 0 {
		fmt.Fprintf(w, "Events:       %d\n", st.Events)
		fmt.Fprintf(w, "Fallbacks:    %d\n", st.Decoder.Fallbacks)
		fmt.Fprintf(w, "Anomalies:    %d\n", st.Decoder.Anomalies)
	}
	fmt.Fprintf(w, "Overflows:    %d\n", st.Joiner.Overflows)
	fmt.Fprintf(w, "Joins:        %d (%d failed)\n", st.Joiner.Joins, st.Joiner.JoinFailures)
	fmt.Fprintf(w, "Duplicates:   %d cycles, %d records\n", st.Joiner.Duplicates, st.Joiner.DuplicateRecords)
}
