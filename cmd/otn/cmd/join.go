package cmd

import (
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/pipeline"
)

var joinCmd = &cobra.Command{
	Use:   "join <input> <output>",
	Short: "Re-join a capture across buffer overflows without decoding it",
	Long: `Write a copy of the capture with repeated cycles removed and timestamps
corrected after every sniffer buffer overflow.

Examples:
  otn join capture.bin joined.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) (err error) {
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

	if err := s.Join(cmd.Context(), in, out); err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), s.Stats())
	return nil
}
