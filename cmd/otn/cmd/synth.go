package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/tracescript"
)

var synthCmd = &cobra.Command{
	Use:   "synth <script> <output>",
	Short: "Build a raw capture from a trace script",
	Long: `Compile a trace script (.nts) into a raw capture file.

Example script:
  hello 1
  nand cmd 0x90
  nand addr 0x00
  nand read 0x98 0xDE 0x94 0x82 0x76 0x56 0x01 0x20

Examples:
  otn synth readid.nts capture.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runSynth,
}

func init() {
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := tracescript.NewParser()
	if err != nil {
		return err
	}
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	script, err := p.Parse(args[0], in)
	if err != nil {
		return err
	}
	b, err := tracescript.Compile(script)
	if err != nil {
		return err
	}

	out, err := createOutput(args[1])
	if err != nil {
		return err
	}
	defer closeOutput(out, &err)

	n, err := b.WriteTo(out)
	if err != nil {
		return err
	}
	a.log.Debug("script compiled",
		zap.String("script", args[0]), zap.Int("records", len(b.Records())), zap.Int64("bytes", n))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records (%d bytes)\n", len(b.Records()), n)
	return nil
}
