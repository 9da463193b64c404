package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/usbcap"
)

var (
	usbVID    uint16
	usbPID    uint16
	byteLimit int64
)

var captureCmd = &cobra.Command{
	Use:   "capture <output>",
	Short: "Record a raw capture from a USB sniffer",
	Long: `Stream the sniffer's bulk IN endpoint to a file until interrupted or the
byte limit is reached.

Examples:
  otn capture --vid 0x1d50 --pid 0x6099 capture.bin
  otn capture --vid 0x1d50 --pid 0x6099 --limit 1048576 capture.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().Uint16Var(&usbVID, "vid", 0, "USB vendor ID")
	captureCmd.Flags().Uint16Var(&usbPID, "pid", 0, "USB product ID")
	captureCmd.Flags().Int64Var(&byteLimit, "limit", 0, "stop after this many bytes (0 for no limit)")
	captureCmd.MarkFlagRequired("vid")
	captureCmd.MarkFlagRequired("pid")
}

func runCapture(cmd *cobra.Command, args []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	dev, err := usbcap.Open(usbVID, usbPID)
	if err != nil {
		return &ExitError{Code: ExitInput, Err: err}
	}
	defer dev.Close()

	out, err := createOutput(args[0])
	if err != nil {
		return err
	}
	defer closeOutput(out, &err)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a.log.Info("recording", zap.String("output", args[0]), zap.Int("packet_size", dev.PacketSize()))
	rec := usbcap.NewRecorder(dev.Endpoint(), dev.PacketSize(), a.log.Named("usbcap"))
	n, err := rec.Record(ctx, out, byteLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d bytes\n", n)
	return nil
}
