package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/container"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/store"
)

var (
	unscramble   bool
	inspectLimit int
	rangeFrom    string
	rangeTo      string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump captures, event files and containers as text",
}

var inspectCaptureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Print every record of a raw capture",
	Long: `Print every record of a raw capture, one per line.

Examples:
  otn inspect capture capture.bin
  otn inspect capture --unscramble --limit 100 capture.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectCapture,
}

var inspectEventsCmd = &cobra.Command{
	Use:   "events <file>",
	Short: "Print every event of an event file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectEvents,
}

var inspectContainerCmd = &cobra.Command{
	Use:   "container <file>",
	Short: "Print the index and events of a sorted container",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectContainer,
}

var inspectDatabaseCmd = &cobra.Command{
	Use:   "database <file>",
	Short: "Print the exported events starting in a time range",
	Long: `Print the events of a database written by export whose start time lies
in [--from, --to), ordered by start time. Times are seconds with an optional
nanosecond fraction, as printed by the other inspect commands.

Examples:
  otn inspect database events.db
  otn inspect database --from 12.5 --to 13 events.db`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectDatabase,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(inspectCaptureCmd, inspectEventsCmd, inspectContainerCmd, inspectDatabaseCmd)

	inspectCmd.PersistentFlags().IntVarP(&inspectLimit, "limit", "n", 0,
		"stop after this many entries (0 for all)")
	inspectCaptureCmd.Flags().BoolVarP(&unscramble, "unscramble", "u", false,
		"undo the sniffer's NAND data bit order")
	inspectDatabaseCmd.Flags().StringVar(&rangeFrom, "from", "0", "first start time to include")
	inspectDatabaseCmd.Flags().StringVar(&rangeTo, "to", "", "start time to stop at (default: end of capture)")
}

func limitReached(n int) bool { return inspectLimit > 0 && n >= inspectLimit }

func runInspectCapture(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	w := cmd.OutOrStdout()
	r := capture.NewReader(in, nil)
	for n := 0; !limitReached(n); n++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %-15s %s\n", rec.Time, rec.Kind, describeRecord(rec, unscramble))
	}
	if r.Truncated() {
		fmt.Fprintf(w, "# truncated after %d records\n", r.Count())
	}
	return nil
}

func describeRecord(rec capture.Record, unscramble bool) string {
	var (
		s   string
		err error
	)
	switch rec.Kind {
	case capture.KindNandCycle:
		var c nand.Cycle
		if c, err = rec.NandCycle(); err == nil {
			if unscramble {
				c.Data = nand.Unscramble(c.Data)
			}
			s = fmt.Sprintf("%02x [%s]", c.Data, c.Control)
		}
	case capture.KindError:
		var e capture.ErrorReport
		if e, err = rec.Error(); err == nil {
			s = fmt.Sprintf("subsystem=%d code=%d arg=%d %q", e.Subsystem, e.Code, e.Arg, e.Message)
		}
	case capture.KindCommand:
		var c capture.Command
		if c, err = rec.Command(); err == nil {
			s = fmt.Sprintf("%s cmd=%s arg=0x%08x", mark(c.StartStop), c.Name(), c.Arg)
		}
	case capture.KindSdCmdArg:
		var a capture.SdCmdArg
		if a, err = rec.SdCmdArg(); err == nil {
			s = fmt.Sprintf("reg=%d val=%02x", a.Reg, a.Val)
		}
	case capture.KindSdResponse:
		var b byte
		if b, err = rec.SdResponse(); err == nil {
			s = fmt.Sprintf("%02x", b)
		}
	case capture.KindBufferOffset:
		var o capture.BufferOffset
		if o, err = rec.BufferOffset(); err == nil {
			s = fmt.Sprintf("number=%d offset=%d", o.Number, o.Offset)
		}
	case capture.KindBufferDrain:
		var m uint8
		if m, err = rec.StartStop(); err == nil {
			s = mark(m)
		}
	case capture.KindHello, capture.KindReset:
		var v uint8
		if v, err = rec.Version(); err == nil {
			s = fmt.Sprintf("version=%d", v)
		}
	default:
		s = fmt.Sprintf("%d bytes", len(rec.Payload))
	}
	if err != nil {
		return fmt.Sprintf("malformed: %v", err)
	}
	return s
}

func mark(m uint8) string {
	switch m {
	case capture.Start:
		return "start"
	case capture.Stop:
		return "stop"
	}
	return fmt.Sprintf("mark(%d)", m)
}

func runInspectEvents(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	w := cmd.OutOrStdout()
	r := event.NewReader(in)
	for n := 0; !limitReached(n); n++ {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, ev)
	}
	return nil
}

func runInspectContainer(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	c, err := container.Read(in)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# %d events\n", c.Len())
	for i, off := range c.Offsets {
		if limitReached(i) {
			break
		}
		ev, err := c.Event(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%08x %s\n", off, ev)
	}
	return nil
}

func runInspectDatabase(cmd *cobra.Command, args []string) error {
	from, err := capture.ParseTimestamp(rangeFrom)
	if err != nil {
		return err
	}
	to := capture.MaxTimestamp
	if rangeTo != "" {
		if to, err = capture.ParseTimestamp(rangeTo); err != nil {
			return err
		}
	}
	// Opening would create a missing database.
	if _, err := os.Stat(args[0]); err != nil {
		return &ExitError{Code: ExitInput, Err: fmt.Errorf("open input: %w", err)}
	}
	db, err := store.Open(args[0])
	if err != nil {
		return &ExitError{Code: ExitInput, Err: err}
	}
	defer db.Close()

	rows, err := db.Between(cmd.Context(), from, to)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for i, r := range rows {
		if limitReached(i) {
			break
		}
		ev, err := r.Event()
		if err != nil {
			return fmt.Errorf("event %d: %w", r.ID, err)
		}
		fmt.Fprintf(w, "%6d %s\n", r.ID, ev)
	}
	return nil
}
