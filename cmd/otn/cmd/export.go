package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <events> <database>",
	Short: "Load an event file into a SQLite database",
	Long: `Append every event of an event file to the events table of a SQLite
database, creating it if needed.

Examples:
  otn export events.bin events.db
  sqlite3 events.db 'SELECT name, COUNT(*) FROM events GROUP BY name'`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	db, err := store.Open(args[1])
	if err != nil {
		return &ExitError{Code: ExitOutput, Err: err}
	}
	defer db.Close()

	n, err := db.Import(cmd.Context(), event.NewReader(in))
	if err != nil {
		return err
	}
	a.log.Debug("events exported", zap.String("database", args[1]), zap.Int64("events", n))
	counts, err := db.CountByKind(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Exported %d events\n", n)
	kinds := make([]event.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-24s %d\n", k, counts[k])
	}
	return nil
}
