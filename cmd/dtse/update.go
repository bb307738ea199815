package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digitaltwin/internal/adapters"
	"github.com/steveyegge/digitaltwin/internal/config"
	"github.com/steveyegge/digitaltwin/internal/sink"
)

var (
	silentFlag     bool
	memoryOnlyFlag bool
)

// updateCmd reads newline-delimited Content from stdin, routes it
// through the Director, journals what applies, and prints each
// StateReport to stdout until EOF.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Read observations from stdin and apply them to their actors",
	Long:  `Read newline-delimited JSON from stdin, route each line to the Director as a GeneMapping envelope if it contains "gene_type" and as an Observations envelope otherwise, and print the resulting StateReports. Sends EndOfStream on EOF.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("silent") {
			silentFlag = config.GetBool("silent")
		}
		if !cmd.Flags().Changed("memory-only") {
			memoryOnlyFlag = config.GetBool("memory-only")
		}

		ctx := rootCtx
		j, err := openJournal(ctx, memoryOnlyFlag)
		if err != nil {
			return err
		}
		defer j.Close()

		var out sink.Sink
		if !silentFlag {
			out = &adapters.StdoutSink{Writer: os.Stdout}
		}

		d, err := newDirector(ctx, j, out)
		if err != nil {
			return err
		}
		defer d.Stop()

		decoder := &adapters.Decoder{Next: d}
		return adapters.RunStdin(ctx, os.Stdin, decoder, 0)
	},
}

func init() {
	updateCmd.Flags().BoolVar(&silentFlag, "silent", false, "suppress StateReport output")
	updateCmd.Flags().BoolVar(&memoryOnlyFlag, "memory-only", false, "use an in-memory journal instead of <namespace>.db")
	rootCmd.AddCommand(updateCmd)
}
