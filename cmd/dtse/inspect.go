package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digitaltwin/internal/adapters"
	"github.com/steveyegge/digitaltwin/internal/message"
)

// inspectCmd issues a Query{State} against PATH's actor, printing the
// resulting StateReport.
var inspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "Print an entity's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		ctx := rootCtx

		j, err := openJournal(ctx, false)
		if err != nil {
			return err
		}
		defer j.Close()

		d, err := newDirector(ctx, j, nil)
		if err != nil {
			return err
		}
		defer d.Stop()

		reply, err := ask(ctx, d, message.NewQuery(path, message.QueryState))
		if err != nil {
			return err
		}
		switch reply.Kind {
		case message.KindStateReport:
			if reply.StateReport == nil || len(reply.StateReport.Values) == 0 {
				fmt.Printf("no state for %s\n", path)
				return nil
			}
			printStateReport(reply.StateReport)
		case message.KindNotFound:
			fmt.Printf("no state for %s\n", path)
		default:
			return fmt.Errorf("inspect: unexpected reply %s", reply.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// printStateReport prints a StateReport in the same sorted
// "index=value" form adapters.StdoutSink uses, so `inspect` and
// `update`'s live output read the same way.
func printStateReport(sr *message.StateReportPayload) {
	if sr == nil {
		return
	}
	indices := make([]int32, 0, len(sr.Values))
	for idx := range sr.Values {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	fmt.Printf("%s %s ", sr.Path, sr.DateTime.Format(adapters.DatetimeLayout))
	for i, idx := range indices {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Printf("%d=%v", idx, sr.Values[idx])
	}
	fmt.Println()
}
