package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// explainCmd issues a Query{GeneMapping} prefix lookup, printing the
// matching bindings (or the literal "<not set>" the Director's
// prefix-query handler returns when nothing matches).
var explainCmd = &cobra.Command{
	Use:   "explain PATH",
	Short: "Print the gene-mapping bindings that apply under PATH",
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

		reply, err := ask(ctx, d, message.NewQuery(path, message.QueryGeneMapping))
		if err != nil {
			return err
		}
		if reply.Kind != message.KindContent || reply.Content == nil {
			return fmt.Errorf("explain: unexpected reply %s", reply.Kind)
		}
		fmt.Println(reply.Content.Text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}
