package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digitaltwin/internal/gene"
	"github.com/steveyegge/digitaltwin/internal/message"
)

// configureCmd installs a prefix→gene binding, persisted by the
// Journal like an observation.
var configureCmd = &cobra.Command{
	Use:   "configure PATH KIND",
	Short: "Bind a gene kind to a path prefix (KIND: accum, gauge, gauge_and_accum)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, kindArg := args[0], args[1]
		kind, err := parseGeneKindArg(kindArg)
		if err != nil {
			return err
		}

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

		reply, err := ask(ctx, d, message.NewGeneMapping(path, kind))
		if err != nil {
			return err
		}
		switch reply.Kind {
		case message.KindPersisted:
			fmt.Printf("configured %s -> %s\n", path, kindArg)
			return nil
		case message.KindConstraintViolation:
			return fmt.Errorf("configure: conflict persisting gene mapping for %s", path)
		default:
			if reply.ActorError != nil {
				return fmt.Errorf("configure: %s", reply.ActorError.Reason)
			}
			return fmt.Errorf("configure: unexpected reply %s", reply.Kind)
		}
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

// parseGeneKindArg parses the CLI's KIND argument into a message.GeneKind
// the same way gene.ParseKind resolves the internal gene.Kind enum. Kept
// as its own small switch rather than importing a converter, following
// the duplication already established between
// internal/adapters.parseGeneKind and internal/httpapi.parseGeneType.
func parseGeneKindArg(s string) (message.GeneKind, error) {
	if _, err := gene.ParseKind(s); err != nil {
		return 0, fmt.Errorf("configure: %w", err)
	}
	switch s {
	case "gauge":
		return message.GeneGauge, nil
	case "accum":
		return message.GeneAccum, nil
	case "gauge_and_accum":
		return message.GeneGaugeAndAccum, nil
	default:
		return 0, fmt.Errorf("configure: unknown kind %q", s)
	}
}
