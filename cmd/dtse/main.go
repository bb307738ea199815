// Command dtse is the CLI surface over the Director+Journal+StateActor
// core: update, inspect, explain, configure, serve, and completions.
// Grounded on the teacher's cmd/bd/main.go root-command idiom (a
// package-level rootCmd, PersistentFlags for cross-cutting concerns,
// a signal-aware rootCtx/rootCancel pair built in PersistentPreRun) and
// internal/config for flag/env/file precedence, scaled down from bd's
// hundred-plus subcommands to the six this system's spec names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digitaltwin/internal/config"
	"github.com/steveyegge/digitaltwin/internal/director"
	"github.com/steveyegge/digitaltwin/internal/journal"
	"github.com/steveyegge/digitaltwin/internal/message"
	"github.com/steveyegge/digitaltwin/internal/sink"
	"github.com/steveyegge/digitaltwin/internal/telemetry"
)

var (
	namespace        string
	disableWAL       bool
	disableDupDetect bool
	bufSize          int
	verboseFlag      bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "dtse",
	Short: "dtse - digital-twin state engine",
	Long:  `dtse maintains per-entity aggregate state from a stream of timestamped observations, journaling every accepted observation so any entity's state can be deterministically replayed from its history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if err := config.Initialize(); err != nil {
			fmt.Fprintf(os.Stderr, "dtse: warning: failed to initialize config: %v\n", err)
		}
		syncGlobalFlagsFromConfig(cmd)
		if verboseFlag {
			reportOverrides(cmd, map[string]interface{}{
				"namespace":                   namespace,
				"disable-wal":                 disableWAL,
				"disable-duplicate-detection": disableDupDetect,
				"bufsize":                     bufSize,
			})
		}
		return nil
	},
}

func init() {
	lc := loadLocalConfig()
	defaultNamespace := "actors"
	if lc.Namespace != "" {
		defaultNamespace = lc.Namespace
	}

	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", defaultNamespace, "namespace whose <namespace>.db backs the journal")
	rootCmd.PersistentFlags().BoolVar(&disableWAL, "disable-wal", lc.DisableWAL, "don't set PRAGMA journal_mode = WAL on open")
	rootCmd.PersistentFlags().BoolVar(&disableDupDetect, "disable-duplicate-detection", false, "key journal records by sequence_time instead of observation_time")
	rootCmd.PersistentFlags().IntVarP(&bufSize, "bufsize", "b", 8, "mailbox capacity for the Director and each StateActor")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "report which config layer supplied each effective flag value")
}

// syncGlobalFlagsFromConfig applies internal/config's flags > env/file >
// defaults precedence to the persistent flags: a flag the user didn't
// explicitly set yields to whatever config.Initialize loaded from
// DTSE_-prefixed env vars or a project-local .dtse/config.{toml,yaml}.
func syncGlobalFlagsFromConfig(cmd *cobra.Command) {
	if !cmd.Flags().Changed("namespace") {
		namespace = config.GetString("namespace")
	}
	if !cmd.Flags().Changed("disable-wal") {
		disableWAL = config.GetBool("disable-wal")
	}
	if !cmd.Flags().Changed("disable-duplicate-detection") {
		disableDupDetect = config.GetBool("disable-duplicate-detection")
	}
	if !cmd.Flags().Changed("bufsize") {
		bufSize = config.GetInt("mailbox-capacity")
	}
}

// reportOverrides prints, under --verbose, which flags the caller set
// explicitly took precedence over a config-file or env-var value, using
// config.GetValueSource / config.CheckOverrides to tell the two apart.
func reportOverrides(cmd *cobra.Command, values map[string]interface{}) {
	overrides := make(map[string]config.FlagOverride, len(values))
	for key, val := range values {
		overrides[key] = config.FlagOverride{Value: val, WasSet: cmd.Flags().Changed(key)}
	}
	for _, o := range config.CheckOverrides(overrides) {
		fmt.Fprintf(os.Stderr, "dtse: --%s=%v overrides %s value\n", o.Key, o.Value, config.GetValueSource(o.Key))
	}
}

// dbPath is the namespace database file, "<namespace>.db", in the
// process working directory.
func dbPath() string {
	return namespace + ".db"
}

// openJournal opens the namespace database with the process's
// duplicate-detection/WAL flags applied.
func openJournal(ctx context.Context, memoryOnly bool) (*journal.Journal, error) {
	return journal.Open(ctx, dbPath(), journal.Options{
		DisableWAL:                disableWAL,
		DisableDuplicateDetection: disableDupDetect,
		MemoryOnly:                memoryOnly,
	})
}

// newDirector builds and starts a Director over store/out, replaying
// persisted gene mappings before returning.
func newDirector(ctx context.Context, store director.Store, out sink.Sink) (*director.Director, error) {
	d := director.New(store, out, bufSize)
	if err := d.Start(ctx); err != nil {
		return nil, fmt.Errorf("dtse: start director: %w", err)
	}
	return d, nil
}

// ask sends msg to d and waits for its reply, bounded by a generous
// request timeout — the CLI is not the Director's normal high-throughput
// caller, so this intentionally differs from httpapi's shorter timeout.
func ask(ctx context.Context, d *director.Director, msg message.Message) (message.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reply := make(chan message.Envelope, 1)
	env := message.Envelope{Message: msg, RespondTo: reply, SequenceTime: time.Now().UTC()}
	if err := d.Send(ctx, env); err != nil {
		return message.Message{}, err
	}
	select {
	case r := <-reply:
		return r.Message, nil
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

func main() {
	shutdown, err := telemetry.Init(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "dtse: warning: telemetry init failed: %v\n", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if rootCancel != nil {
			rootCancel()
		}
		os.Exit(1)
	}
	if rootCancel != nil {
		rootCancel()
	}
}
