package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/digitaltwin/internal/config"
	"github.com/steveyegge/digitaltwin/internal/httpapi"
)

var (
	portFlag         int
	interfaceFlag    string
	externalHostFlag string
	uipathFlag       string
	disableUIFlag    bool
)

// serveCmd starts the HTTP facade in front of a Director, grounded on
// the teacher's cmd/bd/serve.go http.ListenAndServe + embedded-template
// idiom, generalized to a graceful shutdown driven by the root
// command's signal-aware context so a long-running server process
// closes its Journal handle cleanly on SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP facade in front of the Director",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		syncServeFlagsFromConfig(cmd)

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

		srv := httpapi.NewServer(d,
			httpapi.WithUIPath(uipathFlag),
			httpapi.WithUIDisabled(disableUIFlag),
		)

		addr := fmt.Sprintf("%s:%d", interfaceFlag, portFlag)
		httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

		host := externalHostFlag
		if host == "" {
			host = interfaceFlag
		}
		log.Printf("dtse: serving namespace %q on http://%s:%d", namespace, host, portFlag)

		// Two goroutines that must both stop as soon as either the
		// listener dies or rootCtx is cancelled: errgroup.WithContext
		// gives us that "first error (or cancellation) wins" join
		// without a hand-rolled channel/select pair.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			log.Printf("dtse: shutting down")
			return httpServer.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 8800, "HTTP listen port")
	serveCmd.Flags().StringVar(&interfaceFlag, "interface", "127.0.0.1", "HTTP listen address")
	serveCmd.Flags().StringVar(&externalHostFlag, "external-host", "", "hostname reported in log output (default: --interface)")
	serveCmd.Flags().StringVar(&uipathFlag, "uipath", "/", "path the embedded UI is served at")
	serveCmd.Flags().BoolVar(&disableUIFlag, "disable-ui", false, "disable the embedded UI, serving only /api")
	rootCmd.AddCommand(serveCmd)
}

func syncServeFlagsFromConfig(cmd *cobra.Command) {
	if !cmd.Flags().Changed("port") {
		if p := config.GetInt("port"); p != 0 {
			portFlag = p
		}
	}
	if !cmd.Flags().Changed("interface") {
		if v := config.GetString("interface"); v != "" {
			interfaceFlag = v
		}
	}
	if !cmd.Flags().Changed("external-host") {
		externalHostFlag = config.GetString("external-host")
	}
	if !cmd.Flags().Changed("uipath") {
		if v := config.GetString("uipath"); v != "" {
			uipathFlag = v
		}
	}
	if !cmd.Flags().Changed("disable-ui") {
		disableUIFlag = config.GetBool("disable-ui")
	}
	if verboseFlag {
		reportOverrides(cmd, map[string]interface{}{
			"port": portFlag, "interface": interfaceFlag, "external-host": externalHostFlag,
			"uipath": uipathFlag, "disable-ui": disableUIFlag,
		})
	}
}
