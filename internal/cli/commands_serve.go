package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ledgerflow/internal/api"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if port == 0 {
				port = app.Config.APIPort
			}

			server := api.NewServer(api.Deps{
				Config:    app.Config,
				Layout:    app.Layout,
				Store:     app.Store,
				Index:     app.Index,
				Registry:  app.Registry,
				Queue:     app.Queue,
				Scheduler: app.Scheduler,
				Worker:    app.Worker,
				Alerts:    app.Alerts,
				Delivery:  app.Delivery,
				Reports:   app.Reports,
				Review:    app.Review,
				Analysis:  app.Analysis,
				Documents: app.Documents,
				Importer:  app.Importer,
				Linker:    app.Linker,
				Migrator:  app.Migrator,
				Bus:       app.Bus,
				Audit:     app.Audit,
			}, host, port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if withWorker {
				go func() {
					if err := app.Worker.Run(ctx); err != nil && ctx.Err() == nil {
						log.Printf("[serve] worker exited: %v", err)
					}
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("[serve] listening on %s:%d (data dir %s)", host, port, app.Layout.DataDir)
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				log.Printf("[serve] shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: configured API port)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the automation worker loop")
	return cmd
}
