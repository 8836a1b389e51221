package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasew/blobpurge/internal/app"
	"github.com/lucasew/blobpurge/internal/purge"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the purge scheduler and its control server",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := app.NewDaemon(app.Config{
			Listen:     viper.GetString("listen"),
			BlobDir:    viper.GetString("blob-dir"),
			IndexPath:  indexPath(),
			Identity:   viper.GetString("identity"),
			ConfigFile: viper.GetString("config"),
		})
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Scheduler.Start(ctx, purge.Overrides{
			StorageLimit: viper.GetInt64("storage-limit"),
			CPUMax:       viper.GetFloat64("cpu-max"),
		}); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("Starting control server", "addr", d.Server.Addr)
			if err := d.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			slog.Info("Shutting down")
			d.Scheduler.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.Server.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("listen", "127.0.0.1:8089", "Address of the control server")
	runCmd.Flags().String("identity", "", "Local author id whose referenced blobs are never deleted")
	runCmd.Flags().String("config", "", "Config file with persisted purge.storage-limit and purge.cpu-max")
	runCmd.Flags().Int64("storage-limit", 0, "Storage limit in bytes (default 10GB)")
	runCmd.Flags().Float64("cpu-max", 0, "Max CPU share of the purge task, in percent (default 50)")

	mustBindPFlag("listen", runCmd.Flags().Lookup("listen"))
	mustBindPFlag("identity", runCmd.Flags().Lookup("identity"))
	mustBindPFlag("config", runCmd.Flags().Lookup("config"))
	mustBindPFlag("storage-limit", runCmd.Flags().Lookup("storage-limit"))
	mustBindPFlag("cpu-max", runCmd.Flags().Lookup("cpu-max"))
}
