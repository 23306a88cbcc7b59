package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	internal "github.com/bagworks/bagproc/bagproc"
	"github.com/bagworks/bagproc/bagproc/catalog"
	"github.com/bagworks/bagproc/bagproc/config"
	"github.com/bagworks/bagproc/bagproc/gateway"
	"github.com/bagworks/bagproc/bagproc/pipeline"
	"github.com/bagworks/bagproc/bagproc/server"
)

var configPath string

func main() {
	logger := internal.GetLogger()

	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "Ingest recorded robot-sensor bags into frames, poses and imu samples",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(), processCmd())

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload/status HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
				return fmt.Errorf("failed to create storage root: %w", err)
			}

			gate, err := gateway.NewPostgresGateway(cfg.Gateway.DSN)
			if err != nil {
				return err
			}
			defer gate.Close()

			manager := pipeline.NewManager(cfg.Ingest.MaxConcurrentBags)
			return server.New(cfg, gate, manager).ListenAndServe()
		},
	}
}

func processCmd() *cobra.Command {
	var dryRun bool
	var bagID int64

	cmd := &cobra.Command{
		Use:   "process <bag-dir>",
		Short: "Ingest a single bag directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			var gate gateway.Gateway
			if dryRun {
				gate = gateway.NewMockGateway()
			} else {
				gate, err = gateway.NewPostgresGateway(cfg.Gateway.DSN)
				if err != nil {
					return err
				}
			}
			defer gate.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bagDir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			p := pipeline.New(pipeline.Options{
				BagID:   bagID,
				BagDir:  bagDir,
				OutRoot: bagDir,
				Quality: cfg.Storage.FrameQuality,
				Catalog: catalog.New(cfg.Topics.Camera, cfg.Topics.Pose, cfg.Topics.Imu, cfg.Topics.Ignore),
				Gateway: gate,
			})

			done := make(chan struct{})
			go func() {
				defer close(done)
				for progress := range p.Notifications() {
					fmt.Printf("\r%-10s %5.1f%% %s", progress.Status, progress.Fraction*100, progress.Message)
					if progress.Status == pipeline.StatusCompleted || progress.Status == pipeline.StatusFailed {
						fmt.Println()
						return
					}
				}
			}()

			p.Run(ctx)
			<-done

			if final := p.Status(); final.Status != pipeline.StatusCompleted {
				return fmt.Errorf("ingestion failed: %s", final.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "ingest into an in-memory gateway")
	cmd.Flags().Int64Var(&bagID, "bag-id", 0, "bag id for persisted records")
	return cmd
}
