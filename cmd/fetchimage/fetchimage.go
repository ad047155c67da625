// Package fetchimage implements the image fetcher stage subcommand.
package fetchimage

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/imageprovider"
	"github.com/aviarylab/birdstation/internal/logging"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

// Command creates the fetchimage subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchimage",
		Short: "Tail the ledger and publish an image per new species",
		Long:  "Follow the detection ledger and publish a Wikimedia Commons image to a fixed path the first time each species is detected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetchImage(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Image.Path, "imagepath", viper.GetString("image.path"), "Path the current species image is published to")
	cmd.Flags().StringVar(&settings.Image.CursorPath, "cursorpath", viper.GetString("image.cursorpath"), "Path to the persisted ledger read cursor")
	cmd.Flags().IntVar(&settings.Image.PollInterval, "pollinterval", viper.GetInt("image.pollinterval"), "Seconds between ledger polls")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runFetchImage(settings *conf.Settings) error {
	logger, closeLog, err := logging.StageLogger(settings, "imagefetcher")
	if err != nil {
		return err
	}
	defer closeLog()

	recorder := status.NewRecorder(settings.Status.Path, "imagefetcher")
	defer recorder.Stop()

	metrics, registry := telemetry.NewMetrics()
	if settings.Telemetry.Enabled {
		telemetry.Serve(&settings.Telemetry, registry, logger)
	}

	provider := imageprovider.NewWikiMediaProvider(settings.Version, settings.Debug)
	fetcher := imageprovider.NewFetcher(settings, provider, recorder, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting image fetcher",
		"ledger", settings.Ledger.Path,
		"imagepath", settings.Image.Path)

	return fetcher.Run(ctx)
}
