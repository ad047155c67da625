// Package analyze implements the detection analyzer stage subcommand.
package analyze

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviarylab/birdstation/internal/analysis"
	"github.com/aviarylab/birdstation/internal/birdnet"
	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/logging"
	"github.com/aviarylab/birdstation/internal/observation"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

// Command creates the analyze subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Claim recordings, run detection and append to the ledger",
		Long:  "Poll the recordings directory, run BirdNET inference on each claimed recording and append detections to the ledger. Run one analyzer per recordings directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Analyzer.ModelPath, "model", viper.GetString("analyzer.modelpath"), "Path to the tflite model file")
	cmd.Flags().StringVar(&settings.Analyzer.LabelPath, "labels", viper.GetString("analyzer.labelpath"), "Path to the species label file")
	cmd.Flags().Float64Var(&settings.Analyzer.MinConfidence, "minconfidence", viper.GetFloat64("analyzer.minconfidence"), "Minimum confidence for a detection to reach the ledger")
	cmd.Flags().Float64Var(&settings.Analyzer.Sensitivity, "sensitivity", viper.GetFloat64("analyzer.sensitivity"), "Sigmoid sensitivity value between 0.0 and 1.5")
	cmd.Flags().IntVar(&settings.Analyzer.PollInterval, "pollinterval", viper.GetInt("analyzer.pollinterval"), "Seconds between recording directory scans")
	cmd.Flags().IntVar(&settings.Analyzer.Threads, "threads", viper.GetInt("analyzer.threads"), "CPU threads for inference, 0 for all cores")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runAnalyze(settings *conf.Settings) error {
	logger, closeLog, err := logging.StageLogger(settings, "analyzer")
	if err != nil {
		return err
	}
	defer closeLog()

	recorder := status.NewRecorder(settings.Status.Path, "analyzer")
	defer recorder.Stop()

	metrics, registry := telemetry.NewMetrics()
	if settings.Telemetry.Enabled {
		telemetry.Serve(&settings.Telemetry, registry, logger)
	}

	classifier, err := birdnet.New(&settings.Analyzer)
	if err != nil {
		return err
	}
	defer classifier.Delete()

	ledger, err := observation.NewWriter(settings.Ledger.Path, settings.Location.Enabled)
	if err != nil {
		return err
	}
	defer ledger.Close()

	analyzer := analysis.New(settings, classifier, ledger, recorder, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting analyzer",
		"recordings", settings.Capture.RecordingsPath,
		"ledger", settings.Ledger.Path,
		"minconfidence", settings.Analyzer.MinConfidence)

	return analyzer.Run(ctx)
}
