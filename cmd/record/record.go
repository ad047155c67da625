// Package record implements the audio recorder stage subcommand.
package record

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/diskmanager"
	"github.com/aviarylab/birdstation/internal/logging"
	"github.com/aviarylab/birdstation/internal/myaudio"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

// Command creates the record subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture audio and publish fixed-length recordings",
		Long:  "Capture audio from the configured device and publish buffered WAV recordings into the recordings directory for the analyzer to claim.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Capture.Source, "source", viper.GetString("capture.source"), "Audio capture source (\"sysdefault\", \"USB Audio\", etc.)")
	cmd.Flags().IntVar(&settings.Capture.BufferSize, "buffersize", viper.GetInt("capture.buffersize"), "Number of chunks buffered into one recording")
	cmd.Flags().IntVar(&settings.Capture.MaxRecordings, "maxrecordings", viper.GetInt("capture.maxrecordings"), "Retention cap for the recordings directory")
	cmd.Flags().BoolVar(&settings.Capture.FlushPartialOnShutdown, "flushpartial", viper.GetBool("capture.flushpartialonshutdown"), "Flush a short recording on shutdown instead of discarding the buffer")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runRecord(settings *conf.Settings) error {
	logger, closeLog, err := logging.StageLogger(settings, "recorder")
	if err != nil {
		return err
	}
	defer closeLog()

	recorder := status.NewRecorder(settings.Status.Path, "recorder")
	defer recorder.Stop()

	metrics, registry := telemetry.NewMetrics()
	if settings.Telemetry.Enabled {
		telemetry.Serve(&settings.Telemetry, registry, logger)
	}

	assembler := myaudio.NewChunkAssembler(&settings.Capture, logger)
	if err := assembler.EnsureDir(); err != nil {
		return err
	}
	assembler.OnFlush = func(path string) {
		metrics.RecordingsFlushed.Inc()
		recorder.AddCount("recordings_flushed", 1)

		evicted, err := diskmanager.CountBasedCleanup(settings.Capture.RecordingsPath, settings.Capture.MaxRecordings, logger)
		if err != nil {
			logger.Error("retention cleanup failed", "error", err)
			recorder.RecordError(err)
			return
		}
		if evicted > 0 {
			metrics.RecordingsEvicted.Add(float64(evicted))
			recorder.AddCount("recordings_evicted", evicted)
		}

		if usage, err := diskmanager.GetDiskUsage(settings.Capture.RecordingsPath); err == nil {
			recorder.SetExtra("disk", usage)
		}
		recorder.CycleComplete()
	}

	quitChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		close(quitChan)
	}()

	logger.Info("starting audio capture",
		"source", settings.Capture.Source,
		"samplerate", settings.Capture.SampleRate,
		"chunkduration", settings.Capture.ChunkDuration,
		"buffersize", settings.Capture.BufferSize)

	captureErr := myaudio.CaptureAudio(settings, assembler, logger, quitChan)

	// The shutdown policy for a partial buffer is applied exactly once,
	// whether capture ended by signal or by device failure.
	if path, err := assembler.Close(); err != nil {
		logger.Error("shutdown flush failed", "error", err)
		recorder.RecordError(err)
	} else if path != "" {
		logger.Info("flushed partial recording on shutdown", "path", path)
	}

	if captureErr != nil {
		recorder.RecordError(captureErr)
		return captureErr
	}
	return nil
}
