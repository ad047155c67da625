package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviarylab/birdstation/cmd/analyze"
	"github.com/aviarylab/birdstation/cmd/devices"
	"github.com/aviarylab/birdstation/cmd/fetchimage"
	"github.com/aviarylab/birdstation/cmd/record"
	"github.com/aviarylab/birdstation/internal/conf"
)

// RootCommand creates and returns the root command with all stage
// subcommands attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "birdstation",
		Short: "BirdStation CLI",
		Long:  "Filesystem coordinated bird audio capture, detection and image display pipeline.",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		record.Command(settings),
		analyze.Command(settings),
		fetchimage.Command(settings),
		devices.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}
		// Devices listing needs no validated pipeline configuration.
		if cmd.Name() == "devices" {
			return nil
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Capture.RecordingsPath, "recordings", viper.GetString("capture.recordingspath"), "Directory recordings are exchanged through")
	rootCmd.PersistentFlags().StringVar(&settings.Ledger.Path, "ledger", viper.GetString("ledger.path"), "Path to the detection ledger CSV file")
	rootCmd.PersistentFlags().StringVar(&settings.Status.Path, "statuspath", viper.GetString("status.path"), "Directory for per-stage status files")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Latitude, "latitude", viper.GetFloat64("location.latitude"), "Latitude of the recording site")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Longitude, "longitude", viper.GetFloat64("location.longitude"), "Longitude of the recording site")
}
