// Package devices implements the capture device listing subcommand.
package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/myaudio"
)

// Command creates the devices subcommand.
func Command(_ *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := myaudio.ListAudioSources()
			if err != nil {
				return fmt.Errorf("failed to list audio devices: %w", err)
			}
			if len(infos) == 0 {
				fmt.Println("No audio capture devices found.")
				return nil
			}
			fmt.Println("Available audio capture devices:")
			for i, info := range infos {
				fmt.Printf("  %d: %s [%s]\n", i, info.Name, info.ID)
			}
			return nil
		},
	}
}
