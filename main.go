package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aviarylab/birdstation/cmd"
	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version

	if settings.Debug {
		logging.Init(slog.LevelDebug)
	} else {
		logging.Init(slog.LevelInfo)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
