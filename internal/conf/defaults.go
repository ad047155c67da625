// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "birdstation")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "log/birdstation.log")

	viper.SetDefault("capture.source", "sysdefault")
	viper.SetDefault("capture.samplerate", 48000)
	viper.SetDefault("capture.channels", 1)
	viper.SetDefault("capture.bitdepth", 16)
	viper.SetDefault("capture.chunkduration", 3)
	viper.SetDefault("capture.buffersize", 5)
	viper.SetDefault("capture.flushpartialonshutdown", false)
	viper.SetDefault("capture.recordingspath", "recordings/")
	viper.SetDefault("capture.maxrecordings", 50)

	viper.SetDefault("analyzer.pollinterval", 2)
	viper.SetDefault("analyzer.minconfidence", 0.25)
	viper.SetDefault("analyzer.sensitivity", 1.0)
	viper.SetDefault("analyzer.maxretries", 3)
	viper.SetDefault("analyzer.quarantinepath", "recordings/quarantine/")
	viper.SetDefault("analyzer.modelpath", "model/BirdNET_GLOBAL_6K_V2.4_Model_FP32.tflite")
	viper.SetDefault("analyzer.labelpath", "model/labels_en.txt")
	viper.SetDefault("analyzer.threads", 0)

	viper.SetDefault("ledger.path", "data/ledger.csv")

	viper.SetDefault("location.enabled", false)
	viper.SetDefault("location.latitude", 0.000)
	viper.SetDefault("location.longitude", 0.000)

	viper.SetDefault("image.path", "data/current_bird.jpg")
	viper.SetDefault("image.pollinterval", 3)
	viper.SetDefault("image.cursorpath", "data/ledger.cursor")
	viper.SetDefault("image.probeurl", "https://commons.wikimedia.org")
	viper.SetDefault("image.probetimeout", 5)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("status.path", "data/status/")
}
