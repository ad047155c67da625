// config.go: settings struct for the birdstation pipeline and functions to
// load them. Every stage process loads its own immutable copy at startup;
// stages coordinate only through the filesystem, never through shared config.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aviarylab/birdstation/internal/errors"
)

// MainSettings contains node identification and logging configuration.
type MainSettings struct {
	Name string // name of this birdstation node, used in logs and status
	Log  struct {
		Enabled bool   // true to write stage logs to a rotated file instead of stdout
		Path    string // log file path
	}
}

// CaptureSettings contains settings for the audio capture stage.
type CaptureSettings struct {
	Source                 string // audio capture device, matched by ID or name substring
	SampleRate             int    // capture sample rate in Hz
	Channels               int    // capture channel count
	BitDepth               int    // bits per sample, 16 only for now
	ChunkDuration          int    // duration of one captured chunk in seconds
	BufferSize             int    // number of chunks assembled into one recording
	FlushPartialOnShutdown bool   // flush a short recording on shutdown instead of discarding the buffer
	RecordingsPath         string // directory recordings are published into, one per channel set
	MaxRecordings          int    // retention cap, oldest recordings beyond this are evicted
}

// AnalyzerSettings contains settings for the detection analyzer stage.
type AnalyzerSettings struct {
	PollInterval   int     // seconds between recording directory scans
	MinConfidence  float64 // minimum confidence for a detection to reach the ledger
	Sensitivity    float64 // sigmoid sensitivity for prediction scoring
	MaxRetries     int     // per-recording inference retry budget before quarantine
	QuarantinePath string  // directory for recordings that exhausted their retry budget
	ModelPath      string  // path to the tflite model file
	LabelPath      string  // path to the species label file
	Threads        int     // CPU threads for inference, 0 for all cores
}

// LedgerSettings contains settings for the append-only detection log.
type LedgerSettings struct {
	Path string // path to the ledger CSV file
}

// LocationSettings controls optional geotagging of ledger rows.
// When disabled the lat/lon columns are omitted from the ledger entirely.
type LocationSettings struct {
	Enabled   bool    // true to include latitude and longitude in ledger rows
	Latitude  float64 // latitude of the recording site
	Longitude float64 // longitude of the recording site
}

// ImageSettings contains settings for the image fetcher stage.
type ImageSettings struct {
	Path         string // path the current species image is published to
	PollInterval int    // seconds between ledger polls
	CursorPath   string // path to the persisted ledger read cursor
	ProbeURL     string // URL probed to test network reachability before a poll cycle
	ProbeTimeout int    // reachability probe timeout in seconds
}

// TelemetrySettings contains settings for the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// StatusSettings configures the status snapshots polled by the control plane.
type StatusSettings struct {
	Path string // directory for per-stage status JSON files
}

// Settings contains all configuration options for the birdstation pipeline.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime value, not stored in the config file
	Version string `yaml:"-"`

	Main      MainSettings
	Capture   CaptureSettings
	Analyzer  AnalyzerSettings
	Ledger    LedgerSettings
	Location  LocationSettings
	Image     ImageSettings
	Telemetry TelemetrySettings
	Status    StatusSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a Settings value.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the current settings instance, loading it if needed.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		return nil
	}
	return settings
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create one with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes a default config file to the first default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the OS specific default configuration paths.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "birdstation"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "birdstation"),
			"/etc/birdstation",
			".",
		}
	}

	return configPaths, nil
}
