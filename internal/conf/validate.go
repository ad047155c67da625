package conf

import (
	"github.com/aviarylab/birdstation/internal/errors"
)

// ValidateSettings checks loaded settings for values the pipeline cannot
// operate with. Validation failures are configuration errors and fatal to
// the stage being started.
func ValidateSettings(settings *Settings) error {
	if err := validateCapture(&settings.Capture); err != nil {
		return err
	}
	if err := validateAnalyzer(&settings.Analyzer); err != nil {
		return err
	}
	if err := validateLocation(&settings.Location); err != nil {
		return err
	}
	if settings.Ledger.Path == "" {
		return errors.Newf("ledger path must not be empty").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if settings.Image.PollInterval <= 0 {
		return errors.Newf("image poll interval must be positive, got %d", settings.Image.PollInterval).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateCapture(c *CaptureSettings) error {
	switch c.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		return errors.Newf("unsupported sample rate: %d", c.SampleRate).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("samplerate", c.SampleRate).
			Build()
	}
	if c.Channels < 1 || c.Channels > 2 {
		return errors.Newf("channel count must be 1 or 2, got %d", c.Channels).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.BitDepth != 16 {
		return errors.Newf("only 16-bit capture is supported, got %d", c.BitDepth).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.ChunkDuration <= 0 {
		return errors.Newf("chunk duration must be positive, got %d", c.ChunkDuration).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.BufferSize < 1 {
		return errors.Newf("buffer size must be at least 1, got %d", c.BufferSize).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.MaxRecordings < 1 {
		return errors.Newf("max recordings must be at least 1, got %d", c.MaxRecordings).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateAnalyzer(a *AnalyzerSettings) error {
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return errors.Newf("min confidence must be between 0.0 and 1.0, got %f", a.MinConfidence).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if a.Sensitivity < 0 || a.Sensitivity > 1.5 {
		return errors.Newf("sensitivity must be between 0.0 and 1.5, got %f", a.Sensitivity).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if a.MaxRetries < 0 {
		return errors.Newf("max retries must not be negative, got %d", a.MaxRetries).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if a.PollInterval <= 0 {
		return errors.Newf("analyzer poll interval must be positive, got %d", a.PollInterval).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateLocation(l *LocationSettings) error {
	if !l.Enabled {
		return nil
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return errors.Newf("latitude must be between -90 and 90, got %f", l.Latitude).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return errors.Newf("longitude must be between -180 and 180, got %f", l.Longitude).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
