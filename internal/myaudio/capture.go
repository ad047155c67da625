package myaudio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/errors"
)

// captureSource holds information about an audio capture source.
type captureSource struct {
	Name    string
	ID      string
	Pointer unsafe.Pointer
}

// AudioDeviceInfo holds information about an audio device.
type AudioDeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// maxDeviceRestarts bounds transient device restart attempts before the
// failure is treated as fatal and reported upward.
const maxDeviceRestarts = 5

// ListAudioSources returns a list of available audio capture devices.
func ListAudioSources() ([]AudioDeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init-context").
			Build()
	}
	defer ctx.Uninit()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "list-devices").
			Build()
	}

	var devices []AudioDeviceInfo
	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index: i,
			Name:  infos[i].Name(),
			ID:    decodedID,
		})
	}

	return devices, nil
}

// CaptureAudio runs the capture loop until quitChan is closed, feeding all
// received PCM frames into the assembler. Transient device failures are
// retried with backoff up to maxDeviceRestarts; an unrecoverable failure is
// returned to the caller, which exits the stage.
func CaptureAudio(settings *conf.Settings, assembler *ChunkAssembler, logger *slog.Logger, quitChan chan struct{}) error {
	restarts := 0
	for {
		err := captureAudioMalgo(settings, assembler, logger, quitChan)
		if err == nil {
			// Clean shutdown
			return nil
		}

		restarts++
		if restarts > maxDeviceRestarts {
			return errors.New(err).
				Component("myaudio").
				Category(errors.CategoryAudioSource).
				Context("operation", "capture").
				Context("restarts", restarts-1).
				Build()
		}

		backoff := time.Duration(restarts) * time.Second
		logger.Warn("audio device failure, restarting capture",
			"error", err, "attempt", restarts, "backoff", backoff)

		select {
		case <-quitChan:
			return nil
		case <-time.After(backoff):
		}
	}
}

// captureAudioMalgo runs one capture session. It returns nil on a clean
// quit and an error when the device stops unexpectedly.
func captureAudioMalgo(settings *conf.Settings, assembler *ChunkAssembler, logger *slog.Logger, quitChan chan struct{}) error {
	// if Linux set malgo.BackendAlsa, else set nil for auto select
	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	malgoCtx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		if settings.Debug {
			logger.Debug("malgo", "message", strings.TrimSpace(message))
		}
	})
	if err != nil {
		return fmt.Errorf("context init failed: %w", err)
	}
	defer malgoCtx.Uninit() //nolint:errcheck

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(settings.Capture.Channels)
	deviceConfig.SampleRate = uint32(settings.Capture.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("failed to get capture devices: %w", err)
	}

	source, err := selectCaptureSource(settings.Capture.Source, infos, logger)
	if err != nil {
		return err
	}
	deviceConfig.Capture.DeviceID = source.Pointer

	// deviceStopped signals an unexpected device stop to the wait loop below.
	deviceStopped := make(chan struct{}, 1)
	var writeErr error

	onReceiveFrames := func(pSample2, pSamples []byte, framecount uint32) {
		if _, err := assembler.Write(pSamples); err != nil {
			writeErr = err
			logger.Error("failed to assemble captured audio", "error", err)
		}
	}

	onStopDevice := func() {
		select {
		case deviceStopped <- struct{}{}:
		default:
		}
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: onReceiveFrames,
		Stop: onStopDevice,
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("device init failed: %w", err)
	}

	if err := device.Start(); err != nil {
		return fmt.Errorf("device start failed: %w", err)
	}
	defer device.Stop() //nolint:errcheck

	logger.Info("listening on capture source", "name", source.Name, "id", source.ID)

	for {
		select {
		case <-quitChan:
			logger.Info("stopping capture due to quit signal")
			return nil
		case <-deviceStopped:
			return fmt.Errorf("audio device stopped unexpectedly")
		case <-time.After(100 * time.Millisecond):
			if writeErr != nil {
				return writeErr
			}
		}
	}
}

// selectCaptureSource selects a capture device matching the configured
// source by decoded ID or name substring.
func selectCaptureSource(audioSource string, infos []malgo.DeviceInfo, logger *slog.Logger) (captureSource, error) {
	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			logger.Debug("skipping device with undecodable ID", "index", i)
			continue
		}

		if matchesDeviceSettings(decodedID, &infos[i], audioSource) {
			return captureSource{
				Name:    infos[i].Name(),
				ID:      decodedID,
				Pointer: infos[i].ID.Pointer(),
			}, nil
		}
	}

	return captureSource{}, errors.Newf("no suitable capture source found for device setting %s", audioSource).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Context("source", audioSource).
		Build()
}

// matchesDeviceSettings checks if the device matches the source specified by the user.
func matchesDeviceSettings(decodedID string, info *malgo.DeviceInfo, audioSource string) bool {
	if runtime.GOOS == "windows" && audioSource == "sysdefault" {
		// On Windows there is no "sysdefault" device, use the default device instead.
		return info.IsDefault == 1
	}
	return decodedID == audioSource || strings.Contains(info.Name(), audioSource)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
