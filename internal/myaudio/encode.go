package myaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SavePCMDataToWAV saves the given PCM data as a WAV file at the specified
// filePath. The file is written to a temporary name in the same directory
// and renamed into place, so a reader never observes a partially written
// recording.
func SavePCMDataToWAV(filePath string, pcmData []byte, sampleRate, bitDepth, numChannels int) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// Temp file must live in the target directory for the rename to be atomic.
	tmpPath := filepath.Join(filepath.Dir(filePath), ".tmp-"+filepath.Base(filePath))

	outFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	enc := wav.NewEncoder(outFile, sampleRate, bitDepth, numChannels, 1)

	intSamples := byteSliceToInts(pcmData)

	if err := enc.Write(&audio.IntBuffer{Data: intSamples, Format: &audio.Format{SampleRate: sampleRate, NumChannels: numChannels}}); err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}

	if err := enc.Close(); err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}

	if err := outFile.Sync(); err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync WAV file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close WAV file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish WAV file: %w", err)
	}

	return nil
}

// byteSliceToInts converts a byte slice to a slice of integers.
// Each pair of bytes is treated as a single 16-bit sample.
func byteSliceToInts(pcmData []byte) []int {
	samples := make([]int, 0, len(pcmData)/2)
	buf := bytes.NewBuffer(pcmData)

	for {
		var sample int16
		if err := binary.Read(buf, binary.LittleEndian, &sample); err != nil {
			break // end of buffer
		}
		samples = append(samples, int(sample))
	}

	return samples
}
