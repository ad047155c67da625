package birdnet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviarylab/birdstation/internal/myaudio"
)

// writeTestWAV writes a mono 16-bit WAV with the given duration in
// samples at the given rate.
func writeTestWAV(t *testing.T, path string, samples, sampleRate int) {
	t.Helper()
	pcm := make([]byte, samples*2)
	require.NoError(t, myaudio.SavePCMDataToWAV(path, pcm, sampleRate, 16, 1))
}

func TestReadAudioDataChunking(t *testing.T) {
	chunkSamples := ChunkSeconds * ModelSampleRate

	tests := []struct {
		name       string
		samples    int
		wantChunks int
	}{
		{"exactly one chunk", chunkSamples, 1},
		{"two full chunks", 2 * chunkSamples, 2},
		{"trailing half padded", chunkSamples + chunkSamples/2, 2},
		{"trailing under half dropped", chunkSamples + chunkSamples/4, 1},
		{"short but meaningful", chunkSamples / 2, 1},
		{"too short", chunkSamples/2 - 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rec.wav")
			writeTestWAV(t, path, tt.samples, ModelSampleRate)

			chunks, err := ReadAudioData(path)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantChunks)
			for _, chunk := range chunks {
				assert.Len(t, chunk, chunkSamples, "every chunk is padded to the full window")
			}
		})
	}
}

func TestReadAudioDataRejectsWrongSampleRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	writeTestWAV(t, path, 44100, 44100)

	_, err := ReadAudioData(path)
	assert.Error(t, err)
}

func TestReadAudioDataMissingFile(t *testing.T) {
	_, err := ReadAudioData(filepath.Join(t.TempDir(), "absent.wav"))
	assert.Error(t, err)
}

func TestReadAudioDataNotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	require.NoError(t, os.WriteFile(path, []byte("this is not audio"), 0o644))

	_, err := ReadAudioData(path)
	assert.Error(t, err)
}

func TestCustomSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, customSigmoid(0, 1.0), 1e-9)
	assert.Greater(t, customSigmoid(2, 1.0), customSigmoid(1, 1.0))
	// Higher sensitivity steepens the curve
	assert.Greater(t, customSigmoid(1, 1.5), customSigmoid(1, 0.5))
	assert.Less(t, customSigmoid(-5, 1.0), 0.01)
}
