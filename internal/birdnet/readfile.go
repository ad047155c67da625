package birdnet

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/aviarylab/birdstation/internal/errors"
)

// ReadAudioData reads a 48 kHz WAV recording into 3-second float32 chunks
// suitable for inference. A trailing chunk at least half the window long
// is zero-padded to full length; shorter remainders are dropped.
func ReadAudioData(path string) ([][]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("birdnet").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}

	if decoder.SampleRate != ModelSampleRate {
		return nil, errors.Newf("sample rate %d is not valid for the model, expected %d", decoder.SampleRate, ModelSampleRate).
			Component("birdnet").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}

	// Divisor for converting samples to the -1..1 float range
	var divisor float32
	switch decoder.BitDepth {
	case 16:
		divisor = 32768.0
	case 24:
		divisor = 8388608.0
	case 32:
		divisor = 2147483648.0
	default:
		return nil, errors.Newf("unsupported audio file bit depth: %d", decoder.BitDepth).
			Component("birdnet").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}

	chunkSamples := ChunkSeconds * ModelSampleRate
	minLenSamples := chunkSamples / 2

	var chunks [][]float32
	var currentChunk []float32

	buf := &audio.IntBuffer{
		Data:   make([]int, chunkSamples),
		Format: &audio.Format{SampleRate: ModelSampleRate, NumChannels: 1},
	}

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, errors.New(err).
				Component("birdnet").
				Category(errors.CategoryAudio).
				Context("path", path).
				Build()
		}
		if n == 0 {
			break
		}

		for _, sample := range buf.Data[:n] {
			currentChunk = append(currentChunk, float32(sample)/divisor)
			if len(currentChunk) == chunkSamples {
				chunks = append(chunks, currentChunk)
				currentChunk = nil
			}
		}
	}

	// Pad the last chunk when it is long enough to be meaningful.
	if len(currentChunk) >= minLenSamples {
		padding := make([]float32, chunkSamples-len(currentChunk))
		currentChunk = append(currentChunk, padding...)
		chunks = append(chunks, currentChunk)
	}

	return chunks, nil
}
