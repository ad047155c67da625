// assembler.go: assembles captured PCM chunks into finalized recordings.
package myaudio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aviarylab/birdstation/internal/conf"
)

// RecordingTimeFormat is the timestamp layout encoded into recording file
// names. It sorts lexically in capture order, which the work queue relies on.
const RecordingTimeFormat = "20060102T150405Z"

// ChunkAssembler partitions an incoming PCM stream into fixed-duration
// chunks and flushes a recording to the recordings directory once
// BufferSize chunks have accumulated. Recordings are immutable once
// published; publication uses write-temp-then-rename so no reader ever
// sees a partial file.
//
// ChunkAssembler is not safe for concurrent use. The capture loop is the
// single writer.
type ChunkAssembler struct {
	sampleRate  int
	bitDepth    int
	numChannels int
	chunkBytes  int
	bufferSize  int
	dir         string
	flushShort  bool

	pending    []byte    // bytes of the chunk currently being filled
	chunkStart time.Time // wall time the pending chunk began
	chunks     [][]byte  // complete chunks awaiting assembly
	bufferTime time.Time // wall time of the first chunk in the buffer

	lastStamp string // last filename stamp used, for collision sequencing
	seq       int

	// OnFlush, when set, is called with the path of every published
	// recording, from the capture callback goroutine.
	OnFlush func(path string)

	logger *slog.Logger
}

// NewChunkAssembler creates an assembler from capture settings.
func NewChunkAssembler(settings *conf.CaptureSettings, logger *slog.Logger) *ChunkAssembler {
	bytesPerSample := settings.BitDepth / 8
	return &ChunkAssembler{
		sampleRate:  settings.SampleRate,
		bitDepth:    settings.BitDepth,
		numChannels: settings.Channels,
		chunkBytes:  settings.ChunkDuration * settings.SampleRate * settings.Channels * bytesPerSample,
		bufferSize:  settings.BufferSize,
		dir:         settings.RecordingsPath,
		flushShort:  settings.FlushPartialOnShutdown,
		logger:      logger,
	}
}

// Write feeds captured PCM bytes into the assembler. Frame sizes are
// arbitrary; chunk boundaries are cut by byte count. Returns the paths of
// any recordings flushed as a result of this write.
func (a *ChunkAssembler) Write(pcm []byte) ([]string, error) {
	var flushed []string

	for len(pcm) > 0 {
		if len(a.pending) == 0 {
			a.chunkStart = time.Now()
		}

		need := a.chunkBytes - len(a.pending)
		take := min(need, len(pcm))
		a.pending = append(a.pending, pcm[:take]...)
		pcm = pcm[take:]

		if len(a.pending) < a.chunkBytes {
			continue
		}

		// Chunk complete
		chunk := a.pending
		a.pending = nil
		if len(a.chunks) == 0 {
			a.bufferTime = a.chunkStart
		}
		a.chunks = append(a.chunks, chunk)

		if len(a.chunks) >= a.bufferSize {
			path, err := a.flush()
			if err != nil {
				return flushed, err
			}
			flushed = append(flushed, path)
		}
	}

	return flushed, nil
}

// Close applies the shutdown policy to a partially filled buffer: flush a
// short recording when FlushPartialOnShutdown is set, otherwise discard.
// An incomplete trailing chunk is always discarded. Returns the path of
// the flushed recording, or "" when the buffer was empty or discarded.
func (a *ChunkAssembler) Close() (string, error) {
	a.pending = nil

	if len(a.chunks) == 0 {
		return "", nil
	}

	if !a.flushShort {
		a.logger.Info("discarding partially filled buffer on shutdown",
			"chunks_discarded", len(a.chunks))
		a.chunks = nil
		return "", nil
	}

	a.logger.Info("flushing partially filled buffer as short recording",
		"chunks", len(a.chunks))
	return a.flush()
}

// flush concatenates the buffered chunks and publishes them as one recording.
func (a *ChunkAssembler) flush() (string, error) {
	combined := make([]byte, 0, len(a.chunks)*a.chunkBytes)
	for _, chunk := range a.chunks {
		combined = append(combined, chunk...)
	}
	chunkCount := len(a.chunks)
	a.chunks = nil

	path := filepath.Join(a.dir, a.nextName())
	if err := SavePCMDataToWAV(path, combined, a.sampleRate, a.bitDepth, a.numChannels); err != nil {
		return "", err
	}

	a.logger.Debug("recording flushed", "path", path, "chunks", chunkCount)
	if a.OnFlush != nil {
		a.OnFlush(path)
	}
	return path, nil
}

// nextName derives a monotonic recording file name from the buffer start
// time, adding a sequence suffix when two flushes land in the same second.
func (a *ChunkAssembler) nextName() string {
	stamp := a.bufferTime.UTC().Format(RecordingTimeFormat)
	if stamp == a.lastStamp {
		a.seq++
		return fmt.Sprintf("%s_%d.wav", stamp, a.seq)
	}
	a.lastStamp = stamp
	a.seq = 0
	return stamp + ".wav"
}

// BufferedChunks returns the number of complete chunks awaiting assembly.
func (a *ChunkAssembler) BufferedChunks() int {
	return len(a.chunks)
}

// EnsureDir creates the recordings directory if it does not exist.
func (a *ChunkAssembler) EnsureDir() error {
	return os.MkdirAll(a.dir, 0o755)
}
