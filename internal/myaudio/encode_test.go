package myaudio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePCMDataToWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "test.wav")

	// 100 16-bit samples with a recognizable ramp
	pcm := make([]byte, 200)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i-50)))
	}

	require.NoError(t, SavePCMDataToWAV(path, pcm, 48000, 16, 1))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 48000, int(decoder.SampleRate))
	assert.Equal(t, 16, int(decoder.BitDepth))
	assert.Equal(t, 1, int(decoder.NumChans))
	require.Len(t, buf.Data, 100)
	assert.Equal(t, -50, buf.Data[0])
	assert.Equal(t, 49, buf.Data[99])
}

func TestSavePCMDataToWAVLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.wav")

	require.NoError(t, SavePCMDataToWAV(path, make([]byte, 32), 48000, 16, 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rec.wav", entries[0].Name())
}

func TestByteSliceToInts(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80}
	samples := byteSliceToInts(pcm)
	assert.Equal(t, []int{1, -1, -32768}, samples)
}
