package observation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aviarylab/birdstation/internal/birdnet"
	"github.com/aviarylab/birdstation/internal/conf"
)

func TestParseSpeciesString(t *testing.T) {
	tests := []struct {
		species        string
		wantScientific string
		wantCommon     string
	}{
		{"Cyanistes caeruleus_Eurasian Blue Tit", "Cyanistes caeruleus", "Eurasian Blue Tit"},
		{"Parus major_Great Tit", "Parus major", "Great Tit"},
		{"Turdus merula", "Turdus merula", "Turdus merula"},
		{"A_B_C", "A", "B_C"},
	}

	for _, tt := range tests {
		t.Run(tt.species, func(t *testing.T) {
			scientific, common := ParseSpeciesString(tt.species)
			assert.Equal(t, tt.wantScientific, scientific)
			assert.Equal(t, tt.wantCommon, common)
		})
	}
}

func TestNewNoteUsesCaptureTime(t *testing.T) {
	capturedAt := time.Date(2025, 6, 15, 5, 30, 45, 0, time.UTC)
	result := birdnet.Result{Species: "Erithacus rubecula_European Robin", Confidence: 0.87}

	note := New(result, capturedAt, &conf.LocationSettings{})

	assert.Equal(t, "2025-06-15", note.Date)
	assert.Equal(t, "05:30:45", note.Time)
	assert.Equal(t, "Erithacus rubecula", note.ScientificName)
	assert.Equal(t, "European Robin", note.CommonName)
	assert.InDelta(t, 0.87, note.Confidence, 0.0001)
	assert.False(t, note.HasLocation)
}

func TestNewNoteWithLocation(t *testing.T) {
	location := &conf.LocationSettings{Enabled: true, Latitude: 60.1699, Longitude: 24.9384}
	note := New(birdnet.Result{Species: "Pica pica_Eurasian Magpie", Confidence: 0.5}, time.Now(), location)

	assert.True(t, note.HasLocation)
	assert.InDelta(t, 60.1699, note.Latitude, 0.0001)
	assert.InDelta(t, 24.9384, note.Longitude, 0.0001)
}
