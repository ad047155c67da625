// Package observation implements the detection ledger: an append-only CSV
// file that is the system of record for every species ever detected. It
// has exactly one writer role (the analyzer) and any number of readers.
package observation

import (
	"strings"
	"time"

	"github.com/aviarylab/birdstation/internal/birdnet"
	"github.com/aviarylab/birdstation/internal/conf"
)

// Note represents a single detection row in the ledger.
type Note struct {
	Date           string  // ISO 8601 date of the recording
	Time           string  // 24-hour time of the recording
	ScientificName string
	CommonName     string
	Confidence     float64
	Latitude       float64 // present in the ledger only when location tagging is enabled
	Longitude      float64
	HasLocation    bool
}

// ParseSpeciesString extracts the scientific and common name from a model
// label of the form "Scientific name_Common Name".
func ParseSpeciesString(species string) (scientificName, commonName string) {
	parts := strings.SplitN(species, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	// Unexpected label format, use the label for both fields
	return species, species
}

// New builds a Note from one inference result, stamped with the capture
// time of the recording it came from. Location fields are populated only
// when location tagging is enabled.
func New(result birdnet.Result, capturedAt time.Time, location *conf.LocationSettings) Note {
	scientificName, commonName := ParseSpeciesString(result.Species)

	note := Note{
		Date:           capturedAt.Format("2006-01-02"),
		Time:           capturedAt.Format("15:04:05"),
		ScientificName: scientificName,
		CommonName:     commonName,
		Confidence:     float64(result.Confidence),
	}

	if location.Enabled {
		note.Latitude = location.Latitude
		note.Longitude = location.Longitude
		note.HasLocation = true
	}

	return note
}
