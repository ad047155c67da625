package imageprovider

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/observation"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

// fakeProvider records fetch calls and serves the species name as the
// image payload so tests can tell which image got published.
type fakeProvider struct {
	fetched []string
	failFor map[string]bool
}

func (p *fakeProvider) Fetch(scientificName string) (*BirdImage, error) {
	p.fetched = append(p.fetched, scientificName)
	if p.failFor[scientificName] {
		return nil, fmt.Errorf("no image for %s", scientificName)
	}
	return &BirdImage{
		ScientificName: scientificName,
		Data:           []byte(scientificName),
	}, nil
}

func fetcherSettings(t *testing.T) *conf.Settings {
	t.Helper()
	base := t.TempDir()
	return &conf.Settings{
		Ledger: conf.LedgerSettings{Path: filepath.Join(base, "ledger.csv")},
		Image: conf.ImageSettings{
			Path:         filepath.Join(base, "CURRENT_BIRD_IMAGE"),
			PollInterval: 1,
			CursorPath:   filepath.Join(base, "cursor"),
			ProbeTimeout: 1,
		},
		Status: conf.StatusSettings{Path: filepath.Join(base, "status")},
	}
}

func newTestFetcher(t *testing.T, settings *conf.Settings, provider ImageProvider) *Fetcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	metrics, _ := telemetry.NewMetrics()
	recorder := status.NewRecorder(settings.Status.Path, "imagefetcher")
	t.Cleanup(recorder.Stop)

	f := NewFetcher(settings, provider, recorder, metrics, logger)
	f.SetProbe(func() bool { return true })
	return f
}

func appendDetections(t *testing.T, settings *conf.Settings, species ...string) {
	t.Helper()
	w, err := observation.NewWriter(settings.Ledger.Path, false)
	require.NoError(t, err)
	defer w.Close()
	for _, s := range species {
		require.NoError(t, w.Append(&observation.Note{
			Date:           "2025-06-15",
			Time:           "05:30:00",
			ScientificName: s,
			CommonName:     s,
			Confidence:     0.9,
		}))
	}
}

func TestCycleFetchesOnlyFirstOccurrences(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major", "Parus major", "Pica pica", "Parus major")

	require.NoError(t, f.Cycle())

	assert.Equal(t, []string{"Parus major", "Pica pica"}, provider.fetched)

	// The last published image belongs to the last new species
	data, err := os.ReadFile(settings.Image.Path)
	require.NoError(t, err)
	assert.Equal(t, "Pica pica", string(data))
}

func TestCycleAdvancesCursor(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major", "Pica pica")
	require.NoError(t, f.Cycle())

	// A second cycle with no new rows fetches nothing
	require.NoError(t, f.Cycle())
	assert.Equal(t, []string{"Parus major", "Pica pica"}, provider.fetched)

	// New rows of already seen species fetch nothing either
	appendDetections(t, settings, "Parus major")
	require.NoError(t, f.Cycle())
	assert.Equal(t, []string{"Parus major", "Pica pica"}, provider.fetched)
}

func TestRestartDoesNotRefetchSeenSpecies(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major")
	require.NoError(t, f.Cycle())
	require.Equal(t, []string{"Parus major"}, provider.fetched)

	// A fresh process reconstructs the seen-set from the full ledger
	// history, so a repeat detection after restart fetches nothing.
	restarted := newTestFetcher(t, settings, provider)
	appendDetections(t, settings, "Parus major")
	require.NoError(t, restarted.Cycle())
	assert.Equal(t, []string{"Parus major"}, provider.fetched)
}

func TestCycleDeferredWhenNetworkUnreachable(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)
	f.SetProbe(func() bool { return false })

	appendDetections(t, settings, "Parus major")

	require.NoError(t, f.Cycle())
	assert.Empty(t, provider.fetched, "no fetch while offline")

	reader := observation.NewReader(settings.Ledger.Path, settings.Image.CursorPath)
	cursor, err := reader.Cursor()
	require.NoError(t, err)
	assert.Zero(t, cursor, "cursor must hold while offline so no detection is skipped")

	// Once the network returns the held rows are processed
	f.SetProbe(func() bool { return true })
	require.NoError(t, f.Cycle())
	assert.Equal(t, []string{"Parus major"}, provider.fetched)
}

func TestFetchFailureDoesNotBlockCursor(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{failFor: map[string]bool{"Parus major": true}}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major", "Pica pica")

	require.NoError(t, f.Cycle())
	assert.Equal(t, []string{"Parus major", "Pica pica"}, provider.fetched)

	// The failed species is published never, the good one is
	data, err := os.ReadFile(settings.Image.Path)
	require.NoError(t, err)
	assert.Equal(t, "Pica pica", string(data))

	reader := observation.NewReader(settings.Ledger.Path, settings.Image.CursorPath)
	cursor, err := reader.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 2, cursor)
}

func TestFailedSpeciesNotRefetchedWithinTTL(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{failFor: map[string]bool{"Parus major": true}}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major")
	require.NoError(t, f.Cycle())
	require.Len(t, provider.fetched, 1)

	// Another ledger occurrence would be first-seen again only if the
	// cursor were replayed; simulate that by clearing the seen history
	// via a fresh detection and checking the negative cache short
	// circuits the provider.
	f.handleNote(&observation.Note{ScientificName: "Parus major"}, map[string]bool{})
	assert.Len(t, provider.fetched, 1, "negative cache must suppress the refetch")
}

func TestPublishAtomicNoTempLeftBehind(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)

	appendDetections(t, settings, "Parus major")
	require.NoError(t, f.Cycle())

	entries, err := os.ReadDir(filepath.Dir(settings.Image.Path))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), imageTmpPrefix,
			"no temp files may remain after publish")
	}
}

func TestEmptyLedgerCycle(t *testing.T) {
	settings := fetcherSettings(t)
	provider := &fakeProvider{}
	f := newTestFetcher(t, settings, provider)

	require.NoError(t, f.Cycle())
	assert.Empty(t, provider.fetched)
}
