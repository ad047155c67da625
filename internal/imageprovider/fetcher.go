package imageprovider

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/errors"
	"github.com/aviarylab/birdstation/internal/observation"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

const imageTmpPrefix = ".tmp-"

// Fetcher tails the detection ledger and publishes an image for each
// species the first time it appears.
type Fetcher struct {
	settings *conf.Settings
	reader   *observation.Reader
	provider ImageProvider
	logger   *slog.Logger
	recorder *status.Recorder
	metrics  *telemetry.Metrics

	// probe checks whether the network is reachable before a cycle
	// touches the cursor. Replaceable in tests.
	probe func() bool

	// failed remembers species whose fetch failed so a species seen
	// again does not hammer the provider. Entries expire so transient
	// outages heal on their own.
	failed *gocache.Cache
}

// NewFetcher creates the image fetcher stage.
func NewFetcher(settings *conf.Settings, provider ImageProvider, recorder *status.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *Fetcher {
	f := &Fetcher{
		settings: settings,
		reader:   observation.NewReader(settings.Ledger.Path, settings.Image.CursorPath),
		provider: provider,
		logger:   logger,
		recorder: recorder,
		metrics:  metrics,
		failed:   gocache.New(1*time.Hour, 10*time.Minute),
	}
	f.probe = f.probeNetwork
	return f
}

// SetProbe overrides the connectivity probe, for tests.
func (f *Fetcher) SetProbe(probe func() bool) {
	f.probe = probe
}

// Run polls the ledger until the context is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	interval := time.Duration(f.settings.Image.PollInterval) * time.Second

	for {
		if err := f.Cycle(); err != nil {
			f.logger.Error("image fetch cycle failed", "error", err)
			f.recorder.RecordError(err)
		} else {
			f.recorder.CycleComplete()
		}

		select {
		case <-ctx.Done():
			f.logger.Info("image fetcher stopping")
			return nil
		case <-time.After(interval):
		}
	}
}

// Cycle reads new ledger rows past the cursor, fetches an image for each
// first-seen species, and advances the cursor. When the network is down
// the cycle is deferred without touching the cursor so no detection is
// skipped.
func (f *Fetcher) Cycle() error {
	cursor, err := f.reader.Cursor()
	if err != nil {
		return err
	}

	notes, err := f.reader.ReadFrom(cursor)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		return nil
	}

	if !f.probe() {
		f.logger.Warn("network unreachable, deferring image fetch",
			"pending_rows", len(notes), "cursor", cursor)
		return nil
	}

	seen, err := f.reader.SeenSpecies(cursor)
	if err != nil {
		return err
	}

	for i := range notes {
		f.handleNote(&notes[i], seen)
	}

	if err := f.reader.SaveCursor(cursor + len(notes)); err != nil {
		return err
	}

	f.recorder.SetExtra("cursor", cursor+len(notes))
	return nil
}

// handleNote fetches and publishes an image when the species is new.
// Fetch failures are logged and remembered but never block the cursor;
// a later detection of the same species retries after the cache entry
// expires.
func (f *Fetcher) handleNote(note *observation.Note, seen map[string]bool) {
	species := note.ScientificName
	if seen[species] {
		return
	}
	seen[species] = true

	if _, found := f.failed.Get(species); found {
		f.logger.Debug("skipping recently failed species", "species", species)
		return
	}

	image, err := f.provider.Fetch(species)
	if err != nil {
		f.logger.Warn("image fetch failed", "species", species, "error", err)
		f.failed.Set(species, true, gocache.DefaultExpiration)
		f.metrics.FetchFailures.Inc()
		f.recorder.AddCount("fetch_failures", 1)
		return
	}

	if err := f.publish(image); err != nil {
		f.logger.Warn("image publish failed", "species", species, "error", err)
		f.metrics.FetchFailures.Inc()
		f.recorder.AddCount("fetch_failures", 1)
		return
	}

	f.metrics.ImagesFetched.Inc()
	f.recorder.AddCount("images_fetched", 1)
	f.recorder.SetExtra("current_species", species)
	f.logger.Info("published bird image",
		"species", species, "common_name", note.CommonName,
		"bytes", len(image.Data), "source", image.SourceURL)
}

// publish atomically replaces the display image. Readers always see
// either the previous complete image or the new one.
func (f *Fetcher) publish(image *BirdImage) error {
	target := f.settings.Image.Path
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	tmpPath := filepath.Join(dir, imageTmpPrefix+filepath.Base(target))
	if err := os.WriteFile(tmpPath, image.Data, 0o644); err != nil {
		return errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryFileIO).
			Context("path", tmpPath).
			Build()
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryFileIO).
			Context("path", target).
			Build()
	}

	return nil
}

// probeNetwork checks reachability of the image source with a cheap HEAD
// request.
func (f *Fetcher) probeNetwork() bool {
	client := &http.Client{Timeout: time.Duration(f.settings.Image.ProbeTimeout) * time.Second}
	req, err := http.NewRequest(http.MethodHead, f.settings.Image.ProbeURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
