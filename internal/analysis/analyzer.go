// Package analysis implements the detection analyzer stage: claim one
// recording from the queue, run inference, append detections to the
// ledger, then delete the recording.
package analysis

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aviarylab/birdstation/internal/birdnet"
	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/diskmanager"
	"github.com/aviarylab/birdstation/internal/errors"
	"github.com/aviarylab/birdstation/internal/observation"
	"github.com/aviarylab/birdstation/internal/queue"
	"github.com/aviarylab/birdstation/internal/status"
	"github.com/aviarylab/birdstation/internal/telemetry"
)

// DecodeFunc turns a recording file into inference-ready chunks.
// birdnet.ReadAudioData in production, replaceable in tests.
type DecodeFunc func(path string) ([][]float32, error)

// Analyzer drives the analyzer stage loop. One instance per recordings
// directory; per-channel exclusivity keeps ledger ordering meaningful.
type Analyzer struct {
	settings   *conf.Settings
	queue      *queue.Queue
	classifier birdnet.Classifier
	ledger     *observation.Writer
	decode     DecodeFunc
	logger     *slog.Logger
	recorder   *status.Recorder
	metrics    *telemetry.Metrics

	// retries tracks the per-recording transient failure budget. It is
	// in-memory only: after a crash the budget starts over, which errs
	// toward reprocessing rather than losing a recording.
	retries map[string]int
}

// New creates an analyzer stage.
func New(settings *conf.Settings, classifier birdnet.Classifier, ledger *observation.Writer, recorder *status.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		settings:   settings,
		queue:      queue.New(settings.Capture.RecordingsPath, logger),
		classifier: classifier,
		ledger:     ledger,
		decode:     birdnet.ReadAudioData,
		logger:     logger,
		recorder:   recorder,
		metrics:    metrics,
		retries:    make(map[string]int),
	}
}

// SetDecode overrides the audio decoder, for tests.
func (a *Analyzer) SetDecode(decode DecodeFunc) {
	a.decode = decode
}

// Run polls the queue until the context is cancelled. The current unit of
// work always finishes before exit; only the sleep between polls is
// interruptible.
func (a *Analyzer) Run(ctx context.Context) error {
	interval := time.Duration(a.settings.Analyzer.PollInterval) * time.Second

	for {
		if err := a.Cycle(); err != nil {
			a.logger.Error("analyzer cycle failed", "error", err)
			a.recorder.RecordError(err)
		} else {
			a.recorder.CycleComplete()
		}

		select {
		case <-ctx.Done():
			a.logger.Info("analyzer stopping")
			return nil
		case <-time.After(interval):
		}
	}
}

// Cycle runs one poll: enforce retention, then process every claimable
// recording in capture order.
func (a *Analyzer) Cycle() error {
	evicted, err := diskmanager.CountBasedCleanup(a.settings.Capture.RecordingsPath, a.settings.Capture.MaxRecordings, a.logger)
	if err != nil {
		return err
	}
	if evicted > 0 {
		a.metrics.RecordingsEvicted.Add(float64(evicted))
		a.recorder.AddCount("recordings_evicted", evicted)
	}

	recordings, err := a.queue.List()
	if err != nil {
		return err
	}

	for i := range recordings {
		if err := a.processRecording(&recordings[i]); err != nil {
			// Stop the cycle so the failed recording is retried before any
			// newer one is processed, preserving per-channel order.
			return err
		}
	}

	return nil
}

// processRecording claims one recording and either consumes it after all
// its detections are durably in the ledger, releases it for retry, or
// quarantines it when its retry budget is exhausted.
func (a *Analyzer) processRecording(rec *queue.Recording) error {
	claim, err := a.queue.Claim(rec)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyClaimed) {
			a.metrics.ClaimConflicts.Inc()
			a.logger.Debug("recording claimed elsewhere", "recording", rec.Name)
			return nil
		}
		return err
	}

	notes, err := a.analyze(claim)
	if err != nil {
		return a.handleFailure(claim, err)
	}

	for i := range notes {
		if err := a.ledger.Append(&notes[i]); err != nil {
			// Ledger write failures release the claim; rows already
			// appended may be duplicated on retry. That window is accepted
			// and documented, losing the recording would not be.
			return a.handleFailure(claim, err)
		}
	}

	// Detections must be durable before the source recording is deleted.
	if err := a.ledger.Sync(); err != nil {
		return a.handleFailure(claim, err)
	}

	if err := claim.Consume(); err != nil {
		return err
	}

	delete(a.retries, rec.Name)
	a.metrics.RecordingsConsumed.Inc()
	a.metrics.DetectionsAppended.Add(float64(len(notes)))
	a.recorder.AddCount("recordings_consumed", 1)
	a.recorder.AddCount("detections_appended", len(notes))

	a.logger.Info("recording processed",
		"recording", rec.Name, "detections", len(notes))
	return nil
}

// analyze decodes and classifies one claimed recording, returning the
// ledger rows for detections above the confidence threshold.
func (a *Analyzer) analyze(claim *queue.Claim) ([]observation.Note, error) {
	chunks, err := a.decode(claim.ClaimedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Evicted by retention between claim and decode; the loss is
			// accepted, treat the claim as consumed.
			a.logger.Warn("claimed recording evicted by retention", "recording", claim.Recording.Name)
			return nil, nil
		}
		return nil, err
	}

	results, err := a.classifier.AnalyzeChunks(chunks)
	if err != nil {
		return nil, err
	}

	var notes []observation.Note
	for _, result := range results {
		if float64(result.Confidence) < a.settings.Analyzer.MinConfidence {
			continue
		}
		notes = append(notes, observation.New(result, claim.Recording.Timestamp, &a.settings.Location))
	}

	return notes, nil
}

// handleFailure applies the bounded retry policy: release the claim for
// retry until the budget is exhausted, then quarantine the recording.
func (a *Analyzer) handleFailure(claim *queue.Claim, cause error) error {
	name := claim.Recording.Name
	a.retries[name]++

	if a.retries[name] > a.settings.Analyzer.MaxRetries {
		a.logger.Warn("retry budget exhausted, quarantining recording",
			"recording", name, "attempts", a.retries[name], "error", cause)
		delete(a.retries, name)
		if err := claim.Quarantine(a.settings.Analyzer.QuarantinePath); err != nil {
			return errors.Join(cause, err)
		}
		a.metrics.Quarantined.Inc()
		a.recorder.AddCount("recordings_quarantined", 1)
		return nil
	}

	a.logger.Warn("processing failed, releasing claim for retry",
		"recording", name, "attempt", a.retries[name], "error", cause)
	if err := claim.Release(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
