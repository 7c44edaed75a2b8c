package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

// Handle is the progress slot of a single run. The worker publishes through it and
// in-process observers read it with Snapshot; every published record is also
// persisted to the store. Once a terminal record has been published the slot is
// frozen.
type Handle struct {
	runID  string
	store  Store
	logger *slog.Logger

	mu  sync.Mutex
	rec models.StatusRecord
}

// NewHandle creates the slot for runID, seeded with an empty failed-name list so the
// record never carries null for it.
func NewHandle(runID string, startTime int64, store Store, logger *slog.Logger) *Handle {
	if store == nil {
		store = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		runID:  runID,
		store:  store,
		logger: logger.With("runId", runID),
		rec: models.StatusRecord{
			RunID:           runID,
			CurrentStep:     models.StepExtract,
			StartTime:       startTime,
			FailedFileNames: []string{},
		},
	}
}

// RunID returns the id of the run the handle belongs to.
func (h *Handle) RunID() string {
	return h.runID
}

// Snapshot returns a copy of the latest published record.
func (h *Handle) Snapshot() models.StatusRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone()
}

// Done reports whether a terminal record has been published.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return terminal(h.rec)
}

// Publish applies mutate to the record and persists the result. Percent is clamped to
// [0,100] and never moves backwards. Store failures are logged and returned; the
// in-memory slot keeps the new record either way. Publishing after a terminal record
// is a no-op.
func (h *Handle) Publish(ctx context.Context, mutate func(*models.StatusRecord)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if terminal(h.rec) {
		h.logger.Warn("Ignoring status update for a finished run.")
		return nil
	}

	next := h.rec.Clone()
	mutate(&next)
	next.RunID = h.runID
	next.Percent = clamp(next.Percent, h.rec.Percent)
	if next.FailedFileNames == nil {
		next.FailedFileNames = []string{}
	}
	h.rec = next

	if err := h.store.Save(ctx, next.Clone()); err != nil {
		h.logger.Error("Failed to persist status.", "step", next.CurrentStep, "error", err)
		return err
	}
	return nil
}

// Update publishes a stage transition.
func (h *Handle) Update(ctx context.Context, step models.Step, percent int, text string) error {
	return h.Publish(ctx, func(rec *models.StatusRecord) {
		rec.CurrentStep = step
		rec.Percent = percent
		rec.StatusText = text
	})
}

func terminal(rec models.StatusRecord) bool {
	return rec.Complete || rec.CurrentStep == models.StepError
}

func clamp(percent, floor int) int {
	if percent > 100 {
		percent = 100
	}
	if percent < floor {
		percent = floor
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}
