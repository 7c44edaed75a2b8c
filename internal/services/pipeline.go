package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/archivemergeflow/internal/config"
	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/progress"
)

// Output file names inside a run's output directory.
const (
	CompositeFileName = "merged.docx"
	RenditionFileName = "merged.pdf"
)

// PipelineConfig holds configuration for the merge pipeline.
type PipelineConfig struct {
	ExternalTools     bool
	ConverterBinaries []string
	ConvertTimeout    time.Duration
	RenderTimeout     time.Duration
	NormalizeWorkers  int
	LibraryRenderer   bool
	TableOfContents   bool
	MaxEntryBytes     int64
}

// LoadPipelineConfig reads the pipeline configuration from the environment.
func LoadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ExternalTools:     config.GetEnvBool("EXTERNAL_TOOLS", true),
		ConverterBinaries: config.GetEnvList("CONVERTER_BINARIES", []string{"soffice", "libreoffice"}),
		ConvertTimeout:    config.GetEnvDuration("CONVERT_TIMEOUT", 120*time.Second),
		RenderTimeout:     config.GetEnvDuration("RENDER_TIMEOUT", 180*time.Second),
		NormalizeWorkers:  config.GetEnvInt("NORMALIZE_WORKERS", 1),
		LibraryRenderer:   config.GetEnvBool("LIBRARY_RENDERER", true),
		TableOfContents:   config.GetEnvBool("MERGE_TOC", false),
		MaxEntryBytes:     config.GetEnvInt64("MAX_ENTRY_BYTES", 200<<20),
	}
}

// Subscriber is told about every run that reaches a terminal state. The run passed
// in is a copy and must be treated as read-only.
type Subscriber interface {
	RunFinished(ctx context.Context, run *models.Run) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, run *models.Run) error

// RunFinished implements Subscriber.
func (f SubscriberFunc) RunFinished(ctx context.Context, run *models.Run) error {
	return f(ctx, run)
}

// Pipeline runs archives through extraction, normalization, merge and rendition,
// publishing progress to a store after every milestone.
type Pipeline struct {
	config      PipelineConfig
	store       progress.Store
	extractor   *Extractor
	normalizer  *Normalizer
	merger      *Merger
	renderer    *Renderer
	subscribers []Subscriber
	logger      *slog.Logger
}

// NewPipeline wires the pipeline stages from cfg.
func NewPipeline(cfg PipelineConfig, store progress.Store, logger *slog.Logger, subscribers ...Subscriber) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = progress.Discard{}
	}
	if cfg.NormalizeWorkers < 1 {
		cfg.NormalizeWorkers = 1
	}

	var converter *Converter
	if cfg.ExternalTools && len(cfg.ConverterBinaries) > 0 {
		converter = NewConverter(cfg.ConverterBinaries, logger)
	}

	p := &Pipeline{
		config:      cfg,
		store:       store,
		extractor:   NewExtractor(cfg.MaxEntryBytes, logger),
		normalizer:  NewNormalizer(converter, cfg.ConvertTimeout, logger),
		merger:      NewMerger(cfg.TableOfContents, logger),
		renderer:    NewRenderer(converter, cfg.RenderTimeout, cfg.LibraryRenderer, logger),
		subscribers: subscribers,
		logger:      logger,
	}
	if converter != nil {
		if bin, err := converter.Binary(); err == nil {
			logger.Info("Merge pipeline initialized.", "converter", bin, "workers", cfg.NormalizeWorkers)
		} else {
			logger.Warn("Merge pipeline initialized without an external converter; outputs will be degraded.", "error", err)
		}
	}
	return p
}

// Dispatch starts a run in the background and returns its progress handle at once.
// The run uses its own context and cannot be cancelled; callers observe it only
// through the progress store or the handle's Snapshot.
func (p *Pipeline) Dispatch(req models.RunRequest) (*progress.Handle, error) {
	run, h, err := p.prepare(context.Background(), req)
	if err != nil {
		return nil, err
	}

	go func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				logCtx := p.logger.With("runId", run.ID)
				logCtx.Error("Pipeline worker panicked.", "panic", r, "stack", string(debug.Stack()))
				_ = p.handleError(ctx, logCtx, run, h, "pipeline worker panicked", fmt.Errorf("%v", r))
				p.notify(ctx, run)
			}
		}()
		_ = p.execute(ctx, run, h)
		p.notify(ctx, run)
	}()
	return h, nil
}

// Execute runs the pipeline on the calling goroutine and returns the terminal run.
// The returned error is the fatal condition that ended the run, if any.
func (p *Pipeline) Execute(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	run, h, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	err = p.execute(ctx, run, h)
	p.notify(ctx, run)
	return run, err
}

func (p *Pipeline) prepare(ctx context.Context, req models.RunRequest) (*models.Run, *progress.Handle, error) {
	if req.ArchivePath == "" {
		return nil, nil, fmt.Errorf("archive path must be provided")
	}
	if req.OutputDir == "" {
		return nil, nil, fmt.Errorf("output directory must be provided")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := progress.ValidateRunID(req.RunID); err != nil {
		return nil, nil, err
	}
	if req.ArchiveName == "" {
		req.ArchiveName = filepath.Base(req.ArchivePath)
	}
	if req.WorkDir == "" {
		req.WorkDir = os.TempDir()
	}

	run := &models.Run{
		ID:          req.RunID,
		ArchivePath: req.ArchivePath,
		ArchiveName: req.ArchiveName,
		ArchiveHash: req.ArchiveHash,
		WorkDir:     req.WorkDir,
		OutputDir:   req.OutputDir,
		StartedAt:   time.Now(),
		Stage:       models.StageQueued,
	}
	h := progress.NewHandle(run.ID, run.StartedAt.Unix(), p.store, p.logger)
	err := h.Publish(ctx, func(rec *models.StatusRecord) {
		rec.CurrentStep = models.StepExtract
		rec.StatusText = "Queued"
		rec.ArchiveName = run.ArchiveName
		rec.ArchiveHash = run.ArchiveHash
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write initial status: %w", err)
	}
	return run, h, nil
}

func (p *Pipeline) execute(ctx context.Context, run *models.Run, h *progress.Handle) error {
	logCtx := p.logger.With("runId", run.ID, "archive", run.ArchiveName)
	logCtx.Info("Starting merge run.")

	scratch, err := os.MkdirTemp(run.WorkDir, "merge-"+run.ID+"-*")
	if err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to create working directory", err)
	}
	defer os.RemoveAll(scratch)

	// --- 1. Extract ---
	p.transition(ctx, run, h, models.StageExtracting, 10, "Extracting documents from archive")
	entries, err := p.extractor.Extract(ctx, run.ArchivePath, filepath.Join(scratch, "extracted"))
	if err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to extract archive", err)
	}
	if len(entries) == 0 {
		return p.handleError(ctx, logCtx, run, h, "nothing to merge", ErrNoQualifyingEntries)
	}
	run.Total = len(entries)
	logCtx.Info("Archive extracted.", "fileCount", run.Total)
	p.transitionWith(ctx, run, h, models.StageExtracting, 30, fmt.Sprintf("Extracted %d documents", run.Total), func(rec *models.StatusRecord) {
		rec.FileCount = run.Total
	})

	// --- 2. Normalize ---
	p.transition(ctx, run, h, models.StageNormalizing, 40, "Converting documents")
	normalized, err := p.normalizeAll(ctx, h, entries, filepath.Join(scratch, "normalized"))
	if err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to convert documents", err)
	}
	var degraded []string
	inputs := make([]MergeInput, len(normalized))
	for i, res := range normalized {
		if res.Degraded {
			degraded = append(degraded, res.Entry.Name)
		}
		inputs[i] = MergeInput{Name: res.Entry.Name, Path: res.Entry.Path, Err: res.Entry.Err}
	}
	run.DegradedNames = degraded

	// --- 3. Merge ---
	p.transition(ctx, run, h, models.StageMerging, 50, "Merging documents")
	if err := os.MkdirAll(run.OutputDir, 0o755); err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to create output directory", fmt.Errorf("%w: %w", ErrMergeWriteFailed, err))
	}
	compositePath := filepath.Join(run.OutputDir, CompositeFileName)
	merged, err := p.merger.Merge(ctx, inputs, compositePath, func(done, total int) {
		h.Update(ctx, models.StepMerge, 50+25*done/total, fmt.Sprintf("Merged %d of %d documents", done, total))
	})
	if err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to merge documents", err)
	}
	run.Outputs.Composite = compositePath
	run.FailedNames = unionSorted(degraded, merged.FailedNames)
	run.Failed = len(run.FailedNames)
	run.Succeeded = run.Total - run.Failed

	// --- 4. Render ---
	p.transition(ctx, run, h, models.StageRendering, 80, "Creating PDF")
	rendition, err := p.renderer.Render(ctx, compositePath, filepath.Join(run.OutputDir, RenditionFileName))
	if err != nil {
		return p.handleError(ctx, logCtx, run, h, "failed to create PDF", err)
	}
	run.Outputs.Rendition = rendition.Path
	run.RenditionTier = rendition.Tier
	run.RenditionPages = rendition.Pages
	p.transition(ctx, run, h, models.StageRendering, 95, fmt.Sprintf("PDF created (%s)", rendition.Tier))

	// --- 5. Complete ---
	now := time.Now()
	run.EndedAt = &now
	run.Stage = models.StageComplete
	run.Percent = 100
	run.Outcome = models.OutcomeSuccess
	if run.Failed > 0 {
		run.Outcome = models.OutcomePartial
	}

	text := fmt.Sprintf("Processing complete: %d documents merged", run.Total)
	if run.Failed > 0 {
		text += fmt.Sprintf(", %d failed", run.Failed)
	}
	if rendition.Tier.Degraded() {
		text += fmt.Sprintf(", PDF rendition degraded (%s)", rendition.Tier)
	}
	err = h.Publish(ctx, func(rec *models.StatusRecord) {
		end := now.Unix()
		rec.CurrentStep = models.StepComplete
		rec.Percent = 100
		rec.StatusText = text
		rec.Complete = true
		rec.EndTime = &end
		rec.Outcome = run.Outcome
		rec.FileCount = run.Total
		rec.SucceededCount = run.Succeeded
		rec.FailedCount = run.Failed
		rec.FailedFileNames = append([]string{}, run.FailedNames...)
		rec.DegradedFileNames = append([]string(nil), run.DegradedNames...)
		rec.RenditionTier = run.RenditionTier
		rec.Outputs = &models.Outputs{Composite: run.Outputs.Composite, Rendition: run.Outputs.Rendition}
	})
	if err != nil {
		// The outputs exist but nobody can learn that the run finished.
		logCtx.Error("CRITICAL: Failed to publish completion status.", "updateError", err, "outcome", run.Outcome)
		run.LastError = err.Error()
		run.ErrorKind = KindStatusWriteFailed
		return fmt.Errorf("%w: %w", ErrStatusWriteFailed, err)
	}
	logCtx.Info("Merge run complete.",
		"outcome", run.Outcome,
		"fileCount", run.Total,
		"failedCount", run.Failed,
		"renditionTier", run.RenditionTier,
		"elapsed", run.Elapsed().String(),
	)
	return nil
}

// normalizeAll converts entries on a bounded pool and returns the results in entry
// order. Legacy entries whose canonical names would clash get their own directory.
func (p *Pipeline) normalizeAll(ctx context.Context, h *progress.Handle, entries []SourceEntry, outDir string) ([]NormalizeResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversion dir: %w", err)
	}
	clashes := make(map[string]int)
	for _, e := range entries {
		if e.Format == FormatLegacy {
			clashes[CanonicalName(e)]++
		}
	}

	results := make([]NormalizeResult, len(entries))
	total := len(entries)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.NormalizeWorkers)
	for i, entry := range entries {
		g.Go(func() error {
			dir := outDir
			if entry.Format == FormatLegacy && clashes[CanonicalName(entry)] > 1 {
				dir = filepath.Join(outDir, strconv.Itoa(i))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create conversion dir: %w", err)
				}
			}
			results[i] = p.normalizer.Normalize(gctx, entry, dir)
			n := int(done.Add(1))
			h.Update(ctx, models.StepConvert, 40+10*n/total, fmt.Sprintf("Converted %d of %d documents", n, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) transition(ctx context.Context, run *models.Run, h *progress.Handle, stage models.Stage, percent int, text string) {
	p.transitionWith(ctx, run, h, stage, percent, text, nil)
}

func (p *Pipeline) transitionWith(ctx context.Context, run *models.Run, h *progress.Handle, stage models.Stage, percent int, text string, extra func(*models.StatusRecord)) {
	run.Stage = stage
	if percent > run.Percent {
		run.Percent = percent
	}
	h.Publish(ctx, func(rec *models.StatusRecord) {
		rec.CurrentStep = stage.Step()
		rec.Percent = percent
		rec.StatusText = text
		if extra != nil {
			extra(rec)
		}
	})
}

// handleError moves the run to the error state, publishes the cause and returns it.
// Percent keeps its last value.
func (p *Pipeline) handleError(ctx context.Context, logCtx *slog.Logger, run *models.Run, h *progress.Handle, message string, originalErr error) error {
	fullErr := fmt.Errorf("%s: %w", message, originalErr)
	logCtx.Error(message, "error", originalErr)

	now := time.Now()
	run.EndedAt = &now
	run.Stage = models.StageError
	run.Outcome = models.OutcomeFailed
	run.LastError = fullErr.Error()
	run.ErrorKind = ErrorKind(originalErr)

	if err := h.Publish(ctx, func(rec *models.StatusRecord) {
		end := now.Unix()
		msg := run.LastError
		rec.CurrentStep = models.StepError
		rec.StatusText = "Processing failed: " + msg
		rec.Error = &msg
		rec.ErrorKind = run.ErrorKind
		rec.Outcome = models.OutcomeFailed
		rec.EndTime = &end
		rec.FileCount = run.Total
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to publish error status after a processing error.", "updateError", err)
	}
	return fullErr
}

func (p *Pipeline) notify(ctx context.Context, run *models.Run) {
	for _, s := range p.subscribers {
		if err := s.RunFinished(ctx, run.Clone()); err != nil {
			p.logger.Error("Run subscriber failed.", "runId", run.ID, "error", err)
		}
	}
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := []string{}
	for _, name := range append(append([]string(nil), a...), b...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
