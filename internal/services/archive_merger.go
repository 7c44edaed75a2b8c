package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/archivemergeflow/internal/config"
	"github.com/Lllllllleong/archivemergeflow/internal/gcp"
	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/progress"
)

type ArchiveMergerConfig struct {
	ProjectID      string
	OutputBucket   string
	CollectionName string
	Pipeline       PipelineConfig
}

// LoadArchiveMergerConfig reads the Cloud Function settings from the environment.
func LoadArchiveMergerConfig() (ArchiveMergerConfig, error) {
	cfg := ArchiveMergerConfig{
		ProjectID:      config.GetEnv("PROJECT_ID", ""),
		OutputBucket:   config.GetEnv("OUTPUT_BUCKET", ""),
		CollectionName: config.GetEnv("FIRESTORE_COLLECTION", "merge-runs"),
		Pipeline:       LoadPipelineConfig(),
	}
	if cfg.ProjectID == "" {
		return cfg, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return cfg, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	return cfg, nil
}

// ArchiveMergerFunction merges archives dropped into a bucket and uploads the
// outputs to OutputBucket under the run id.
type ArchiveMergerFunction struct {
	storageClient *storage.Client
	runs          *progress.FirestoreStore
	pipeline      *Pipeline
	publisher     *OutputPublisher
	config        ArchiveMergerConfig
}

func NewArchiveMerger(ctx context.Context) (*ArchiveMergerFunction, error) {
	cfg, err := LoadArchiveMergerConfig()
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	runs := progress.NewFirestoreStore(firestoreClient, cfg.CollectionName)
	f := &ArchiveMergerFunction{
		storageClient: storageClient,
		runs:          runs,
		pipeline:      NewPipeline(cfg.Pipeline, runs, slog.Default()),
		publisher:     NewOutputPublisher(storageClient, cfg.OutputBucket, slog.Default()),
		config:        cfg,
	}
	slog.Info("Archive merger logic initialized.", "outputBucket", cfg.OutputBucket, "collection", cfg.CollectionName)
	return f, nil
}

// Process handles one object finalize event.
func (f *ArchiveMergerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !IsArchiveObject(e.Name) {
		logCtx.Info("Object is not a ZIP archive. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "archive-merger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	archivePath := filepath.Join(tempDir, "source.zip")
	if err := gcp.DownloadObject(ctx, f.storageClient.Bucket(e.Bucket), e.Name, archivePath); err != nil {
		logCtx.Error("Failed to download source archive", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(archivePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("archiveHash", fileHash)

	earlier, err := f.runs.FindByArchiveHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if existing, ok := publishedRun(earlier); ok {
		logCtx.Info("Duplicate archive detected. Skipping.", "existingRunId", existing.RunID)
		return nil
	}
	if len(earlier) > 0 {
		logCtx.Info("Earlier run of this archive never published its outputs. Merging again.", "earlierRuns", len(earlier))
	}

	runID := uuid.NewString()
	logCtx = logCtx.With("runId", runID)
	run, err := f.pipeline.Execute(ctx, models.RunRequest{
		RunID:       runID,
		ArchivePath: archivePath,
		ArchiveName: path.Base(e.Name),
		ArchiveHash: fileHash,
		OutputDir:   filepath.Join(tempDir, "out"),
		WorkDir:     tempDir,
	})
	if err != nil {
		// A failed run is already recorded in Firestore; redelivery would fail the same way.
		// Without a final record the run is retried.
		if run != nil && !errors.Is(err, ErrStatusWriteFailed) {
			logCtx.Warn("Archive could not be merged.", "error", err)
			return nil
		}
		logCtx.Error("Merge run ended without a recorded outcome", "error", err)
		return err
	}

	if err := f.uploadOutputs(ctx, logCtx, run); err != nil {
		return err
	}
	logCtx.Info("Archive merged and outputs uploaded.", "outcome", run.Outcome)
	return nil
}

func (f *ArchiveMergerFunction) uploadOutputs(ctx context.Context, logCtx *slog.Logger, run *models.Run) error {
	outputs, err := f.publisher.Publish(ctx, run)
	if err != nil {
		return f.handleError(ctx, logCtx, run.ID, "one or more outputs failed to upload", err)
	}
	if err := f.runs.Update(ctx, run.ID, []firestore.Update{{Path: "outputs", Value: outputs}}); err != nil {
		return f.handleError(ctx, logCtx, run.ID, "failed to record output locations", err)
	}
	return nil
}

func (f *ArchiveMergerFunction) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	updates := []firestore.Update{
		{Path: "uploadError", Value: fullError},
	}
	if err := f.runs.Update(ctx, runID, updates); err != nil {
		logCtx.Error("CRITICAL: Failed to record upload failure in Firestore.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}

// publishedRun picks the earlier run whose outputs reached the output bucket. A
// run that completed but failed to upload, or whose final record was never
// written, does not count.
func publishedRun(earlier []models.StatusRecord) (models.StatusRecord, bool) {
	for _, rec := range earlier {
		if !rec.Complete || rec.UploadError != "" || rec.Outputs == nil {
			continue
		}
		if strings.HasPrefix(rec.Outputs.Composite, "gs://") && strings.HasPrefix(rec.Outputs.Rendition, "gs://") {
			return rec, true
		}
	}
	return models.StatusRecord{}, false
}

// IsArchiveObject reports whether a bucket object should trigger a merge run.
func IsArchiveObject(name string) bool {
	return strings.EqualFold(path.Ext(name), ".zip") && !strings.HasSuffix(name, "/")
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
