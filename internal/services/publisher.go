package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/archivemergeflow/internal/gcp"
	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

const (
	compositeContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	renditionContentType = "application/pdf"
)

// OutputPublisher copies the outputs of completed runs to a bucket under the run id.
type OutputPublisher struct {
	bucket     *storage.BucketHandle
	bucketName string
	logger     *slog.Logger
}

func NewOutputPublisher(client *storage.Client, bucketName string, logger *slog.Logger) *OutputPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputPublisher{bucket: client.Bucket(bucketName), bucketName: bucketName, logger: logger}
}

// Publish uploads both outputs of run and returns their gs:// locations. Objects
// already present from an earlier delivery are left as they are.
func (p *OutputPublisher) Publish(ctx context.Context, run *models.Run) (models.Outputs, error) {
	logCtx := p.logger.With("runId", run.ID, "bucket", p.bucketName)
	existing, err := gcp.ListObjects(ctx, p.bucket, run.ID+"/")
	if err != nil {
		return models.Outputs{}, err
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	files := []struct{ local, object, contentType string }{
		{run.Outputs.Composite, OutputObjectName(run.ID, CompositeFileName), compositeContentType},
		{run.Outputs.Rendition, OutputObjectName(run.ID, RenditionFileName), renditionContentType},
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(files))
	for _, f := range files {
		if present[f.object] {
			logCtx.Info("Output already uploaded. Skipping.", "gcsObject", f.object)
			continue
		}
		eg.Go(func() error {
			if err := gcp.UploadFile(gctx, p.bucket, f.local, f.object, f.contentType); err != nil {
				return fmt.Errorf("%s: %w", path.Base(f.object), err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return models.Outputs{}, err
	}
	logCtx.Info("Run outputs uploaded.")
	return models.Outputs{
		Composite: gsURI(p.bucketName, files[0].object),
		Rendition: gsURI(p.bucketName, files[1].object),
	}, nil
}

// RunFinished implements Subscriber. Runs that did not complete have nothing to publish.
func (p *OutputPublisher) RunFinished(ctx context.Context, run *models.Run) error {
	if run.Stage != models.StageComplete {
		return nil
	}
	_, err := p.Publish(ctx, run)
	return err
}

// OutputObjectName is where an output file of a run is uploaded.
func OutputObjectName(runID, file string) string {
	return path.Join(runID, file)
}

func gsURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}
