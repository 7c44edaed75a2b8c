package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/services"
)

var (
	archiveMergerInstance *services.ArchiveMergerFunction
	once                  sync.Once
	initErr               error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("MergeArchive", mergeArchive)
}

// main is required by the Go Functions Framework.
func main() {}

// mergeArchive is the Cloud Function entry point for bucket finalize events.
func mergeArchive(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		archiveMergerInstance, initErr = services.NewArchiveMerger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := e.DataAs(&gcsEvent); err != nil {
		slog.Error("Failed to decode event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("event.DataAs: %w", err)
	}

	return archiveMergerInstance.Process(ctx, gcsEvent)
}
