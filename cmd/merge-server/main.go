package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/archivemergeflow/internal/config"
	"github.com/Lllllllleong/archivemergeflow/internal/gcp"
	"github.com/Lllllllleong/archivemergeflow/internal/history"
	"github.com/Lllllllleong/archivemergeflow/internal/httpapi"
	"github.com/Lllllllleong/archivemergeflow/internal/progress"
	"github.com/Lllllllleong/archivemergeflow/internal/retention"
	"github.com/Lllllllleong/archivemergeflow/internal/services"
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Merge server stopped with an error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(config.GetEnv("ENV_FILE", ".env"), config.GetEnv("ENV_FILE", "") != ""); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataRoot := config.GetEnv("DATA_ROOT", "data")
	uploadRoot := filepath.Join(dataRoot, "uploads")
	outputRoot := filepath.Join(dataRoot, "outputs")
	fileStore := progress.NewFileStore(filepath.Join(dataRoot, "status"))

	hist, err := history.Open(config.GetEnv("HISTORY_DB", filepath.Join(dataRoot, "history.db")))
	if err != nil {
		return err
	}
	defer hist.Close()

	var store progress.Store = fileStore
	subscribers := []services.Subscriber{hist}

	if projectID := config.GetEnv("PROJECT_ID", ""); projectID != "" {
		client, err := gcp.NewFirestoreClient(ctx, projectID)
		if err != nil {
			return err
		}
		defer client.Close()
		collection := config.GetEnv("FIRESTORE_COLLECTION", "merge-runs")
		store = progress.Tee{fileStore, progress.NewFirestoreStore(client, collection)}
		slog.Info("Mirroring run status to Firestore.", "collection", collection)
	}
	if bucket := config.GetEnv("OUTPUT_BUCKET", ""); bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		subscribers = append(subscribers, services.NewOutputPublisher(client, bucket, slog.Default()))
		slog.Info("Publishing run outputs to bucket.", "bucket", bucket)
	}

	pipeline := services.NewPipeline(services.LoadPipelineConfig(), store, slog.Default(), subscribers...)
	server := httpapi.New(httpapi.Config{
		UploadRoot:     uploadRoot,
		OutputRoot:     outputRoot,
		MaxUploadBytes: config.GetEnvInt64("MAX_UPLOAD_BYTES", 500<<20),
	}, pipeline, fileStore, hist, slog.Default())

	sweeper := &retention.Sweeper{
		Roots:  []string{uploadRoot, outputRoot, fileStore.Root},
		MaxAge: config.GetEnvDuration("RETENTION", 24*time.Hour),
		Active: server.Active,
		Logger: slog.Default(),
	}
	go sweeper.Run(ctx, config.GetEnvDuration("SWEEP_INTERVAL", time.Hour))

	httpServer := &http.Server{
		Addr:              config.GetEnv("LISTEN_ADDR", ":8080"),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Merge server listening.", "addr", httpServer.Addr, "dataRoot", dataRoot)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down merge server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
