// Package httpapi exposes the merge pipeline over HTTP: archive upload, status
// polling, output download and job history.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Lllllllleong/archivemergeflow/internal/history"
	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/progress"
	"github.com/Lllllllleong/archivemergeflow/internal/services"
)

// Dispatcher starts a run in the background.
type Dispatcher interface {
	Dispatch(req models.RunRequest) (*progress.Handle, error)
}

// HistoryReader serves the job history endpoint.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Job, error)
	UsageSince(ctx context.Context, since time.Time) ([]history.Usage, error)
}

// Config holds the directories and limits of the HTTP surface.
type Config struct {
	UploadRoot     string
	OutputRoot     string
	MaxUploadBytes int64
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	config   Config
	pipeline Dispatcher
	status   *progress.FileStore
	history  HistoryReader
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*progress.Handle
}

// New creates a Server. history may be nil.
func New(cfg Config, pipeline Dispatcher, status *progress.FileStore, hist HistoryReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 500 << 20
	}
	return &Server{
		config:   cfg,
		pipeline: pipeline,
		status:   status,
		history:  hist,
		logger:   logger,
		active:   make(map[string]*progress.Handle),
	}
}

// Handler returns the router with the standard middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the endpoints on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Post("/upload", s.handleUpload)
	r.Get("/status/{runID}", s.handleStatus)
	r.Get("/download/{runID}/{kind}", s.handleDownload)
	r.Get("/history", s.handleHistory)
	r.Get("/healthz", s.handleHealth)
}

// Active reports whether runID is still being processed by this server. The
// retention sweep uses it to leave running jobs alone.
func (s *Server) Active(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.active[runID]
	if !ok {
		return false
	}
	if h.Done() {
		delete(s.active, runID)
		return false
	}
	return true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeUploadError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("archive exceeds %d bytes", tooBig.Limit))
			return
		}
		writeUploadError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeUploadError(w, http.StatusBadRequest, "no file selected")
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		writeUploadError(w, http.StatusBadRequest, "only ZIP archives are accepted")
		return
	}

	runID := uuid.NewString()
	logCtx := s.logger.With("runId", runID, "filename", header.Filename)
	uploadDir := filepath.Join(s.config.UploadRoot, runID)
	outputDir := filepath.Join(s.config.OutputRoot, runID)
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logCtx.Error("Failed to create run directory", "error", err)
			writeUploadError(w, http.StatusInternalServerError, "failed to allocate run directories")
			return
		}
	}

	archivePath := filepath.Join(uploadDir, secureFilename(header.Filename))
	hash, err := saveUpload(file, archivePath)
	if err != nil {
		logCtx.Error("Failed to save upload", "error", err)
		os.RemoveAll(uploadDir)
		os.RemoveAll(outputDir)
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeUploadError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("archive exceeds %d bytes", tooBig.Limit))
			return
		}
		writeUploadError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	h, err := s.pipeline.Dispatch(models.RunRequest{
		RunID:       runID,
		ArchivePath: archivePath,
		ArchiveName: header.Filename,
		ArchiveHash: hash,
		OutputDir:   outputDir,
		WorkDir:     uploadDir,
	})
	if err != nil {
		logCtx.Error("Failed to dispatch run", "error", err)
		writeUploadError(w, http.StatusInternalServerError, "failed to start processing")
		return
	}
	s.mu.Lock()
	s.active[runID] = h
	s.mu.Unlock()

	logCtx.Info("Archive accepted.", "archiveHash", hash)
	writeJSON(w, http.StatusOK, models.UploadResponse{Success: true, RunID: runID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rec, ok := s.loadStatus(w, runID)
	if !ok {
		return
	}

	resp := models.StatusResponse{StatusRecord: rec}
	if rec.Complete && rec.EndTime != nil {
		resp.Stats = &models.StatusStats{
			ProcessingTime: *rec.EndTime - rec.StartTime,
			FileCount:      rec.FileCount,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var downloadNames = map[string]string{
	"docx": services.CompositeFileName,
	"pdf":  services.RenditionFileName,
}

var downloadTypes = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"pdf":  "application/pdf",
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	kind := chi.URLParam(r, "kind")
	name, ok := downloadNames[kind]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown file type %q", kind))
		return
	}

	rec, ok := s.loadStatus(w, runID)
	if !ok {
		return
	}
	if !rec.Complete {
		writeError(w, http.StatusConflict, fmt.Errorf("run %s has not completed", runID))
		return
	}

	f, err := os.Open(filepath.Join(s.config.OutputRoot, runID, name))
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s output not found", kind))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", downloadTypes[kind])
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="merged_documents.%s"`, kind))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("job history is not enabled"))
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	jobs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read job history", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read job history"))
		return
	}
	usage, err := s.history.UsageSince(r.Context(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		s.logger.Error("Failed to read usage stats", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read usage stats"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "usage": usage})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loadStatus(w http.ResponseWriter, runID string) (models.StatusRecord, bool) {
	if err := progress.ValidateRunID(runID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return models.StatusRecord{}, false
	}
	rec, err := s.status.Load(runID)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no status for run %s", runID))
		return rec, false
	}
	if err != nil {
		s.logger.Error("Failed to read status", "runId", runID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read status"))
		return rec, false
	}
	return rec, true
}

func saveUpload(src io.Reader, dest string) (string, error) {
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hash), src); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// secureFilename reduces an uploaded name to a safe base name ending in .zip.
func secureFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeFileChars.ReplaceAllString(stem, "_"), "._")
	if stem == "" {
		stem = "archive"
	}
	return stem + ".zip"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeUploadError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.UploadResponse{Success: false, Error: msg})
}
