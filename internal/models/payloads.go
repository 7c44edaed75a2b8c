package models

// These structs define the JSON payloads exchanged with callers of the merge
// pipeline: the HTTP surface, the CLI and the Cloud Function trigger.

// RunRequest is what a caller hands to the orchestrator for one submission.
type RunRequest struct {
	// RunID tags the progress record. Generated when empty.
	RunID       string `json:"runId"`
	ArchivePath string `json:"archivePath"`
	// ArchiveName is the name the archive was submitted under, for reporting.
	ArchiveName string `json:"archiveName,omitempty"`
	ArchiveHash string `json:"archiveHash,omitempty"`
	OutputDir   string `json:"outputDir"`
	// WorkDir is the parent for the run's scratch directory. Empty means os.TempDir.
	WorkDir string `json:"workDir,omitempty"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusStats is attached to a completed status response.
type StatusStats struct {
	ProcessingTime int64 `json:"processing_time"`
	FileCount      int   `json:"file_count"`
}

// StatusResponse is returned by GET /status/{runID}.
type StatusResponse struct {
	StatusRecord
	Stats *StatusStats `json:"stats,omitempty"`
}

// GCSEvent is the payload of a Cloud Storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
