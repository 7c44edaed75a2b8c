package models

import "time"

// Stage is the orchestrator state of a run.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageExtracting  Stage = "extracting"
	StageNormalizing Stage = "normalizing"
	StageMerging     Stage = "merging"
	StageRendering   Stage = "rendering"
	StageComplete    Stage = "complete"
	StageError       Stage = "error"
)

// Terminal reports whether no further transition can happen.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Step maps a stage onto the current_step value published in the status record.
func (s Stage) Step() Step {
	switch s {
	case StageNormalizing:
		return StepConvert
	case StageMerging:
		return StepMerge
	case StageRendering:
		return StepPDF
	case StageComplete:
		return StepComplete
	case StageError:
		return StepError
	default:
		return StepExtract
	}
}

// Step is the coarse stage tag observers poll.
type Step string

const (
	StepExtract  Step = "extract"
	StepConvert  Step = "convert"
	StepMerge    Step = "merge"
	StepPDF      Step = "pdf"
	StepComplete Step = "complete"
	StepError    Step = "error"
)

// Outcome distinguishes a clean run from one with degraded or unreadable entries.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// RenditionTier records which fallback produced the PDF.
type RenditionTier string

const (
	TierExternal    RenditionTier = "external"
	TierLibrary     RenditionTier = "library"
	TierText        RenditionTier = "text"
	TierPlaceholder RenditionTier = "placeholder"
)

// Degraded is true for every tier below the external renderer.
func (t RenditionTier) Degraded() bool {
	return t != TierExternal
}

// Outputs are the files a completed run leaves behind.
type Outputs struct {
	Composite string `json:"docx" firestore:"docx"`
	Rendition string `json:"pdf" firestore:"pdf"`
}

// Run is one pipeline execution. It is owned by the worker goroutine executing it
// and must not be modified once Stage is terminal.
type Run struct {
	ID             string
	ArchivePath    string
	ArchiveName    string
	ArchiveHash    string
	WorkDir        string
	OutputDir      string
	StartedAt      time.Time
	EndedAt        *time.Time
	Stage          Stage
	Percent        int
	Outcome        Outcome
	Total          int
	Succeeded      int
	Failed         int
	FailedNames    []string
	DegradedNames  []string
	LastError      string
	ErrorKind      string
	RenditionTier  RenditionTier
	RenditionPages int
	Outputs        Outputs
}

// Elapsed is the wall-clock duration of a terminal run.
func (r *Run) Elapsed() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Clone returns a copy that shares no slices with r.
func (r *Run) Clone() *Run {
	c := *r
	c.FailedNames = append([]string(nil), r.FailedNames...)
	c.DegradedNames = append([]string(nil), r.DegradedNames...)
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// StatusRecord is the persisted progress record of a run. It is last-writer-wins
// state, not a log.
type StatusRecord struct {
	RunID             string        `json:"run_id" firestore:"runId"`
	Percent           int           `json:"percent" firestore:"percent"`
	StatusText        string        `json:"status_text" firestore:"statusText"`
	CurrentStep       Step          `json:"current_step" firestore:"currentStep"`
	Complete          bool          `json:"complete" firestore:"complete"`
	Error             *string       `json:"error" firestore:"error"`
	ErrorKind         string        `json:"error_kind,omitempty" firestore:"errorKind,omitempty"`
	Outcome           Outcome       `json:"outcome,omitempty" firestore:"outcome,omitempty"`
	StartTime         int64         `json:"start_time" firestore:"startTime"`
	EndTime           *int64        `json:"end_time,omitempty" firestore:"endTime,omitempty"`
	FileCount         int           `json:"file_count" firestore:"fileCount"`
	SucceededCount    int           `json:"succeeded_count" firestore:"succeededCount"`
	FailedCount       int           `json:"failed_count" firestore:"failedCount"`
	FailedFileNames   []string      `json:"failed_file_names" firestore:"failedFileNames"`
	DegradedFileNames []string      `json:"degraded_file_names,omitempty" firestore:"degradedFileNames,omitempty"`
	RenditionTier     RenditionTier `json:"rendition_tier,omitempty" firestore:"renditionTier,omitempty"`
	Outputs           *Outputs      `json:"outputs,omitempty" firestore:"outputs,omitempty"`
	ArchiveName       string        `json:"archive_name,omitempty" firestore:"archiveName,omitempty"`
	ArchiveHash       string        `json:"archive_hash,omitempty" firestore:"archiveHash,omitempty"`
	UploadError       string        `json:"upload_error,omitempty" firestore:"uploadError,omitempty"`
}

// Clone returns a deep copy.
func (s StatusRecord) Clone() StatusRecord {
	c := s
	c.FailedFileNames = append([]string{}, s.FailedFileNames...)
	if s.DegradedFileNames != nil {
		c.DegradedFileNames = append([]string{}, s.DegradedFileNames...)
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.Outputs != nil {
		o := *s.Outputs
		c.Outputs = &o
	}
	return c
}
