package services

import "errors"

// Fatal run conditions. Everything else is absorbed per entry and reported as data.
var (
	ErrArchiveUnreadable    = errors.New("archive unreadable")
	ErrNoQualifyingEntries  = errors.New("no qualifying documents in archive")
	ErrMergeWriteFailed     = errors.New("merged document could not be written")
	ErrRenditionWriteFailed = errors.New("rendition could not be written")
	ErrStatusWriteFailed    = errors.New("final status could not be written")
)

// Error kinds published in the status record.
const (
	KindArchiveUnreadable    = "ArchiveUnreadable"
	KindNoQualifyingEntries  = "NoQualifyingEntries"
	KindMergeWriteFailed     = "MergeWriteFailed"
	KindRenditionWriteFailed = "RenditionWriteFailed"
	KindStatusWriteFailed    = "StatusWriteFailed"
	KindInternal             = "Internal"
)

// ErrorKind classifies a fatal run error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrArchiveUnreadable):
		return KindArchiveUnreadable
	case errors.Is(err, ErrNoQualifyingEntries):
		return KindNoQualifyingEntries
	case errors.Is(err, ErrMergeWriteFailed):
		return KindMergeWriteFailed
	case errors.Is(err, ErrRenditionWriteFailed):
		return KindRenditionWriteFailed
	case errors.Is(err, ErrStatusWriteFailed):
		return KindStatusWriteFailed
	default:
		return KindInternal
	}
}
