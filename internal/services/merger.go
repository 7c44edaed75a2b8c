package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
)

// MergeInput is one canonical document to concatenate.
type MergeInput struct {
	Name string
	Path string
	// Err, when set, is why the source is missing; Path is not opened.
	Err error
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Sections    int
	Succeeded   int
	Failed      int
	FailedNames []string
}

// Merger concatenates canonical documents into one composite.
type Merger struct {
	toc    bool
	logger *slog.Logger
}

// NewMerger returns a merger; with toc set the composite opens with a list of its
// sources.
func NewMerger(toc bool, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{toc: toc, logger: logger}
}

// SectionMarker is the bold line that opens the section of a source.
func SectionMarker(name string) string {
	return "==== " + name + " ===="
}

// UnreadableNote is the paragraph standing in for a source that could not be opened.
func UnreadableNote(name string, err error) string {
	return fmt.Sprintf("[unreadable] %s: %v", name, err)
}

// Merge writes the inputs, in order, into one document at dest. Each section opens
// with a marker naming its source and is followed by a page break, except the last.
// A source that cannot be opened is replaced by a visible note and counted failed;
// only a failure to save dest fails the call.
func (m *Merger) Merge(ctx context.Context, inputs []MergeInput, dest string, onProgress func(done, total int)) (MergeResult, error) {
	var res MergeResult
	composite := ooxml.New()

	if m.toc && len(inputs) > 0 {
		composite.AddHeading("Table of Contents", 1)
		for i, in := range inputs {
			composite.AddParagraph(ooxml.Run{Text: strconv.Itoa(i+1) + ". " + in.Name, Bold: true})
		}
		composite.AddPageBreak()
	}

	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		composite.AddParagraph(ooxml.Run{Text: SectionMarker(in.Name), Bold: true, Size: 28})

		var doc *ooxml.Document
		err := in.Err
		if err == nil {
			doc, err = ooxml.Read(in.Path)
		}
		if err != nil {
			m.logger.Warn("Source unreadable at merge, inserting note.", "entry", in.Name, "error", err)
			composite.AddParagraph(ooxml.Run{Text: UnreadableNote(in.Name, err), Bold: true, Italic: true})
			res.Failed++
			res.FailedNames = append(res.FailedNames, in.Name)
		} else {
			composite.Append(doc)
			res.Succeeded++
		}
		res.Sections++

		if i < len(inputs)-1 {
			composite.AddPageBreak()
		}
		if onProgress != nil {
			onProgress(i+1, len(inputs))
		}
	}

	if err := ooxml.Write(dest, composite); err != nil {
		return res, fmt.Errorf("%w: %w", ErrMergeWriteFailed, err)
	}
	m.logger.Info("Composite document written.", "sections", res.Sections, "failed", res.Failed)
	return res, nil
}
