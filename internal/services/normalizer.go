package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
)

// NormalizeMethod records which step produced the canonical file.
type NormalizeMethod string

const (
	MethodPassthrough NormalizeMethod = "passthrough"
	MethodExternal    NormalizeMethod = "external"
	MethodLibrary     NormalizeMethod = "library"
	MethodPlaceholder NormalizeMethod = "placeholder"
)

// NormalizeResult is the canonical form of one entry.
type NormalizeResult struct {
	// Entry is the input with Path pointing at the canonical file.
	Entry    SourceEntry
	Method   NormalizeMethod
	Degraded bool
	// Reason explains a degraded result.
	Reason string
}

// Normalizer converts legacy entries to the canonical format.
type Normalizer struct {
	converter *Converter
	timeout   time.Duration
	logger    *slog.Logger
}

// NewNormalizer returns a normalizer using converter with a per-file timeout. A nil
// converter skips the external step.
func NewNormalizer(converter *Converter, timeout time.Duration, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{converter: converter, timeout: timeout, logger: logger}
}

// CanonicalName is the file name Normalize writes for entry.
func CanonicalName(entry SourceEntry) string {
	return strings.TrimSuffix(entry.Name, filepath.Ext(entry.Name)) + CanonicalExt
}

// Normalize produces outDir/<stem>.docx for a legacy entry, trying the external
// converter, then a parse and re-save, then a placeholder document. Canonical entries
// and unextracted entries are returned unchanged. The source file is never modified.
func (n *Normalizer) Normalize(ctx context.Context, entry SourceEntry, outDir string) NormalizeResult {
	// Entries that never made it out of the archive are reported by the merge.
	if entry.Err != nil || entry.Format == FormatCanonical {
		return NormalizeResult{Entry: entry, Method: MethodPassthrough}
	}

	dest := filepath.Join(outDir, CanonicalName(entry))
	logCtx := n.logger.With("entry", entry.Name)
	var reasons []string

	if n.converter != nil {
		err := n.converter.Convert(ctx, entry.Path, strings.TrimPrefix(CanonicalExt, "."), dest, n.timeout)
		if err == nil {
			return n.converted(entry, dest, MethodExternal, "")
		}
		if !errors.Is(err, ErrConverterUnavailable) {
			logCtx.Warn("External conversion failed, trying library round trip.", "error", err)
		}
		reasons = append(reasons, err.Error())
	}

	err := resave(entry.Path, dest)
	if err == nil {
		return n.converted(entry, dest, MethodLibrary, "")
	}
	reasons = append(reasons, err.Error())

	reason := strings.Join(reasons, "; ")
	logCtx.Warn("Conversion failed, substituting placeholder document.", "reason", reason)
	if err := ooxml.Write(dest, placeholderDocument(entry, reason)); err != nil {
		logCtx.Error("Failed to write placeholder document.", "error", err)
		reason = fmt.Sprintf("%s; placeholder not written: %v", reason, err)
	}
	return n.converted(entry, dest, MethodPlaceholder, reason)
}

func (n *Normalizer) converted(entry SourceEntry, dest string, method NormalizeMethod, reason string) NormalizeResult {
	out := entry
	out.Path = dest
	return NormalizeResult{
		Entry:    out,
		Method:   method,
		Degraded: method == MethodPlaceholder,
		Reason:   reason,
	}
}

// resave succeeds only for files that already are OOXML under a legacy extension.
func resave(src, dest string) error {
	doc, err := ooxml.Read(src)
	if err != nil {
		return fmt.Errorf("not parseable as %s: %w", CanonicalExt, err)
	}
	return ooxml.Write(dest, doc)
}

func placeholderDocument(entry SourceEntry, reason string) *ooxml.Document {
	doc := ooxml.New()
	doc.AddHeading("Conversion failed: "+entry.Name, 2)
	doc.AddParagraph(ooxml.Run{Text: "Original content unavailable, conversion failed.", Italic: true})
	doc.AddText("File: " + entry.ArchiveName)
	doc.AddText(fmt.Sprintf("Size: %d bytes", entry.Size))
	if reason != "" {
		doc.AddText("Reason: " + reason)
	}
	return doc
}
