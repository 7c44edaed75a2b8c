package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Format tells the normalizer whether an entry needs converting.
type Format string

const (
	FormatCanonical Format = "canonical"
	FormatLegacy    Format = "legacy"
)

// CanonicalExt is the extension of the format every entry is normalized into.
const CanonicalExt = ".docx"

var documentFormats = map[string]Format{
	".docx": FormatCanonical,
	".doc":  FormatLegacy,
	".rtf":  FormatLegacy,
	".odt":  FormatLegacy,
}

// DetectFormat reports the format of a file name, or false if it is not a document.
func DetectFormat(name string) (Format, bool) {
	f, ok := documentFormats[strings.ToLower(path.Ext(name))]
	return f, ok
}

// SourceEntry is one document pulled out of the archive.
type SourceEntry struct {
	// ArchiveName is the entry name inside the archive, directories included.
	ArchiveName string
	// Name is the flattened file name the entry was written under.
	Name   string
	Path   string
	Format Format
	Size   int64
	// Err is set when the entry qualified but could not be extracted. Path is then
	// empty and the entry counts as failed.
	Err error
}

// Extractor pulls qualifying documents out of a zip archive.
type Extractor struct {
	maxEntryBytes int64
	logger        *slog.Logger
}

// NewExtractor returns an extractor that refuses entries larger than maxEntryBytes.
// A non-positive limit disables the check.
func NewExtractor(maxEntryBytes int64, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{maxEntryBytes: maxEntryBytes, logger: logger}
}

// Extract writes every document entry of archivePath into targetDir, flattening
// directories, and returns the entries in ascending name order. Entries sharing a
// base name are kept apart with a numeric suffix (report.docx, report_2.docx). An
// entry that is too large or fails to decompress is still returned, with Err set.
// An archive without documents yields an empty slice and no error.
func (e *Extractor) Extract(ctx context.Context, archivePath, targetDir string) ([]SourceEntry, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveUnreadable, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}

	candidates := selectEntries(zr.File)
	names := flattenNames(candidates)

	entries := make([]SourceEntry, 0, len(candidates))
	for i, f := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		format, _ := DetectFormat(f.Name)
		entry := SourceEntry{ArchiveName: f.Name, Name: names[i], Format: format, Size: int64(f.UncompressedSize64)}
		if e.maxEntryBytes > 0 && f.UncompressedSize64 > uint64(e.maxEntryBytes) {
			entry.Err = fmt.Errorf("entry exceeds %d bytes", e.maxEntryBytes)
			e.logger.Warn("Archive entry is too large to extract.", "entry", f.Name, "size", f.UncompressedSize64, "limit", e.maxEntryBytes)
			entries = append(entries, entry)
			continue
		}
		dest := filepath.Join(targetDir, names[i])
		size, err := e.writeEntry(f, dest)
		if err != nil {
			entry.Err = err
			e.logger.Warn("Archive entry could not be extracted.", "entry", f.Name, "error", err)
			entries = append(entries, entry)
			continue
		}
		entry.Path = dest
		entry.Size = size
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// selectEntries keeps document entries, ordered by base name then full name so the
// suffix assignment in flattenNames is reproducible.
func selectEntries(files []*zip.File) []*zip.File {
	var out []*zip.File
	for _, f := range files {
		name := entryPath(f.Name)
		base := path.Base(name)
		switch {
		case f.FileInfo().IsDir(), strings.HasSuffix(name, "/"):
			continue
		case strings.HasPrefix(name, "__MACOSX/"), strings.HasPrefix(base, "._"), strings.HasPrefix(base, "~$"):
			continue
		}
		if _, ok := DetectFormat(base); !ok {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := path.Base(entryPath(out[i].Name)), path.Base(entryPath(out[j].Name))
		if bi != bj {
			return bi < bj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// flattenNames assigns each file a unique base name. The first holder of a base name
// keeps it; later ones get the lowest free _N suffix that does not clash with any
// base name present in the archive.
func flattenNames(files []*zip.File) []string {
	taken := make(map[string]bool, len(files))
	for _, f := range files {
		taken[path.Base(entryPath(f.Name))] = true
	}
	used := make(map[string]bool, len(files))
	names := make([]string, len(files))
	for i, f := range files {
		base := path.Base(entryPath(f.Name))
		name := base
		if used[name] {
			ext := path.Ext(base)
			stem := strings.TrimSuffix(base, ext)
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d%s", stem, n, ext)
				if !taken[name] && !used[name] {
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func (e *Extractor) writeEntry(f *zip.File, dest string) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	var src io.Reader = rc
	if e.maxEntryBytes > 0 {
		src = io.LimitReader(rc, e.maxEntryBytes+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && e.maxEntryBytes > 0 && n > e.maxEntryBytes {
		err = fmt.Errorf("entry exceeds %d bytes", e.maxEntryBytes)
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return n, nil
}

// entryPath normalizes separators written by Windows archivers.
func entryPath(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}
