package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
)

func legacyEntry(t *testing.T, dir, name string, data []byte) SourceEntry {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return SourceEntry{ArchiveName: "sub/" + name, Name: name, Path: path, Format: FormatLegacy, Size: int64(len(data))}
}

func TestNormalizeCanonicalPassesThrough(t *testing.T) {
	dir := t.TempDir()
	path := writeDocx(t, dir, "a.docx", "hello")
	entry := SourceEntry{Name: "a.docx", Path: path, Format: FormatCanonical}

	res := NewNormalizer(nil, time.Second, nil).Normalize(context.Background(), entry, filepath.Join(dir, "out"))
	assert.Equal(t, MethodPassthrough, res.Method)
	assert.False(t, res.Degraded)
	assert.Equal(t, path, res.Entry.Path)
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestNormalizeLeavesUnextractedEntryAlone(t *testing.T) {
	dir := t.TempDir()
	entry := SourceEntry{Name: "old.doc", Format: FormatLegacy, Err: errors.New("zip: checksum error")}

	res := NewNormalizer(nil, time.Second, nil).Normalize(context.Background(), entry, dir)
	assert.Equal(t, MethodPassthrough, res.Method)
	assert.False(t, res.Degraded)
	assert.Error(t, res.Entry.Err)
	assert.NoFileExists(t, filepath.Join(dir, "old.docx"))
}

func TestNormalizeExternalConverter(t *testing.T) {
	dir := t.TempDir()
	fixture := writeDocx(t, dir, "fixture.docx", "converted by the suite")
	bin := fakeConverter(t, `cp "`+fixture+`" "$outdir/$stem.$fmt"`)

	entry := legacyEntry(t, dir, "memo.doc", []byte("legacy bytes"))
	n := NewNormalizer(NewConverter([]string{bin}, nil), 5*time.Second, nil)
	res := n.Normalize(context.Background(), entry, dir)

	assert.Equal(t, MethodExternal, res.Method)
	assert.False(t, res.Degraded)
	assert.Equal(t, filepath.Join(dir, "memo.docx"), res.Entry.Path)

	doc, err := ooxml.Read(res.Entry.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"converted by the suite"}, doc.PlainText())

	original, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "legacy bytes", string(original), "source must be left untouched")
}

func TestNormalizeLibraryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	// OOXML content behind a legacy extension.
	entry := legacyEntry(t, dir, "mislabeled.doc", docxBytes(t, "really a docx"))
	bin := fakeConverter(t, "exit 1")

	res := NewNormalizer(NewConverter([]string{bin}, nil), 5*time.Second, nil).Normalize(context.Background(), entry, dir)
	assert.Equal(t, MethodLibrary, res.Method)
	assert.False(t, res.Degraded)

	doc, err := ooxml.Read(res.Entry.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"really a docx"}, doc.PlainText())
}

func TestNormalizePlaceholderWithoutTools(t *testing.T) {
	dir := t.TempDir()
	entry := legacyEntry(t, dir, "ancient.rtf", []byte(`{\rtf1 hello}`))

	res := NewNormalizer(nil, time.Second, nil).Normalize(context.Background(), entry, dir)
	assert.Equal(t, MethodPlaceholder, res.Method)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, filepath.Join(dir, "ancient.docx"), res.Entry.Path)

	doc, err := ooxml.Read(res.Entry.Path)
	require.NoError(t, err)
	text := strings.Join(doc.PlainText(), "\n")
	assert.Contains(t, text, "Original content unavailable, conversion failed")
	assert.Contains(t, text, "sub/ancient.rtf")
	assert.Contains(t, text, "13 bytes")
}

func TestNormalizeConverterTimeoutFallsBack(t *testing.T) {
	dir := t.TempDir()
	entry := legacyEntry(t, dir, "slow.odt", []byte("odt"))
	bin := fakeConverter(t, "sleep 30")

	start := time.Now()
	res := NewNormalizer(NewConverter([]string{bin}, nil), 300*time.Millisecond, nil).Normalize(context.Background(), entry, dir)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, MethodPlaceholder, res.Method)
	assert.Contains(t, res.Reason, "timed out")
}

func TestNormalizeConverterWithoutOutputFallsBack(t *testing.T) {
	dir := t.TempDir()
	entry := legacyEntry(t, dir, "ghost.doc", []byte("doc"))
	bin := fakeConverter(t, "exit 0")

	res := NewNormalizer(NewConverter([]string{bin}, nil), 5*time.Second, nil).Normalize(context.Background(), entry, dir)
	assert.Equal(t, MethodPlaceholder, res.Method)
	assert.Contains(t, res.Reason, "produced no docx output")
}

func TestConverterUnavailable(t *testing.T) {
	c := NewConverter([]string{"definitely-not-an-office-suite-xyz"}, nil)
	err := c.Convert(context.Background(), "in.doc", "docx", filepath.Join(t.TempDir(), "out.docx"), time.Second)
	assert.ErrorIs(t, err, ErrConverterUnavailable)
}
