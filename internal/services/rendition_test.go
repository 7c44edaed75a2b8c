package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
)

func compositeFixture(t *testing.T, dir string) string {
	t.Helper()
	doc := ooxml.New()
	doc.AddParagraph(ooxml.Run{Text: SectionMarker("a.docx"), Bold: true, Size: 28})
	doc.AddParagraph(ooxml.Run{Text: "Plain, "}, ooxml.Run{Text: "bold", Bold: true}, ooxml.Run{Text: " and café"})
	doc.AddPageBreak()
	doc.AddParagraph(ooxml.Run{Text: SectionMarker("b.docx"), Bold: true, Size: 28})
	doc.AddText("second section")
	path := filepath.Join(dir, "merged.docx")
	require.NoError(t, ooxml.Write(path, doc))
	return path
}

func TestRenderLibraryTier(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "merged.pdf")

	r, err := NewRenderer(nil, time.Second, true, nil).Render(context.Background(), compositeFixture(t, dir), dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierLibrary, r.Tier)
	assert.Equal(t, dest, r.Path)
	assert.Equal(t, 2, r.Pages)
	assert.FileExists(t, dest)
}

func TestRenderTextTier(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "merged.pdf")

	r, err := NewRenderer(nil, time.Second, false, nil).Render(context.Background(), compositeFixture(t, dir), dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierText, r.Tier)
	assert.Equal(t, 2, r.Pages)

	content := pdfContent(t, dest)
	assert.Contains(t, content, "(Text-only rendition) Tj")
	assert.Contains(t, content, "(second section) Tj")
}

func TestRenderPlaceholderWhenNothingWorks(t *testing.T) {
	dir := t.TempDir()
	composite := filepath.Join(dir, "merged.docx")
	require.NoError(t, os.WriteFile(composite, []byte("not a document"), 0o644))
	dest := filepath.Join(dir, "merged.pdf")

	bin := fakeConverter(t, "exit 2")
	r, err := NewRenderer(NewConverter([]string{bin}, nil), time.Second, true, nil).Render(context.Background(), composite, dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierPlaceholder, r.Tier)
	assert.Equal(t, dest, r.Path)
	assert.Len(t, r.Attempts, 3)

	content := pdfContent(t, dest)
	assert.Contains(t, content, "(Rendition unavailable) Tj")
	assert.Contains(t, content, "(Use the merged .docx document instead.) Tj")
}

func TestRenderNoExternalToolsStillWritesFile(t *testing.T) {
	dir := t.TempDir()
	composite := filepath.Join(dir, "merged.docx")
	require.NoError(t, os.WriteFile(composite, []byte{0x50, 0x4b}, 0o644))
	dest := filepath.Join(dir, "merged.pdf")

	r, err := NewRenderer(NewConverter([]string{"no-such-office-suite"}, nil), time.Second, true, nil).Render(context.Background(), composite, dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierPlaceholder, r.Tier)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRenderExternalTier(t *testing.T) {
	dir := t.TempDir()
	composite := compositeFixture(t, dir)

	// A real PDF for the fake suite to hand back.
	fixture := filepath.Join(dir, "fixture.pdf")
	doc, err := ooxml.Read(composite)
	require.NoError(t, err)
	require.NoError(t, renderLibrary(doc, fixture))

	bin := fakeConverter(t, `cp "`+fixture+`" "$outdir/$stem.$fmt"`)
	dest := filepath.Join(dir, "out.pdf")
	r, err := NewRenderer(NewConverter([]string{bin}, nil), 5*time.Second, true, nil).Render(context.Background(), composite, dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierExternal, r.Tier)
	assert.False(t, r.Tier.Degraded())
	assert.Empty(t, r.Attempts)
}

func TestRenderExternalTimeoutFallsBack(t *testing.T) {
	dir := t.TempDir()
	bin := fakeConverter(t, "sleep 30")
	dest := filepath.Join(dir, "merged.pdf")

	start := time.Now()
	r, err := NewRenderer(NewConverter([]string{bin}, nil), 300*time.Millisecond, false, nil).Render(context.Background(), compositeFixture(t, dir), dest)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, models.TierText, r.Tier)
	require.Len(t, r.Attempts, 1)
	assert.Contains(t, r.Attempts[0], "timed out")
}

func TestRenderWriteFailure(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "missing", "merged.pdf")
	_, err := NewRenderer(nil, time.Second, true, nil).Render(context.Background(), compositeFixture(t, dir), dest)
	assert.ErrorIs(t, err, ErrRenditionWriteFailed)
}
