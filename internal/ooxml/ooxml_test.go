package ooxml

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadPreservesFormatting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formatted.docx")

	doc := New()
	doc.AddHeading("Quarterly report", 1)
	doc.AddParagraph(
		Run{Text: "plain "},
		Run{Text: "bold", Bold: true},
		Run{Text: " and "},
		Run{Text: "italic underlined", Italic: true, Underline: true, Size: 28},
	)
	doc.AddPageBreak()
	doc.AddText("after\tthe break & <escaped>")
	require.NoError(t, Write(path, doc))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got.Paragraphs, 4)

	assert.Equal(t, "Heading1", got.Paragraphs[0].Style)
	assert.Equal(t, "Quarterly report", got.Paragraphs[0].Text())
	assert.True(t, got.Paragraphs[0].Runs[0].Bold)

	runs := got.Paragraphs[1].Runs
	require.Len(t, runs, 4)
	assert.False(t, runs[0].Bold)
	assert.True(t, runs[1].Bold)
	assert.True(t, runs[3].Italic)
	assert.True(t, runs[3].Underline)
	assert.Equal(t, 28, runs[3].Size)

	assert.True(t, got.Paragraphs[2].PageBreak)
	assert.Equal(t, "after\tthe break & <escaped>", got.Paragraphs[3].Text())
}

func TestReadSplitsParagraphAtInlinePageBreak(t *testing.T) {
	body := `<w:p><w:r><w:t>before</w:t><w:br w:type="page"/><w:t>after</w:t></w:r></w:p>`
	path := writeRawDocx(t, body)

	doc, err := Read(path)
	require.NoError(t, err)
	require.Len(t, doc.Paragraphs, 3)
	assert.Equal(t, "before", doc.Paragraphs[0].Text())
	assert.True(t, doc.Paragraphs[1].PageBreak)
	assert.Equal(t, "after", doc.Paragraphs[2].Text())
}

func TestReadFlattensTables(t *testing.T) {
	body := `<w:tbl><w:tr>` +
		`<w:tc><w:p><w:r><w:t>cell one</w:t></w:r></w:p></w:tc>` +
		`<w:tc><w:p><w:r><w:rPr><w:b w:val="0"/></w:rPr><w:t>cell two</w:t></w:r></w:p></w:tc>` +
		`</w:tr></w:tbl>`
	path := writeRawDocx(t, body)

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cell one", "cell two"}, doc.PlainText())
	assert.False(t, doc.Paragraphs[1].Runs[0].Bold)
}

func TestReadRejectsCorruptInput(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.docx")
	d := New()
	d.AddText(strings.Repeat("content ", 200))
	require.NoError(t, Write(good, d))

	raw, err := os.ReadFile(good)
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated.docx")
	require.NoError(t, os.WriteFile(truncated, raw[:len(raw)/2], 0o644))

	_, err = Read(truncated)
	assert.Error(t, err)

	notZip := filepath.Join(dir, "plain.docx")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0o644))
	_, err = Read(notZip)
	assert.Error(t, err)

	noBody := filepath.Join(dir, "nobody.docx")
	f, err := os.Create(noBody)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/other.xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<x/>"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	_, err = Read(noBody)
	assert.ErrorContains(t, err, "word/document.xml not found")
}

func TestWriteFailsForMissingDirectory(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "out.docx"), New())
	assert.Error(t, err)
}

func writeRawDocx(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(documentPart)
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}
