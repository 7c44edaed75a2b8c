package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func writeArchive(t *testing.T, docs map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, text := range docs {
		doc := ooxml.New()
		doc.AddText(text)
		w, err := zw.Create(name)
		require.NoError(t, err)
		require.NoError(t, ooxml.Encode(w, doc))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestRunMergesArchive(t *testing.T) {
	t.Setenv("EXTERNAL_TOOLS", "false")
	archive := writeArchive(t, map[string]string{"a.docx": "alpha", "b.docx": "beta"})
	outDir := filepath.Join(t.TempDir(), "out")
	statusDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-o", outDir, "-status", statusDir, archive}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.FileExists(t, filepath.Join(outDir, "merged.docx"))
	assert.FileExists(t, filepath.Join(outDir, "merged.pdf"))
	assert.Contains(t, stdout.String(), "Documents processed: 2 of 2")
	assert.Contains(t, stdout.String(), "(library)")
	assert.Contains(t, stderr.String(), "100%")

	runs, err := os.ReadDir(statusDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.FileExists(t, filepath.Join(statusDir, runs[0].Name(), "status.json"))
}

func TestRunFailsWithoutDocuments(t *testing.T) {
	t.Setenv("EXTERNAL_TOOLS", "false")
	path := filepath.Join(t.TempDir(), "empty.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())

	var stdout, stderr bytes.Buffer
	code := run([]string{"-q", "-o", t.TempDir(), path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no qualifying")
	assert.Empty(t, stdout.String())
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: docmerge")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"notes.txt"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "not a .zip")
}
