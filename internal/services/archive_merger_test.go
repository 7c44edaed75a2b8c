package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

func TestIsArchiveObject(t *testing.T) {
	cases := map[string]bool{
		"incoming/batch.zip": true,
		"UPPER.ZIP":          true,
		"notes.docx":         false,
		"folder.zip/":        false,
		"archive.zip.part":   false,
		"":                   false,
	}
	for name, want := range cases {
		assert.Equal(t, want, IsArchiveObject(name), name)
	}
}

func TestPublishedRunIgnoresUnpublishedRecords(t *testing.T) {
	uploaded := &models.Outputs{Composite: "gs://out/r1/merged.docx", Rendition: "gs://out/r1/merged.pdf"}
	local := &models.Outputs{Composite: "/tmp/out/merged.docx", Rendition: "/tmp/out/merged.pdf"}

	cases := []struct {
		name    string
		earlier []models.StatusRecord
		want    string
	}{
		{"no earlier run", nil, ""},
		{"still running", []models.StatusRecord{{RunID: "r1", CurrentStep: models.StepMerge}}, ""},
		{"failed run", []models.StatusRecord{{RunID: "r1", CurrentStep: models.StepError}}, ""},
		{"complete but never uploaded", []models.StatusRecord{{RunID: "r1", Complete: true, Outputs: local}}, ""},
		{"upload failed", []models.StatusRecord{{RunID: "r1", Complete: true, Outputs: local, UploadError: "one or more outputs failed to upload: 503"}}, ""},
		{"uploaded then flagged", []models.StatusRecord{{RunID: "r1", Complete: true, Outputs: uploaded, UploadError: "failed to record output locations"}}, ""},
		{"published", []models.StatusRecord{{RunID: "r1", Complete: true, Outputs: uploaded}}, "r1"},
		{"retry after failed upload", []models.StatusRecord{
			{RunID: "r0", Complete: true, Outputs: local, UploadError: "boom"},
			{RunID: "r1", Complete: true, Outputs: uploaded},
		}, "r1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := publishedRun(tc.earlier)
			assert.Equal(t, tc.want != "", ok)
			assert.Equal(t, tc.want, rec.RunID)
		})
	}
}

func TestOutputObjectName(t *testing.T) {
	assert.Equal(t, "run-7/merged.pdf", OutputObjectName("run-7", RenditionFileName))
	assert.Equal(t, "gs://out/run-7/merged.docx", gsURI("out", OutputObjectName("run-7", CompositeFileName)))
}

func TestLoadArchiveMergerConfig(t *testing.T) {
	t.Setenv("PROJECT_ID", "demo")
	t.Setenv("OUTPUT_BUCKET", "merged-out")
	t.Setenv("NORMALIZE_WORKERS", "4")

	cfg, err := LoadArchiveMergerConfig()
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.ProjectID)
	assert.Equal(t, "merged-out", cfg.OutputBucket)
	assert.Equal(t, "merge-runs", cfg.CollectionName)
	assert.Equal(t, 4, cfg.Pipeline.NormalizeWorkers)

	t.Setenv("OUTPUT_BUCKET", "")
	_, err = LoadArchiveMergerConfig()
	assert.ErrorContains(t, err, "OUTPUT_BUCKET")

	t.Setenv("PROJECT_ID", "")
	_, err = LoadArchiveMergerConfig()
	assert.ErrorContains(t, err, "PROJECT_ID")
}

func TestCalculateFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	hash, err := calculateFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)

	_, err = calculateFileHash(filepath.Join(t.TempDir(), "missing.zip"))
	assert.Error(t, err)
}
