package manifest_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/batch/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManifest(t *testing.T, format string) (*manifest.FileManifest, *bytes.Buffer) {
	t.Helper()
	logBuf := &bytes.Buffer{}
	h := slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return manifest.New(h, "compress", "v1.2.0", format), logBuf
}

// fixture creates a source and its output and returns the item and its success record.
func fixture(t *testing.T, dir string) (batch.WorkItem, batch.ResultRecord) {
	t.Helper()
	src := filepath.Join(dir, "in", "a.pdf")
	out := filepath.Join(dir, "out", "a_compressed.pdf")
	testutil.CreateDummyFile(t, src, "%PDF-1.4 source")
	testutil.CreateDummyFile(t, out, "%PDF-1.4 output")
	item := batch.WorkItem{ID: 0, Source: src, Output: out}
	rec := batch.ResultRecord{ItemID: 0, Source: src, Output: out, Status: batch.StatusSucceeded}
	return item, rec
}

func TestManifestCheckAfterUpdate(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManifest(t, "")
	item, rec := fixture(t, dir)

	assert.False(t, m.Check(item), "empty manifest misses")
	require.NoError(t, m.Update(rec))
	assert.True(t, m.Check(item))
	assert.Equal(t, 1, m.Len())

	t.Run("OutputMovedMisses", func(t *testing.T) {
		moved := item
		moved.Output = filepath.Join(dir, "elsewhere.pdf")
		assert.False(t, m.Check(moved))
	})

	t.Run("SourceChangedMisses", func(t *testing.T) {
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(item.Source, later, later))
		assert.False(t, m.Check(item))
	})
}

func TestManifestOutputMissing(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManifest(t, "")
	item, rec := fixture(t, dir)
	require.NoError(t, m.Update(rec))
	require.NoError(t, os.Remove(item.Output))
	assert.False(t, m.Check(item))
}

func TestManifestFailureDropsEntry(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManifest(t, "")
	item, rec := fixture(t, dir)
	require.NoError(t, m.Update(rec))

	rec.Status = batch.StatusCancelled
	require.NoError(t, m.Update(rec))
	assert.True(t, m.Check(item), "cancellation keeps the earlier success")

	rec.Status = batch.StatusFailed
	require.NoError(t, m.Update(rec))
	assert.False(t, m.Check(item))
}

func TestManifestPersistAndLoad(t *testing.T) {
	for _, format := range []string{manifest.FormatGob, manifest.FormatJSON} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			item, rec := fixture(t, dir)
			path := filepath.Join(dir, "out", manifest.FileName)

			m, _ := newManifest(t, format)
			require.NoError(t, m.Update(rec))
			require.NoError(t, m.Persist(path))
			assert.FileExists(t, path)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), ".tmp-", "temporary file must be renamed")
			}

			reloaded, _ := newManifest(t, format)
			require.NoError(t, reloaded.Load(path))
			assert.Equal(t, 1, reloaded.Len())
			assert.True(t, reloaded.Check(item))
		})
	}
}

func TestManifestLoadTolerance(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		m, _ := newManifest(t, "")
		require.NoError(t, m.Load(filepath.Join(t.TempDir(), "none")))
		assert.Equal(t, 0, m.Len())
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), manifest.FileName)
		testutil.CreateDummyFile(t, path, "not a gob stream")
		m, logBuf := newManifest(t, "")
		require.NoError(t, m.Load(path))
		assert.Equal(t, 0, m.Len())
		assert.Contains(t, logBuf.String(), "Manifest unreadable")
	})

	t.Run("OtherToolVersion", func(t *testing.T) {
		dir := t.TempDir()
		_, rec := fixture(t, dir)
		path := filepath.Join(dir, manifest.FileName)
		old := manifest.New(nil, "compress", "v0.9.0", manifest.FormatJSON)
		require.NoError(t, old.Update(rec))
		require.NoError(t, old.Persist(path))

		m, logBuf := newManifest(t, manifest.FormatJSON)
		require.NoError(t, m.Load(path))
		assert.Equal(t, 0, m.Len())
		assert.Contains(t, logBuf.String(), "another version")
	})

	t.Run("OperationsDoNotCollide", func(t *testing.T) {
		dir := t.TempDir()
		item, rec := fixture(t, dir)
		compress, _ := newManifest(t, "")
		require.NoError(t, compress.Update(rec))

		ocr := manifest.New(nil, "ocr", "v1.2.0", "")
		assert.False(t, ocr.Check(item))
	})
}

func TestManifestConcurrentUpdates(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManifest(t, "")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		src := filepath.Join(dir, "in", string(rune('a'+i))+".pdf")
		testutil.CreateDummyFile(t, src, "x")
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			_ = m.Update(batch.ResultRecord{Source: src, Output: src + ".out", Status: batch.StatusSucceeded})
		}(src)
	}
	wg.Wait()
	assert.Equal(t, 20, m.Len())
}
