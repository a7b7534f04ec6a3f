// Package manifest remembers which inputs a previous run already transformed,
// so a resumed run can skip unchanged documents.
package manifest

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

// FileName is the default manifest name inside the output directory.
const FileName = ".pdf-toolkit.manifest"

// SchemaVersion is the version of the manifest file structure. Files with another
// version are discarded on Load.
const SchemaVersion = "1.0"

const (
	FormatGob     = "gob"
	FormatJSON    = "json"
	DefaultFormat = FormatGob
)

var (
	// ErrLoad indicates the manifest file exists but could not be opened.
	ErrLoad = errors.New("failed to load manifest")
	// ErrPersist indicates the manifest could not be written.
	ErrPersist = errors.New("failed to persist manifest")
)

// Entry is the stored state of one successfully transformed source.
type Entry struct {
	SourceSize    int64     `json:"sourceSize" gob:"sourceSize"`
	SourceModTime time.Time `json:"sourceModTime" gob:"sourceModTime"`
	Output        string    `json:"output" gob:"output"`
	CompletedAt   time.Time `json:"completedAt" gob:"completedAt"`
}

// Header identifies the manifest file.
type Header struct {
	SchemaVersion string `json:"schemaVersion" gob:"schemaVersion"`
	ToolVersion   string `json:"toolVersion" gob:"toolVersion"`
}

type jsonFile struct {
	Header Header           `json:"header"`
	Index  map[string]Entry `json:"index"`
}

// FileManifest implements batch.Manifest on top of a local file. Entries are
// keyed by operation and absolute source path.
type FileManifest struct {
	mu          sync.RWMutex
	index       map[string]Entry
	logger      *slog.Logger
	operation   string
	toolVersion string
	format      string
	now         func() time.Time
}

var _ batch.Manifest = (*FileManifest)(nil)

// New creates an empty manifest for operation. format is "gob" or "json".
func New(loggerHandler slog.Handler, operation, toolVersion, format string) *FileManifest {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatGob {
		format = DefaultFormat
	}
	if toolVersion == "" {
		toolVersion = "dev"
	}
	return &FileManifest{
		index:       make(map[string]Entry),
		logger:      slog.New(loggerHandler).With(slog.String("component", "manifest"), slog.String("format", format)),
		operation:   operation,
		toolVersion: toolVersion,
		format:      format,
		now:         time.Now,
	}
}

func (m *FileManifest) key(source string) string {
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	return m.operation + "|" + source
}

// Len returns the number of entries.
func (m *FileManifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// Load reads the manifest from path. A missing, empty, corrupt or
// version-mismatched file yields an empty manifest and no error; only an
// unreadable file is reported.
func (m *FileManifest) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]Entry)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Debug("Manifest not found, starting empty", "path", path)
			return nil
		}
		return fmt.Errorf("%w: open '%s': %w", ErrLoad, path, err)
	}
	defer f.Close()

	var header Header
	var index map[string]Entry
	var decodeErr error
	if m.format == FormatJSON {
		var data jsonFile
		decodeErr = json.NewDecoder(f).Decode(&data)
		header, index = data.Header, data.Index
	} else {
		dec := gob.NewDecoder(f)
		if decodeErr = dec.Decode(&header); decodeErr == nil {
			decodeErr = dec.Decode(&index)
		}
	}
	if decodeErr != nil {
		m.logger.Warn("Manifest unreadable, starting empty", "path", path, "error", decodeErr.Error())
		return nil
	}
	if header.SchemaVersion != SchemaVersion {
		m.logger.Warn("Manifest schema mismatch, starting empty", "path", path, "file_schema", header.SchemaVersion)
		return nil
	}
	if header.ToolVersion != m.toolVersion && header.ToolVersion != "dev" && m.toolVersion != "dev" {
		m.logger.Warn("Manifest written by another version, starting empty", "path", path, "file_version", header.ToolVersion)
		return nil
	}
	if index != nil {
		m.index = index
	}
	m.logger.Info("Manifest loaded", "path", path, "entries", len(m.index))
	return nil
}

// Check implements batch.Manifest. It reports a hit when the source still has
// the recorded size and modification time and the recorded output still exists
// at the item's output path.
func (m *FileManifest) Check(item batch.WorkItem) bool {
	m.mu.RLock()
	entry, found := m.index[m.key(item.Source)]
	m.mu.RUnlock()
	if !found {
		return false
	}
	if entry.Output != item.Output {
		m.logger.Debug("Manifest miss (output moved)", "source", item.Source)
		return false
	}
	info, err := os.Stat(item.Source)
	if err != nil || info.Size() != entry.SourceSize || !info.ModTime().Equal(entry.SourceModTime) {
		m.logger.Debug("Manifest miss (source changed)", "source", item.Source)
		return false
	}
	if _, err := os.Stat(entry.Output); err != nil {
		m.logger.Debug("Manifest miss (output missing)", "source", item.Source)
		return false
	}
	return true
}

// Update implements batch.Manifest. Successful records are stored; failed
// records drop any previous entry. Other outcomes leave the entry alone.
func (m *FileManifest) Update(rec batch.ResultRecord) error {
	key := m.key(rec.Source)
	switch rec.Status {
	case batch.StatusSucceeded:
		info, err := os.Stat(rec.Source)
		if err != nil {
			// Originals may be deleted after success; nothing to compare against later.
			m.mu.Lock()
			delete(m.index, key)
			m.mu.Unlock()
			return nil
		}
		m.mu.Lock()
		m.index[key] = Entry{
			SourceSize:    info.Size(),
			SourceModTime: info.ModTime(),
			Output:        rec.Output,
			CompletedAt:   m.now().UTC(),
		}
		m.mu.Unlock()
	case batch.StatusFailed:
		m.mu.Lock()
		delete(m.index, key)
		m.mu.Unlock()
	}
	return nil
}

// Persist implements batch.Manifest with an atomic temp-file-and-rename write.
func (m *FileManifest) Persist(path string) error {
	m.mu.RLock()
	index := make(map[string]Entry, len(m.index))
	for k, v := range m.index {
		index[k] = v
	}
	m.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory '%s': %w", ErrPersist, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temporary file in '%s': %w", ErrPersist, dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	header := Header{SchemaVersion: SchemaVersion, ToolVersion: m.toolVersion}
	if m.format == FormatJSON {
		enc := json.NewEncoder(tmp)
		enc.SetIndent("", "  ")
		err = enc.Encode(jsonFile{Header: header, Index: index})
	} else {
		enc := gob.NewEncoder(tmp)
		if err = enc.Encode(header); err == nil {
			err = enc.Encode(index)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: encode (%s): %w", ErrPersist, m.format, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close '%s': %w", ErrPersist, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return fmt.Errorf("%w: rename to '%s': %w", ErrPersist, path, err)
	}
	committed = true
	m.logger.Info("Manifest persisted", "path", path, "entries", len(index))
	return nil
}
