// Package settings persists the autobuy document as a pretty-printed JSON file.
// Writes go to a temp file in the same directory which is then renamed over the
// target, so readers never see a partially written document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	"github.com/rail-service/invest_bot/internal/domain/services/autobuy"
)

const filePerm = 0o644

// Store serializes every access to the settings file behind one mutex
type Store struct {
	path     string
	defaults autobuy.Defaults
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewStore creates a store backed by path
func NewStore(path string, defaults autobuy.Defaults, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:     path,
		defaults: defaults,
		logger:   logger,
	}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load returns the normalized settings. A missing file is created with defaults;
// an unparsable file is logged and replaced by defaults in memory only.
func (s *Store) Load() (entities.AutobuySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save normalizes doc and atomically replaces the file with it
func (s *Store) Save(doc entities.AutobuySettings) (entities.AutobuySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

// Update loads, applies fn and saves under a single lock acquisition.
// When fn returns an error nothing is written.
func (s *Store) Update(fn func(doc *entities.AutobuySettings) error) (entities.AutobuySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return entities.AutobuySettings{}, err
	}
	if err := fn(&doc); err != nil {
		return doc, err
	}
	return s.save(doc)
}

func (s *Store) load() (entities.AutobuySettings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Settings file not found, creating defaults", zap.String("path", s.path))
		return s.save(autobuy.DefaultSettings(s.defaults))
	}
	if err != nil {
		return entities.AutobuySettings{}, fmt.Errorf("read settings: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("Settings file is not valid JSON, using defaults",
			zap.String("path", s.path),
			zap.Error(err))
		return autobuy.DefaultSettings(s.defaults), nil
	}
	return autobuy.Normalize(raw, s.defaults), nil
}

func (s *Store) save(doc entities.AutobuySettings) (entities.AutobuySettings, error) {
	doc = autobuy.NormalizeSettings(doc, s.defaults)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return entities.AutobuySettings{}, fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data, filePerm); err != nil {
		return entities.AutobuySettings{}, fmt.Errorf("write settings: %w", err)
	}
	return doc, nil
}

// writeFileAtomic writes data to a temp file, fsyncs it and renames it over path
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best effort, makes the rename durable on unix
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
