package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eddielth/bambu-status/logger"
)

const fieldExt = ".txt"

// FileStore keeps one text file per status field
type FileStore struct {
	basePath string
}

// NewFileStore creates basePath if needed
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init status directory: %s", basePath)
	return &FileStore{
		basePath: basePath,
	}, nil
}

// Dir returns the status directory
func (s *FileStore) Dir() string {
	return s.basePath
}

// Path returns the file backing name
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.basePath, name+fieldExt)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid status field name %q", name)
	}
	return nil
}

// Put writes value to a temp file and renames it over the field file, so
// a reader sees either the old or the new value, never a partial one.
func (s *FileStore) Put(name, value string) error {
	if err := validName(name); err != nil {
		return err
	}
	return WriteFileAtomic(s.Path(name), []byte(value))
}

// Get returns the trimmed value of name; ok is false when the field was never written
func (s *FileStore) Get(name string) (value string, ok bool, err error) {
	if err := validName(name); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s failed: %w", name, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Close implements Backend
func (s *FileStore) Close() error {
	return nil
}

// WriteFileAtomic replaces path with data via a sibling temp file in the same directory
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s failed: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s failed: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s failed: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s failed: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s failed: %w", path, err)
	}
	return nil
}
