package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores proof videos on the local filesystem. Writes go to a
// temporary file in the same directory and are renamed into place, so a
// concurrent reader never observes a partially written proof.
type Local struct {
	baseDir string
}

// NewLocal creates the storage directory if needed and returns the store.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", baseDir, err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Dir returns the storage base directory.
func (l *Local) Dir() string { return l.baseDir }

// ProofFilename is the stored name for a submission's proof. The extension
// comes from content sniffing, never from the client.
func ProofFilename(ref, ext string) string {
	return ref + "-proof" + ext
}

// Save writes data to name atomically and returns the byte count. The
// partial temp file is removed on any error.
func (l *Local) Save(name string, data io.Reader) (int64, error) {
	final := filepath.Join(l.baseDir, name)
	tmp, err := os.CreateTemp(l.baseDir, name+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write proof file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("close proof file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename proof file: %w", err)
	}
	return n, nil
}

// Open returns a reader and file info for a stored proof.
func (l *Local) Open(name string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(filepath.Join(l.baseDir, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// Exists reports whether the stored proof is present on disk.
func (l *Local) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(l.baseDir, name))
	return err == nil
}

// Remove deletes a stored proof. Missing files are not an error.
func (l *Local) Remove(name string) error {
	if err := os.Remove(filepath.Join(l.baseDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete proof file %s: %w", name, err)
	}
	return nil
}
