package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter provides atomic file write operations using temp file + rename.
// This ensures that the target file is never left in a partially-written state.
type AtomicWriter struct {
	path    string
	tmpPath string
	file    *os.File
}

// NewAtomicWriter creates a writer for atomic file updates.
// The writer creates a temporary file in the same directory as the target,
// and on Commit(), atomically renames it to replace the target.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".ytsheets-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &AtomicWriter{
		path:    path,
		tmpPath: tmpFile.Name(),
		file:    tmpFile,
	}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (n int, err error) {
	return w.file.Write(p)
}

// Commit atomically replaces the target file with the temporary file.
// This syncs the file to disk before renaming to ensure durability.
func (w *AtomicWriter) Commit() error {
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath) // Best effort cleanup
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temporary file without committing.
func (w *AtomicWriter) Abort() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// WriteJSON encodes v as indented JSON and atomically replaces path with it.
func WriteJSON(path string, v any) error {
	writer, err := NewAtomicWriter(path)
	if err != nil {
		return &StorageError{Op: "write", Entity: "file", ID: path, Err: err}
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		writer.Abort()
		return &StorageError{Op: "write", Entity: "file", ID: path, Err: err}
	}

	if err := writer.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "file", ID: path, Err: err}
	}
	return nil
}

// ReadJSON decodes path into v. A missing file returns ErrNotFound and an
// undecodable one returns ErrStorageCorrupt, both wrapped in a StorageError.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &StorageError{Op: "read", Entity: "file", ID: path, Err: ErrNotFound}
		}
		return &StorageError{Op: "read", Entity: "file", ID: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &StorageError{Op: "read", Entity: "file", ID: path, Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}
	return nil
}

// Quarantine moves a corrupt file aside so a fresh one can take its place.
// The original is kept as path + ".corrupt" for inspection.
func Quarantine(path string) error {
	if err := os.Rename(path, path+".corrupt"); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "quarantine", Entity: "file", ID: path, Err: err}
	}
	return nil
}
