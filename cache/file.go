package cache

import (
	"context"
	"encoding/json"

	"ytsheets/internal/storage"
)

// FileBackend persists entries in a single JSON file.
type FileBackend struct {
	kv *storage.KVFile
}

// OpenFile opens (or creates) the cache file at path. A corrupt file is
// quarantined and replaced; Recovered reports that case.
func OpenFile(path string) (*FileBackend, error) {
	kv, err := storage.OpenKVFile(path)
	if err != nil {
		return nil, err
	}
	return &FileBackend{kv: kv}, nil
}

// Recovered returns the corruption error recovered from at open, if any.
func (b *FileBackend) Recovered() error {
	return b.kv.Recovered()
}

// Load implements Backend. Undecodable entries are skipped.
func (b *FileBackend) Load(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry)
	for k, raw := range b.kv.All() {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		e.Key = k
		out[k] = e
	}
	return out, nil
}

// Store implements Backend.
func (b *FileBackend) Store(ctx context.Context, e Entry) error {
	return b.kv.Put(e.Key, e)
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return b.kv.Close()
}
