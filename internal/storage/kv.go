package storage

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	schemaVersion = "1.0"
	lockTimeout   = 5 * time.Second
)

// KVFile is a durable string-keyed map persisted as a single JSON document.
// Every Put rewrites the file atomically (write-through). It is safe for
// concurrent use and holds an advisory lock on the file while open.
type KVFile struct {
	path      string
	lock      *FileLock
	data      *kvData
	recovered error
	closed    bool
	mu        sync.RWMutex
}

// kvData is the top-level JSON structure.
type kvData struct {
	Version   string                     `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Entries   map[string]json.RawMessage `json:"entries"`
}

// OpenKVFile opens the store at path, creating it if it does not exist.
// A corrupt file is quarantined and replaced by an empty store; the error
// that triggered the recovery is available from Recovered.
func OpenKVFile(path string) (*KVFile, error) {
	s := &KVFile{
		path: path,
		lock: NewFileLock(path),
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	return s, nil
}

func (s *KVFile) load() error {
	data := &kvData{}
	err := ReadJSON(s.path, data)
	switch {
	case err == nil:
		if data.Entries == nil {
			data.Entries = make(map[string]json.RawMessage)
		}
		s.data = data
		return nil
	case errors.Is(err, ErrNotFound):
		s.data = newKVData()
		// Save immediately to catch permission errors early
		return s.save()
	case errors.Is(err, ErrStorageCorrupt):
		if qerr := Quarantine(s.path); qerr != nil {
			return qerr
		}
		s.recovered = err
		s.data = newKVData()
		return s.save()
	default:
		return err
	}
}

func (s *KVFile) save() error {
	s.data.UpdatedAt = time.Now()
	if err := WriteJSON(s.path, s.data); err != nil {
		return &StorageError{Op: "write", Entity: "kv", ID: s.path, Err: err}
	}
	return nil
}

func newKVData() *kvData {
	return &kvData{
		Version:   schemaVersion,
		UpdatedAt: time.Now(),
		Entries:   make(map[string]json.RawMessage),
	}
}

// Recovered returns the corruption error the store recovered from at open
// time, or nil if the file loaded cleanly.
func (s *KVFile) Recovered() error {
	return s.recovered
}

// Get returns the raw value stored under key.
func (s *KVFile) Get(key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data.Entries[key]
	if !ok {
		return nil, &StorageError{Op: "read", Entity: "kv", ID: key, Err: ErrNotFound}
	}
	return v, nil
}

// Put encodes value under key and persists the store.
func (s *KVFile) Put(key string, value any) error {
	if key == "" {
		return &StorageError{Op: "write", Entity: "kv", Err: ErrInvalidInput}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return &StorageError{Op: "write", Entity: "kv", ID: key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StorageError{Op: "write", Entity: "kv", ID: key, Err: ErrClosed}
	}
	s.data.Entries[key] = raw
	return s.save()
}

// All returns a copy of every entry.
func (s *KVFile) All() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(s.data.Entries))
	for k, v := range s.data.Entries {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *KVFile) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data.Entries))
	for k := range s.data.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (s *KVFile) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Entries)
}

// Close releases the file lock.
func (s *KVFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.lock.Unlock()
}
