package store

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// Keys for the persisted playback/session mirrors. Values round-trip through
// JSON; a missing or corrupt entry falls back to the caller's zero value.
const (
	KeyCurrentSong   = "currentSong"
	KeyQueue         = "queue"
	KeyPlayMode      = "playMode"
	KeyAudioQuality  = "audioQuality"
	KeySearchHistory = "searchHistory"
	KeyTheme         = "theme"
	KeyAPIBase       = "apiBase"
	KeyProxyOverride = "proxyOverride"
)

var ErrNotFound = errors.New("store: key not found")

// KV is the persistence boundary for session state. Implementations must
// round-trip any JSON-serializable value.
type KV interface {
	Get(key string, v any) error
	Set(key string, v any) error
	Delete(key string) error
}

type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string][]byte{}}
}

func (m *MemoryKV) Get(key string, v any) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (m *MemoryKV) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// FileKV keeps the whole key space in one JSON file, rewritten on every Set.
type FileKV struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

func NewFileKV(path string) (*FileKV, error) {
	kv := &FileKV{path: path, data: map[string]json.RawMessage{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kv, nil
		}
		return nil, err
	}
	// A corrupt state file starts over empty rather than failing startup.
	if err := json.Unmarshal(raw, &kv.data); err != nil {
		kv.data = map[string]json.RawMessage{}
	}
	return kv, nil
}

func (f *FileKV) Get(key string, v any) error {
	f.mu.Lock()
	raw, ok := f.data[key]
	f.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (f *FileKV) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = raw
	return f.flush()
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return f.flush()
}

func (f *FileKV) flush() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0644)
}
