package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/dealroom/internal/flock"
	"github.com/aretw0/dealroom/pkg/adapters/fs"
)

const fileLockTimeout = 10 * time.Second

// File keeps every key in one JSON file, rewritten atomically on each change.
// Every call rereads the file and changes hold <path>.lock, so several
// processes may share one path.
type File struct {
	path string
	mu   sync.Mutex
}

// OpenFile checks the store at path. A missing file is an empty store.
func OpenFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	f := &File{path: filepath.Clean(path)}
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

// Set stores value under key.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return f.update(func(data map[string][]byte) bool {
		data[key] = slices.Clone(value)
		return true
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	return f.update(func(data map[string][]byte) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}

// Close is a no-op; the file is not held open between calls.
func (f *File) Close() error { return nil }

// update applies change to the current contents under both locks and writes
// the result when change reports a modification.
func (f *File) update(change func(map[string][]byte) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create kv directory: %w", err)
	}
	unlock, err := flock.Acquire(f.path+".lock", fileLockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if !change(data) {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode kv file: %w", err)
	}
	return fs.WriteFileAtomic(f.path, raw, 0644)
}

func (f *File) load() (map[string][]byte, error) {
	data := make(map[string][]byte)
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read kv file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode kv file %s: %w", f.path, err)
		}
	}
	return data, nil
}
