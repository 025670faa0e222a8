package nvs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileName = "zoneguard_nvs.json"

type fileData struct {
	Values     map[string]uint32 `json:"values"`
	LastUpdate time.Time         `json:"last_update"`
}

// File keeps values in a JSON file, rewritten on every put.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]uint32
}

// OpenFile loads path, or the default under ~/.cache/zoneguard when path is empty.
// A missing file starts empty.
func OpenFile(path string) (*File, error) {
	if path == "" {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, fileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create nvs directory: %w", err)
	}

	f := &File{path: path, values: make(map[string]uint32)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read nvs file: %w", err)
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nvs file: %w", err)
	}
	if fd.Values != nil {
		f.values = fd.Values
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) GetUint(key string) (uint32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) PutUint(key string, v uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = v

	data, err := json.Marshal(fileData{Values: f.values, LastUpdate: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal nvs data: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write nvs file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace nvs file: %w", err)
	}
	return nil
}

// Delete removes the backing file.
func (f *File) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]uint32)
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete nvs file: %w", err)
	}
	return nil
}

func defaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cache", "zoneguard"), nil
}
