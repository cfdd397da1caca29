// Package prefs persists the terminal client's filter and sort choices.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"khojum/internal/config"
	"khojum/internal/filter"
	appLog "khojum/internal/log"
)

const (
	KeyFilter = "khojum_filter"
	KeySort   = "khojum_sort"
)

// Store is a small YAML key/value file. A missing or unreadable file reads
// as empty so callers fall back to variant defaults.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("prefs %s: %w", s.path, err)
	}
	return values, nil
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		appLog.Error("failed to read preferences", err, "path", s.path)
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// Set stores key=value, rewriting the file atomically.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		// Start over rather than keep failing on a corrupt file.
		appLog.Error("discarding unreadable preferences", err, "path", s.path)
		values = map[string]string{}
	}
	values[key] = value
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, 0o600)
}

// Load returns the saved filter and sort for v, or the variant defaults.
// A stored sort the variant does not offer falls back to its default.
func (s *Store) Load(v filter.Variant) (filter.Spec, filter.SortKey) {
	spec := filter.DefaultSpec()
	if key, ok := s.Get(KeyFilter); ok {
		spec = filter.ParseFilterKey(key)
	}
	sortName, _ := s.Get(KeySort)
	return spec, v.ParseSort(sortName)
}

// SaveFilter persists the filter button that produced this Spec. The
// search term is not persisted.
func (s *Store) SaveFilter(spec filter.Spec) error {
	return s.Set(KeyFilter, spec.Key())
}

func (s *Store) SaveSort(k filter.SortKey) error {
	return s.Set(KeySort, string(k))
}
