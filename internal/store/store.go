// Package store reads and writes the flat JSON files behind the site: the
// events file and the submitted listings file. Each file holds a single JSON
// array and is rewritten whole on every change.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"khojum/internal/config"
	appLog "khojum/internal/log"
	"khojum/internal/model"
)

// StorageError reports a failed read or write of a backing file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EventsFile is the read-only events data file.
type EventsFile struct {
	Path string
}

// Load reads and decodes every item. A missing or malformed file is a
// StorageError.
func (f EventsFile) Load() ([]model.Item, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: f.Path, Err: err}
	}
	var items []model.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &StorageError{Op: "decode", Path: f.Path, Err: err}
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// Listings is the submitted-listings file. Writers in this process are
// serialized; the file is replaced atomically on every append.
type Listings struct {
	path string
	mu   sync.Mutex
}

func NewListings(path string) *Listings {
	return &Listings{path: path}
}

func (l *Listings) Path() string { return l.path }

// Init creates the file with an empty array when it does not exist yet.
func (l *Listings) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "stat", Path: l.path, Err: err}
	}
	if err := config.WriteFileAtomic(l.path, []byte("[]\n"), 0o644); err != nil {
		return &StorageError{Op: "write", Path: l.path, Err: err}
	}
	return nil
}

// All returns every stored listing. A missing file is an empty list.
func (l *Listings) All() ([]model.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Approved returns the listings cleared for publication.
func (l *Listings) Approved() ([]model.Listing, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	out := make([]model.Listing, 0, len(all))
	for _, li := range all {
		if li.Status == model.StatusApproved {
			out = append(out, li)
		}
	}
	return out, nil
}

// Append adds one listing and rewrites the file.
func (l *Listings) Append(li model.Listing) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.read()
	if err != nil {
		return err
	}
	all = append(all, li)

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: l.path, Err: err}
	}
	if err := config.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return &StorageError{Op: "write", Path: l.path, Err: err}
	}
	appLog.Info("listing stored", "id", li.ID, "total", len(all))
	return nil
}

func (l *Listings) read() ([]model.Listing, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Listing{}, nil
		}
		return nil, &StorageError{Op: "read", Path: l.path, Err: err}
	}
	if len(data) == 0 {
		return []model.Listing{}, nil
	}
	var all []model.Listing
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, &StorageError{Op: "decode", Path: l.path, Err: err}
	}
	return all, nil
}
