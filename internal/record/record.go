// Package record persists which remote content version was last applied for
// each content category.
package record

import (
	"fmt"
	"strings"
	"sync"

	"blocklaunch/internal/jsonfile"
)

// DefaultVersion is recorded for categories that were never installed.
const DefaultVersion = "0.0.0"

// Component names a content category tracked by the record.
type Component string

const (
	Instance     Component = "instance"
	Libraries    Component = "libraries"
	Mods         Component = "mods"
	Texturepacks Component = "texturepacks"
)

// Components lists every tracked category in install order.
var Components = []Component{Instance, Libraries, Mods, Texturepacks}

// Record is the on-disk version record.
type Record struct {
	Instance     string `json:"instance"`
	Libraries    string `json:"libraries"`
	Mods         string `json:"mods"`
	Texturepacks string `json:"texturepacks"`
}

// Default returns a record with every category at DefaultVersion.
func Default() Record {
	return Record{
		Instance:     DefaultVersion,
		Libraries:    DefaultVersion,
		Mods:         DefaultVersion,
		Texturepacks: DefaultVersion,
	}
}

// ApplyDefaults fills empty fields with DefaultVersion.
func (r *Record) ApplyDefaults() {
	for _, c := range Components {
		if strings.TrimSpace(r.Get(c)) == "" {
			r.Set(c, DefaultVersion)
		}
	}
}

// Get returns the recorded version of c.
func (r Record) Get(c Component) string {
	switch c {
	case Instance:
		return r.Instance
	case Libraries:
		return r.Libraries
	case Mods:
		return r.Mods
	case Texturepacks:
		return r.Texturepacks
	}
	return ""
}

// Set records version for c. Unknown components are ignored.
func (r *Record) Set(c Component, version string) {
	switch c {
	case Instance:
		r.Instance = version
	case Libraries:
		r.Libraries = version
	case Mods:
		r.Mods = version
	case Texturepacks:
		r.Texturepacks = version
	}
}

// Store owns the record file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing file yields Default. A corrupt file also
// yields Default, together with the decode error so callers can log it.
func (s *Store) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Record, error) {
	rec := Default()
	var stored Record
	found, err := jsonfile.Load(s.path, &stored)
	if err != nil {
		return rec, fmt.Errorf("load version record: %w", err)
	}
	if !found {
		return rec, nil
	}
	stored.ApplyDefaults()
	return stored, nil
}

// Save replaces the record file.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ApplyDefaults()
	return jsonfile.Save(s.path, rec)
}

// Reset overwrites the record with Default, discarding whatever is on disk.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonfile.Save(s.path, Default())
}

// Bump records version for a single component, leaving the others as they
// are on disk. Call it only after that component is fully installed. An
// unreadable record is left untouched and reported.
func (s *Store) Bump(c Component, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load()
	if err != nil {
		return fmt.Errorf("record %s %s: %w", c, version, err)
	}
	rec.Set(c, version)
	if err := jsonfile.Save(s.path, rec); err != nil {
		return fmt.Errorf("record %s %s: %w", c, version, err)
	}
	return nil
}
