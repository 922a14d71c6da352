// Package settings is a hierarchical key/value store grouped by named
// sections, persisted as YAML.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Section reads and writes keys of one named group.
type Section interface {
	Float(key string, def float64) float64
	Int(key string, def int) int
	String(key string, def string) string
	Bool(key string, def bool) bool
	Set(key string, value interface{})
}

// Store hands out sections by name.
type Store interface {
	Section(name string) Section
}

// File is a Store backed by a YAML document. The zero path keeps
// everything in memory.
type File struct {
	path string

	mu   sync.Mutex
	data map[string]map[string]interface{}
}

// New returns an empty in-memory store.
func New() *File {
	return &File{data: make(map[string]map[string]interface{})}
}

// Load reads path. A missing file yields an empty store that Save will create.
func Load(path string) (*File, error) {
	f := New()
	f.path = path
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.data == nil {
		f.data = make(map[string]map[string]interface{})
	}
	return f, nil
}

// Save writes the store back to its file.
func (f *File) Save() error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	data, err := yaml.Marshal(f.data)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}

func (f *File) Section(name string) Section {
	return &section{f: f, name: name}
}

type section struct {
	f    *File
	name string
}

func (s *section) get(key string) (interface{}, bool) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	v, ok := s.f.data[s.name][key]
	return v, ok
}

func (s *section) Set(key string, value interface{}) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	m := s.f.data[s.name]
	if m == nil {
		m = make(map[string]interface{})
		s.f.data[s.name] = m
	}
	m[key] = value
}

func (s *section) Float(key string, def float64) float64 {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s *section) Int(key string, def int) int {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s *section) String(key string, def string) string {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func (s *section) Bool(key string, def bool) bool {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
