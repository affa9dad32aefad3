package settingsfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Store persists namespaced settings in a TOML file. Each namespace is a
// table and each key a value inside it.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[string]any
}

// Open loads path if it exists. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: map[string]any{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Get decodes namespace.key into dst and reports whether it was present.
func (s *Store) Get(namespace, key string, dst any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.data[namespace].(map[string]any)
	if !ok {
		return false, nil
	}
	val, ok := table[key]
	if !ok {
		return false, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return true, fmt.Errorf("encode %s.%s: %w", namespace, key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return true, fmt.Errorf("decode %s.%s: %w", namespace, key, err)
	}
	return true, nil
}

// Set stores value under namespace.key and writes the file.
func (s *Store) Set(namespace, key string, value any) error {
	plain, err := toPlain(value)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", namespace, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.data[namespace].(map[string]any)
	if !ok {
		table = map[string]any{}
		s.data[namespace] = table
	}
	table[key] = plain
	return s.save()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) save() error {
	out, err := toml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// toPlain turns value into maps, slices and scalars through its JSON form.
// TOML has no null, so null members are dropped.
func toPlain(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return dropNulls(out), nil
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if inner == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(inner)
		}
		return t
	case []any:
		out := t[:0]
		for _, inner := range t {
			if inner != nil {
				out = append(out, dropNulls(inner))
			}
		}
		return out
	default:
		return v
	}
}
