package worldjson

import (
	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

// Store serves a loaded world export to the exporter.
type Store struct {
	data worlddomain.ExportData
}

// Open reads inputDir and returns a Store over its contents.
func Open(inputDir string) (*Store, error) {
	data, err := ReadExport(inputDir)
	if err != nil {
		return nil, err
	}
	return NewStore(data), nil
}

func NewStore(data worlddomain.ExportData) *Store {
	return &Store{data: data}
}

func (s *Store) World() worlddomain.World {
	return s.data.World
}

func (s *Store) Users() []worlddomain.User {
	out := make([]worlddomain.User, len(s.data.Users))
	copy(out, s.data.Users)
	return out
}

// CurrentUser returns the user flagged as current, else the first
// gamemaster, else the first user. The zero User has no access beyond
// default ownership.
func (s *Store) CurrentUser() worlddomain.User {
	for _, u := range s.data.Users {
		if u.Current {
			return u
		}
	}
	for _, u := range s.data.Users {
		if u.IsGM() {
			return u
		}
	}
	if len(s.data.Users) > 0 {
		return s.data.Users[0]
	}
	return worlddomain.User{}
}

func (s *Store) Collection(kind worlddomain.Kind) []worlddomain.Record {
	return s.data.Collections[kind]
}
