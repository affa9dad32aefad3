package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

type fakeStore struct {
	world       worlddomain.World
	users       []worlddomain.User
	collections map[worlddomain.Kind][]worlddomain.Record
}

func (s *fakeStore) World() worlddomain.World  { return s.world }
func (s *fakeStore) Users() []worlddomain.User { return s.users }

func (s *fakeStore) CurrentUser() worlddomain.User {
	for _, u := range s.users {
		if u.Current {
			return u
		}
	}
	return worlddomain.User{}
}

func (s *fakeStore) Collection(kind worlddomain.Kind) []worlddomain.Record {
	return s.collections[kind]
}

// memStorage keeps the vault in memory. sources holds the binaries that
// FetchBinary can return; fetches counts requests per source.
type memStorage struct {
	folders map[string]bool
	files   map[string][]byte
	sources map[string][]byte
	fetches map[string]int
	failOn  map[string]bool
}

func newMemStorage() *memStorage {
	return &memStorage{
		folders: map[string]bool{},
		files:   map[string][]byte{},
		sources: map[string][]byte{},
		fetches: map[string]int{},
		failOn:  map[string]bool{},
	}
}

func (m *memStorage) CreateFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.folders[folder] = true
	return nil
}

func (m *memStorage) UploadFile(ctx context.Context, data []byte, filename, folder string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := path.Join(folder, filename)
	if m.failOn[p] {
		return errors.New("disk full")
	}
	if _, exists := m.files[p]; exists && !overwrite {
		return nil
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *memStorage) FetchBinary(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.fetches[source]++
	data, ok := m.sources[source]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memStorage) file(p string) (string, bool) {
	data, ok := m.files[p]
	return string(data), ok
}

type mapTemplates map[string]string

func (t mapTemplates) Load(name string) (string, error) {
	tmpl, ok := t[name]
	if !ok {
		return "", os.ErrNotExist
	}
	return tmpl, nil
}

type progressCall struct {
	percent float64
	message string
}

type recordingProgress struct {
	calls []progressCall
}

func (p *recordingProgress) SetProgress(percent float64, message string) {
	p.calls = append(p.calls, progressCall{percent: percent, message: message})
}

type memSettings map[string][]byte

func (s memSettings) Get(namespace, key string, dst any) (bool, error) {
	raw, ok := s[namespace+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s memSettings) Set(namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s[namespace+"/"+key] = raw
	return nil
}

type finishedRun struct {
	id      string
	summary worlddomain.RunSummary
	cause   error
}

type recordingLedger struct {
	begun    []string
	finished []finishedRun
}

func (l *recordingLedger) BeginRun(_ context.Context, id, _ string, _ time.Time) error {
	l.begun = append(l.begun, id)
	return nil
}

func (l *recordingLedger) FinishRun(_ context.Context, id string, _ time.Time, summary worlddomain.RunSummary, cause error) error {
	l.finished = append(l.finished, finishedRun{id: id, summary: summary, cause: cause})
	return nil
}

func newTestRun(storage StorageBackend, tmpl TemplateSource) *exportRun {
	return &exportRun{
		storage:   storage,
		templates: tmpl,
		progress:  noopProgress{},
		messages:  englishMessages{},
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		root:      "w",
		summary:   worlddomain.RunSummary{Exported: map[worlddomain.Kind]int{}},
	}
}

func testTemplates() mapTemplates {
	return mapTemplates{
		"home":                  "# WORLDNAME\n\nSCENES#ACTORS#ITEMS#ARTICLES#ROLLTABLES#\nWORLDDESCRIPTION",
		"scenes-page":           "ASSETIMG\n# ASSETNAME SCENEWIDTHxSCENEHEIGHT",
		"scenes-list":           "# All Scenes\nASSETLIST",
		"scenes-table":          "| Scene |\nLIST\n##| ASSETNAME |##",
		"actors-page":           "ASSETIMG\n# ASSETNAME\nHP ACTORHPCUR/ACTORHPMAX\nASSETCONTENT\nASSETUUID",
		"actors-list":           "# All Actors\nASSETLIST",
		"actors-table":          "LIST\n##| ASSETIMG | ASSETNAME |##",
		"items-page":            "# ASSETNAME\nASSETCONTENT",
		"items-list":            "# All Items\nASSETLIST",
		"items-table":           "LIST\n##| ASSETNAME | ITEMPRICE ITEMCURRENCY |##",
		"articles-page":         "# ASSETNAME (PAGES)\nASSETCONTENT",
		"articles-list":         "ASSETLIST",
		"articles-table":        "LIST\n##| ASSETNAME |##",
		"rollable-tables-page":  "# ASSETNAME `TABLEFORMULA`\nASSETCONTENT",
		"rollable-tables-list":  "ASSETLIST",
		"rollable-tables-table": "LIST\n##| ASSETNAME |##",
	}
}
