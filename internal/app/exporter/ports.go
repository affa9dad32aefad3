package exporter

import (
	"context"
	"time"

	"golang.org/x/text/message"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

// DocumentStore exposes the world being exported.
type DocumentStore interface {
	World() worlddomain.World
	Users() []worlddomain.User
	CurrentUser() worlddomain.User
	Collection(kind worlddomain.Kind) []worlddomain.Record
}

// StorageBackend writes vault files and reads source binaries. Folder and
// file paths are slash separated and relative to the vault output root.
type StorageBackend interface {
	CreateFolder(ctx context.Context, folder string) error
	UploadFile(ctx context.Context, data []byte, filename, folder string, overwrite bool) error
	FetchBinary(ctx context.Context, source string) ([]byte, error)
}

// FileTimesSetter is implemented by backends that can stamp record times
// onto written pages.
type FileTimesSetter interface {
	SetFileTimes(path string, created, modified time.Time) error
}

type SettingsStore interface {
	Get(namespace, key string, dst any) (bool, error)
	Set(namespace, key string, value any) error
}

// ProgressReporter receives a percentage in [0, 100] and a status line.
type ProgressReporter interface {
	SetProgress(percent float64, message string)
}

type TemplateSource interface {
	Load(name string) (string, error)
}

type RunLedger interface {
	BeginRun(ctx context.Context, id, worldID string, started time.Time) error
	FinishRun(ctx context.Context, id string, finished time.Time, summary worlddomain.RunSummary, cause error) error
}

// Localizer formats catalog messages. *message.Printer satisfies it.
type Localizer interface {
	Sprintf(key message.Reference, a ...any) string
}
