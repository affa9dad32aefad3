package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/google/uuid"
	"golang.org/x/text/message"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

const (
	SettingsNamespace = "world-to-obsidian"
	SettingsKey       = "lastsettings"

	depsFolder   = "_Deps"
	homeFileName = "Home.md"
)

var ErrMalformedTemplate = errors.New("table template has no ##row## marker")

// Exporter turns a world into an Obsidian vault. Store, Storage and
// Templates are required; the other collaborators are optional.
type Exporter struct {
	Store     DocumentStore
	Storage   StorageBackend
	Templates TemplateSource
	Progress  ProgressReporter
	Settings  SettingsStore
	Ledger    RunLedger
	Messages  Localizer
	Logger    *slog.Logger

	// ConvertHTML renders rich-text bodies as Markdown instead of keeping HTML.
	ConvertHTML bool
	// Frontmatter prepends YAML properties to every record page.
	Frontmatter bool
	// RecordTimeout bounds the work done for a single record. Zero disables it.
	RecordTimeout time.Duration

	now func() time.Time
}

type Stats struct {
	RunID string
	worlddomain.RunSummary
}

type exportRun struct {
	storage   StorageBackend
	templates TemplateSource
	progress  ProgressReporter
	messages  Localizer
	log       *slog.Logger
	converter *md.Converter

	frontmatter   bool
	recordTimeout time.Duration

	root      string
	total     int
	processed int
	summary   worlddomain.RunSummary
}

// Run exports every collection enabled in settings. Per-record and per-type
// failures are collected in the returned Stats; the error is reserved for
// failures that leave no usable vault.
func (e Exporter) Run(ctx context.Context, settings worlddomain.ExportSettings) (stats Stats, err error) {
	if e.Store == nil || e.Storage == nil || e.Templates == nil {
		return Stats{}, errors.New("exporter: store, storage and templates are required")
	}
	now := e.now
	if now == nil {
		now = time.Now
	}

	r := &exportRun{
		storage:       e.Storage,
		templates:     e.Templates,
		progress:      e.Progress,
		messages:      e.Messages,
		log:           e.Logger,
		frontmatter:   e.Frontmatter,
		recordTimeout: e.RecordTimeout,
		summary:       worlddomain.RunSummary{Exported: map[worlddomain.Kind]int{}},
	}
	if r.progress == nil {
		r.progress = noopProgress{}
	}
	if r.messages == nil {
		r.messages = englishMessages{}
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.ConvertHTML {
		r.converter = newHTMLConverter()
	}

	w := e.Store.World()
	r.root = VaultRoot(w)
	stats.RunID = uuid.NewString()
	r.log = r.log.With("run", stats.RunID, "world", w.ID)

	ledger := e.Ledger
	if ledger != nil {
		if lerr := ledger.BeginRun(ctx, stats.RunID, w.ID, now()); lerr != nil {
			r.log.Warn("run ledger unavailable", "error", lerr)
			ledger = nil
		}
	}
	defer func() {
		stats.RunSummary = r.summary
		if ledger == nil {
			return
		}
		// The run context may already be cancelled; the ledger row must still close.
		if lerr := ledger.FinishRun(context.WithoutCancel(ctx), stats.RunID, now(), r.summary, err); lerr != nil {
			r.log.Warn("record run in ledger", "error", lerr)
		}
	}()

	if err := r.storage.CreateFolder(ctx, r.root); err != nil {
		return stats, fmt.Errorf("create vault root: %w", err)
	}

	for _, kind := range worlddomain.Kinds {
		if settings.Enabled(kind) {
			r.total += len(e.Store.Collection(kind))
		}
	}
	r.progress.SetProgress(0, r.messages.Sprintf("export.exporting"))

	user := resolveUser(e.Store, settings.TargetUserID)
	r.log.Info("export started", "user", user.ID, "records", r.total)

	for _, kind := range worlddomain.Kinds {
		if !settings.Enabled(kind) {
			continue
		}
		def := collectionDefs[kind]
		records := e.Store.Collection(kind)
		startIndex := r.processed

		n, perr := r.processCollection(ctx, def, records, user)
		r.summary.Exported[kind] = n
		if cerr := ctx.Err(); cerr != nil {
			return stats, fmt.Errorf("export %s: %w", kind, cerr)
		}
		if perr != nil {
			r.log.Error("collection export failed", "kind", kind, "error", perr)
			r.summary.Failures = append(r.summary.Failures, worlddomain.Failure{
				Kind:    kind,
				Stage:   stageCollection,
				Message: perr.Error(),
			})
			r.processed = startIndex + len(records)
		}
	}

	r.progress.SetProgress(100, r.messages.Sprintf("export.home"))
	if err := r.writeHome(ctx, w, settings); err != nil {
		return stats, err
	}
	r.progress.SetProgress(100, r.messages.Sprintf("export.done"))

	r.log.Info("export finished",
		"exported", r.summary.TotalExported(),
		"skipped", r.summary.Skipped,
		"files", r.summary.Files,
		"broken_assets", r.summary.BrokenAssets,
		"failures", len(r.summary.Failures),
	)
	return stats, nil
}

// LoadSelection returns the last saved settings, or the defaults when none
// were saved.
func (e Exporter) LoadSelection() (worlddomain.ExportSettings, error) {
	settings := worlddomain.DefaultExportSettings()
	if e.Settings == nil {
		return settings, nil
	}
	var saved worlddomain.ExportSettings
	found, err := e.Settings.Get(SettingsNamespace, SettingsKey, &saved)
	if err != nil {
		return settings, fmt.Errorf("load export selection: %w", err)
	}
	if !found {
		return settings, nil
	}
	saved.TargetUserID = ""
	return saved, nil
}

// SaveSelection remembers which collections were exported. The target user
// applies to one run only and is not stored.
func (e Exporter) SaveSelection(settings worlddomain.ExportSettings) error {
	if e.Settings == nil {
		return nil
	}
	settings.TargetUserID = ""
	if err := e.Settings.Set(SettingsNamespace, SettingsKey, settings); err != nil {
		return fmt.Errorf("save export selection: %w", err)
	}
	return nil
}

func resolveUser(store DocumentStore, targetID string) worlddomain.User {
	if targetID != "" {
		for _, u := range store.Users() {
			if u.ID == targetID {
				return u
			}
		}
	}
	return store.CurrentUser()
}

// VaultRoot is the directory under the output root that holds w's vault.
func VaultRoot(w worlddomain.World) string {
	if root := worlddomain.SanitizeName(w.ID); root != "" {
		return root
	}
	return "world"
}

var homeRows = []struct {
	placeholder string
	kind        worlddomain.Kind
}{
	{"SCENES#", worlddomain.KindScenes},
	{"ACTORS#", worlddomain.KindActors},
	{"ITEMS#", worlddomain.KindItems},
	{"ARTICLES#", worlddomain.KindArticles},
	{"ROLLTABLES#", worlddomain.KindTables},
}

func (r *exportRun) writeHome(ctx context.Context, w worlddomain.World, settings worlddomain.ExportSettings) error {
	tmpl := r.loadTemplate("home")

	binding := worlddomain.Binding{"WORLDNAME": w.Title}
	for _, row := range homeRows {
		binding[row.placeholder] = ""
		if settings.Enabled(row.kind) {
			binding[row.placeholder] = fmt.Sprintf("| [[All %s\\|%s]] | %d |\n", row.kind, row.kind, r.summary.Exported[row.kind])
		}
	}
	binding["WORLDDESCRIPTION"] = r.richText(ctx, w.Description)

	if err := r.storage.UploadFile(ctx, []byte(binding.Apply(tmpl)), homeFileName, r.root, true); err != nil {
		return fmt.Errorf("write home page: %w", err)
	}
	r.summary.Files++
	return nil
}

// loadTemplate returns "" when the template cannot be read; the page then
// renders without it.
func (r *exportRun) loadTemplate(name string) string {
	tmpl, err := r.templates.Load(name)
	if err != nil {
		r.log.Warn("template unavailable", "template", name, "error", err)
		return ""
	}
	return tmpl
}

var englishText = map[string]string{
	"export.exporting":      "Exporting world...",
	"export.exporting_type": "Exporting %s...",
	"export.home":           "Writing home page...",
	"export.done":           "Export complete",
}

type englishMessages struct{}

func (englishMessages) Sprintf(key message.Reference, a ...any) string {
	format, ok := key.(string)
	if !ok {
		return fmt.Sprint(key)
	}
	if text, ok := englishText[format]; ok {
		format = text
	}
	return fmt.Sprintf(format, a...)
}
