package exporter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
	"github.com/sleroq/world-to-obsidian/internal/infra/templates"
)

func limitedFor(userID string) map[string]worlddomain.Ownership {
	return map[string]worlddomain.Ownership{userID: worlddomain.OwnershipLimited}
}

func TestExporterSkipsRecordsWithoutAccessAndWritesHome(t *testing.T) {
	store := &fakeStore{
		world: worlddomain.World{ID: "my-world", Title: "My World", Description: "<p>A land of @UUID[JournalEntry.j1]{legends}</p>"},
		users: []worlddomain.User{{ID: "u1", Name: "Player", Role: worlddomain.RolePlayer, Current: true}},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindScenes: {
				{ID: "s1", UUID: "Scene.s1", Kind: worlddomain.KindScenes, Name: "Cave", Ownership: limitedFor("u1"), Scene: &worlddomain.Scene{}},
				{ID: "s2", UUID: "Scene.s2", Kind: worlddomain.KindScenes, Name: "Castle", Scene: &worlddomain.Scene{}},
			},
			worlddomain.KindItems: {
				{ID: "i1", UUID: "Item.i1", Kind: worlddomain.KindItems, Name: "Sword", Ownership: limitedFor("u1"), Item: &worlddomain.Item{}},
			},
		},
	}
	storage := newMemStorage()
	exp := Exporter{Store: store, Storage: storage, Templates: templates.New("")}

	settings := worlddomain.ExportSettings{Scenes: true, Items: true}
	stats, err := exp.Run(context.Background(), settings)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.Exported[worlddomain.KindScenes] != 1 || stats.Exported[worlddomain.KindItems] != 1 {
		t.Fatalf("unexpected export counts: %#v", stats.Exported)
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected one skipped scene, got %d", stats.Skipped)
	}
	if len(stats.Failures) != 0 {
		t.Fatalf("unexpected failures: %#v", stats.Failures)
	}
	if stats.RunID == "" {
		t.Fatal("expected a run id")
	}

	scenes, ok := storage.file("my-world/Scenes/All Scenes.md")
	if !ok {
		t.Fatal("expected All Scenes listing")
	}
	if !strings.Contains(scenes, `[[Scenes/Cave\|Cave]]`) {
		t.Fatalf("expected Cave row in listing, got:\n%s", scenes)
	}
	if strings.Contains(scenes, "Castle") {
		t.Fatalf("expected Castle to be filtered out, got:\n%s", scenes)
	}
	if _, ok := storage.file("my-world/Scenes/Castle.md"); ok {
		t.Fatal("expected no page for a scene without access")
	}
	if _, ok := storage.file("my-world/Scenes/Cave.md"); !ok {
		t.Fatal("expected Cave page")
	}

	items, ok := storage.file("my-world/Items/All Items.md")
	if !ok || strings.Count(items, "[[Items/Sword") != 1 {
		t.Fatalf("expected one Sword row, got:\n%s", items)
	}

	home, ok := storage.file("my-world/Home.md")
	if !ok {
		t.Fatal("expected Home.md")
	}
	for _, want := range []string{
		"# My World",
		`| [[All Scenes\|Scenes]] | 1 |`,
		`| [[All Items\|Items]] | 1 |`,
		`<code title="JournalEntry.j1">legends</code>`,
	} {
		if !strings.Contains(home, want) {
			t.Fatalf("expected home to contain %q, got:\n%s", want, home)
		}
	}
	if strings.Contains(home, "All Actors") {
		t.Fatalf("expected no row for disabled collections, got:\n%s", home)
	}

	for _, folder := range []string{"my-world/Actors", "my-world/Articles", "my-world/Rollable Tables"} {
		if storage.folders[folder] {
			t.Fatalf("expected no folder %s for a disabled collection", folder)
		}
	}
	if stats.Files != 5 {
		t.Fatalf("expected 5 files (2 pages, 2 listings, home), got %d", stats.Files)
	}
}

func TestExporterGamemasterSeesEverything(t *testing.T) {
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{
			{ID: "u1", Role: worlddomain.RolePlayer, Current: true},
			{ID: "gm", Role: worlddomain.RoleGamemaster},
		},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindScenes: {
				{ID: "s1", Kind: worlddomain.KindScenes, Name: "Hidden", Scene: &worlddomain.Scene{}},
			},
		},
	}
	storage := newMemStorage()
	exp := Exporter{Store: store, Storage: storage, Templates: testTemplates()}

	stats, err := exp.Run(context.Background(), worlddomain.ExportSettings{Scenes: true, TargetUserID: "gm"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Exported[worlddomain.KindScenes] != 1 || stats.Skipped != 0 {
		t.Fatalf("expected gamemaster to export the hidden scene, got %+v", stats.RunSummary)
	}
}

func TestExporterReportsProgressBeforePermissionCheck(t *testing.T) {
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{{ID: "u1", Current: true}},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindActors: {
				{ID: "a1", Kind: worlddomain.KindActors, Name: "One", Ownership: limitedFor("u1"), Actor: &worlddomain.Actor{}},
				{ID: "a2", Kind: worlddomain.KindActors, Name: "Two", Actor: &worlddomain.Actor{}},
				{ID: "a3", Kind: worlddomain.KindActors, Name: "Three", Ownership: limitedFor("u1"), Actor: &worlddomain.Actor{}},
			},
		},
	}
	progress := &recordingProgress{}
	exp := Exporter{Store: store, Storage: newMemStorage(), Templates: testTemplates(), Progress: progress}

	if _, err := exp.Run(context.Background(), worlddomain.ExportSettings{Actors: true}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var perRecord []float64
	for _, c := range progress.calls {
		if c.message == "Exporting Actors..." {
			perRecord = append(perRecord, c.percent)
		}
	}
	if len(perRecord) != 3 {
		t.Fatalf("expected one progress call per visited record, got %v", progress.calls)
	}
	for i := 1; i < len(perRecord); i++ {
		if perRecord[i] <= perRecord[i-1] {
			t.Fatalf("expected progress to advance, got %v", perRecord)
		}
	}
	last := progress.calls[len(progress.calls)-1]
	if last.percent != 100 || last.message != "Export complete" {
		t.Fatalf("expected final progress at 100%%, got %+v", last)
	}
}

func TestExporterSuffixesCollidingNames(t *testing.T) {
	gm := worlddomain.User{ID: "gm", Role: worlddomain.RoleGamemaster, Current: true}
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{gm},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindActors: {
				{ID: "a1", Kind: worlddomain.KindActors, Name: "Goblin", Actor: &worlddomain.Actor{}},
				{ID: "a2", Kind: worlddomain.KindActors, Name: "Goblin!", Actor: &worlddomain.Actor{}},
				{ID: "a3", Kind: worlddomain.KindActors, Name: "goblin", Actor: &worlddomain.Actor{}},
				{ID: "a4", Kind: worlddomain.KindActors, Name: "All Actors", Actor: &worlddomain.Actor{}},
			},
		},
	}
	storage := newMemStorage()
	exp := Exporter{Store: store, Storage: storage, Templates: testTemplates()}

	if _, err := exp.Run(context.Background(), worlddomain.ExportSettings{Actors: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"w/Actors/Goblin.md", "w/Actors/Goblin-2.md", "w/Actors/goblin-3.md", "w/Actors/All Actors-2.md"} {
		if _, ok := storage.file(want); !ok {
			t.Fatalf("expected %s, have %v", want, fileNames(storage))
		}
	}
	listing, _ := storage.file("w/Actors/All Actors.md")
	if !strings.HasPrefix(listing, "# All Actors") {
		t.Fatalf("expected the listing to keep its name, got:\n%s", listing)
	}
}

func TestExporterRecordsCollectionFailureAndContinues(t *testing.T) {
	gm := worlddomain.User{ID: "gm", Role: worlddomain.RoleGamemaster, Current: true}
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{gm},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindActors: {{ID: "a1", Kind: worlddomain.KindActors, Name: "Orc", Actor: &worlddomain.Actor{}}},
			worlddomain.KindItems:  {{ID: "i1", Kind: worlddomain.KindItems, Name: "Axe", Item: &worlddomain.Item{}}},
		},
	}
	tmpl := testTemplates()
	tmpl["actors-table"] = "| Actor |\nLIST\n"
	storage := newMemStorage()
	ledger := &recordingLedger{}
	exp := Exporter{Store: store, Storage: storage, Templates: tmpl, Ledger: ledger}

	stats, err := exp.Run(context.Background(), worlddomain.ExportSettings{Actors: true, Items: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Failures) != 1 {
		t.Fatalf("expected one failure, got %#v", stats.Failures)
	}
	f := stats.Failures[0]
	if f.Kind != worlddomain.KindActors || f.Stage != stageCollection || f.RecordID != "" {
		t.Fatalf("unexpected failure %#v", f)
	}
	if !strings.Contains(f.Message, ErrMalformedTemplate.Error()) {
		t.Fatalf("expected malformed template message, got %q", f.Message)
	}
	if stats.Exported[worlddomain.KindItems] != 1 {
		t.Fatalf("expected items to export after actors failed, got %#v", stats.Exported)
	}

	if len(ledger.begun) != 1 || len(ledger.finished) != 1 {
		t.Fatalf("expected ledger begin and finish, got %+v", ledger)
	}
	if ledger.begun[0] != stats.RunID || ledger.finished[0].id != stats.RunID {
		t.Fatalf("expected ledger to use the run id %s", stats.RunID)
	}
	if ledger.finished[0].cause != nil || len(ledger.finished[0].summary.Failures) != 1 {
		t.Fatalf("unexpected ledger summary %+v", ledger.finished[0])
	}
}

func TestExporterReturnsErrorWhenCancelled(t *testing.T) {
	gm := worlddomain.User{ID: "gm", Role: worlddomain.RoleGamemaster, Current: true}
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{gm},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindActors: {{ID: "a1", Kind: worlddomain.KindActors, Name: "Orc", Actor: &worlddomain.Actor{}}},
		},
	}
	ledger := &recordingLedger{}
	exp := Exporter{Store: store, Storage: newMemStorage(), Templates: testTemplates(), Ledger: ledger}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exp.Run(ctx, worlddomain.ExportSettings{Actors: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(ledger.finished) != 1 || ledger.finished[0].cause == nil {
		t.Fatalf("expected the ledger to record the failed run, got %+v", ledger.finished)
	}
}

func TestExporterRequiresCollaborators(t *testing.T) {
	if _, err := (Exporter{}).Run(context.Background(), worlddomain.DefaultExportSettings()); err == nil {
		t.Fatal("expected an error without store, storage and templates")
	}
}

func TestExporterWritesImagesAndFileTimes(t *testing.T) {
	gm := worlddomain.User{ID: "gm", Role: worlddomain.RoleGamemaster, Current: true}
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{gm},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindActors: {
				{ID: "a1", Kind: worlddomain.KindActors, Name: "Orc", Img: "tokens/orc.png", Stats: worlddomain.RecordStats{Created: created}, Actor: &worlddomain.Actor{}},
				{ID: "a2", Kind: worlddomain.KindActors, Name: "Elf", Img: "https://cdn.example/elf.png", Actor: &worlddomain.Actor{}},
				{ID: "a3", Kind: worlddomain.KindActors, Name: "Ghost", Img: "tokens/ghost.png", Actor: &worlddomain.Actor{}},
			},
		},
	}
	storage := &timedStorage{memStorage: newMemStorage(), times: map[string]time.Time{}}
	storage.sources["tokens/orc.png"] = []byte("png")
	exp := Exporter{Store: store, Storage: storage, Templates: testTemplates()}

	stats, err := exp.Run(context.Background(), worlddomain.ExportSettings{Actors: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok := storage.file("w/Actors/Orc.png"); !ok {
		t.Fatalf("expected the portrait next to the page, have %v", fileNames(storage.memStorage))
	}
	orc, _ := storage.file("w/Actors/Orc.md")
	if !strings.HasPrefix(orc, "![[Actors/Orc.png|150]]") {
		t.Fatalf("expected embedded portrait, got:\n%s", orc)
	}
	elf, _ := storage.file("w/Actors/Elf.md")
	if !strings.HasPrefix(elf, "![Elf|150](https://cdn.example/elf.png)") {
		t.Fatalf("expected remote portrait link, got:\n%s", elf)
	}
	listing, _ := storage.file("w/Actors/All Actors.md")
	if !strings.Contains(listing, `![[Actors/Orc.png\|100]]`) || !strings.Contains(listing, `![Elf\|100](https://cdn.example/elf.png)`) {
		t.Fatalf("expected row images, got:\n%s", listing)
	}
	if storage.fetches["https://cdn.example/elf.png"] != 0 {
		t.Fatal("expected remote portraits to be linked, not fetched")
	}
	if stats.BrokenAssets != 1 {
		t.Fatalf("expected the missing ghost portrait to count as broken, got %d", stats.BrokenAssets)
	}
	if got := storage.times["w/Actors/Orc.md"]; !got.Equal(created) {
		t.Fatalf("expected page time %v, got %v", created, got)
	}
}

func TestExporterFrontmatterAndMarkdownBodies(t *testing.T) {
	gm := worlddomain.User{ID: "gm", Role: worlddomain.RoleGamemaster, Current: true}
	store := &fakeStore{
		world: worlddomain.World{ID: "w"},
		users: []worlddomain.User{gm},
		collections: map[worlddomain.Kind][]worlddomain.Record{
			worlddomain.KindItems: {
				{ID: "i1", UUID: "Item.i1", Kind: worlddomain.KindItems, Name: "Potion: Healing", Item: &worlddomain.Item{Description: "<p><strong>Heals</strong> 2d4</p>"}},
			},
		},
	}
	storage := newMemStorage()
	exp := Exporter{Store: store, Storage: storage, Templates: testTemplates(), Frontmatter: true, ConvertHTML: true}

	if _, err := exp.Run(context.Background(), worlddomain.ExportSettings{Items: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	page, ok := storage.file("w/Items/Potion Healing.md")
	if !ok {
		t.Fatalf("expected sanitized page name, have %v", fileNames(storage))
	}
	for _, want := range []string{"---\nuuid: Item.i1\n", "type: Items\n", "aliases:", "Potion: Healing", "**Heals** 2d4"} {
		if !strings.Contains(page, want) {
			t.Fatalf("expected page to contain %q, got:\n%s", want, page)
		}
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	exp := Exporter{Settings: memSettings{}}

	got, err := exp.LoadSelection()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != worlddomain.DefaultExportSettings() {
		t.Fatalf("expected defaults before anything was saved, got %+v", got)
	}

	if err := exp.SaveSelection(worlddomain.ExportSettings{Scenes: true, Tables: true, TargetUserID: "u2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = exp.LoadSelection()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := worlddomain.ExportSettings{Scenes: true, Tables: true}
	if got != want {
		t.Fatalf("expected %+v without the target user, got %+v", want, got)
	}
}

func TestLoadSelectionIgnoresStoredTargetUser(t *testing.T) {
	settings := memSettings{}
	if err := settings.Set(SettingsNamespace, SettingsKey, worlddomain.ExportSettings{Actors: true, TargetUserID: "p1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := Exporter{Settings: settings}.LoadSelection()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TargetUserID != "" || !got.Actors {
		t.Fatalf("expected the stored user to be dropped, got %+v", got)
	}
}

func TestVaultRootFallsBackForBlankWorldID(t *testing.T) {
	if got := VaultRoot(worlddomain.World{ID: "my-world"}); got != "my-world" {
		t.Fatalf("unexpected root %q", got)
	}
	if got := VaultRoot(worlddomain.World{}); got != "world" {
		t.Fatalf("expected fallback root, got %q", got)
	}
}

type timedStorage struct {
	*memStorage
	times map[string]time.Time
}

func (s *timedStorage) SetFileTimes(p string, created, modified time.Time) error {
	if modified.IsZero() {
		modified = created
	}
	s.times[p] = modified
	return nil
}

func fileNames(m *memStorage) []string {
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	return names
}
