package worldjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

var collectionDirs = map[worlddomain.Kind]string{
	worlddomain.KindScenes:   "scenes",
	worlddomain.KindActors:   "actors",
	worlddomain.KindItems:    "items",
	worlddomain.KindArticles: "journal",
	worlddomain.KindTables:   "tables",
}

var ErrFolderCycle = errors.New("folder cycle")

type worldFile struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type userDoc struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Role    int    `json:"role"`
	Current bool   `json:"current"`
}

type folderDoc struct {
	ID     string  `json:"_id"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Folder *string `json:"folder"`
}

type recordDoc struct {
	ID         string         `json:"_id"`
	Name       string         `json:"name"`
	Folder     *string        `json:"folder"`
	Img        string         `json:"img"`
	Sort       int            `json:"sort"`
	Ownership  map[string]any `json:"ownership"`
	Permission map[string]any `json:"permission"`
	Stats      struct {
		CreatedTime  any `json:"createdTime"`
		ModifiedTime any `json:"modifiedTime"`
	} `json:"_stats"`
	System      map[string]any `json:"system"`
	Data        map[string]any `json:"data"`
	Pages       []pageDoc      `json:"pages"`
	Content     string         `json:"content"`
	Results     []resultDoc    `json:"results"`
	Formula     string         `json:"formula"`
	Description string         `json:"description"`
	Width       *float64       `json:"width"`
	Height      *float64       `json:"height"`
	Thumb       string         `json:"thumb"`
	Background  struct {
		Src string `json:"src"`
	} `json:"background"`
}

type pageDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Sort int    `json:"sort"`
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
}

type resultDoc struct {
	Text  string `json:"text"`
	Range []int  `json:"range"`
}

// ReadExport loads a world export directory.
func ReadExport(inputDir string) (worlddomain.ExportData, error) {
	w, err := readWorld(filepath.Join(inputDir, "world.json"))
	if err != nil {
		return worlddomain.ExportData{}, err
	}
	users, err := readUsers(filepath.Join(inputDir, "users.json"))
	if err != nil {
		return worlddomain.ExportData{}, err
	}
	folders, err := readFolders(filepath.Join(inputDir, "folders.json"))
	if err != nil {
		return worlddomain.ExportData{}, err
	}

	collections := make(map[worlddomain.Kind][]worlddomain.Record, len(collectionDirs))
	for _, kind := range worlddomain.Kinds {
		records, err := readRecords(filepath.Join(inputDir, collectionDirs[kind]), kind, folders)
		if err != nil {
			return worlddomain.ExportData{}, err
		}
		collections[kind] = records
	}

	return worlddomain.ExportData{
		World:       w,
		Users:       users,
		Folders:     folders,
		Collections: collections,
	}, nil
}

func readWorld(path string) (worlddomain.World, error) {
	var f worldFile
	if err := readJSON(path, &f); err != nil {
		return worlddomain.World{}, fmt.Errorf("read world: %w", err)
	}
	if strings.TrimSpace(f.ID) == "" {
		return worlddomain.World{}, fmt.Errorf("read world: %s has no id", path)
	}
	title := strings.TrimSpace(f.Title)
	if title == "" {
		title = f.ID
	}
	return worlddomain.World{ID: f.ID, Title: title, Description: f.Description}, nil
}

func readUsers(path string) ([]worlddomain.User, error) {
	var docs []userDoc
	if err := readJSON(path, &docs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users: %w", err)
	}
	out := make([]worlddomain.User, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		out = append(out, worlddomain.User{ID: d.ID, Name: d.Name, Role: d.Role, Current: d.Current})
	}
	return out, nil
}

func readFolders(path string) (map[string]*worlddomain.Folder, error) {
	var docs []folderDoc
	if err := readJSON(path, &docs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*worlddomain.Folder{}, nil
		}
		return nil, fmt.Errorf("read folders: %w", err)
	}

	out := make(map[string]*worlddomain.Folder, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		out[d.ID] = &worlddomain.Folder{ID: d.ID, Name: d.Name}
	}
	for _, d := range docs {
		if d.Folder == nil || *d.Folder == "" {
			continue
		}
		child, ok := out[d.ID]
		if !ok {
			continue
		}
		if parent, ok := out[*d.Folder]; ok {
			child.Parent = parent
		}
	}
	if err := checkFolderTree(out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkFolderTree(folders map[string]*worlddomain.Folder) error {
	ids := make([]string, 0, len(folders))
	for id := range folders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		seen := map[*worlddomain.Folder]struct{}{}
		for f := folders[id]; f != nil; f = f.Parent {
			if _, ok := seen[f]; ok {
				return fmt.Errorf("read folders: %w through %s", ErrFolderCycle, f.ID)
			}
			seen[f] = struct{}{}
		}
	}
	return nil
}

func readRecords(dir string, kind worlddomain.Kind, folders map[string]*worlddomain.Folder) ([]worlddomain.Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s dir: %w", filepath.Base(dir), err)
	}

	type sortable struct {
		sort   int
		record worlddomain.Record
	}
	var out []sortable
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		var doc recordDoc
		if err := readJSON(filepath.Join(dir, ent.Name()), &doc); err != nil {
			return nil, err
		}
		if doc.ID == "" {
			doc.ID = strings.TrimSuffix(ent.Name(), ".json")
		}
		out = append(out, sortable{sort: doc.Sort, record: toRecord(doc, kind, folders)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].sort != out[j].sort {
			return out[i].sort < out[j].sort
		}
		return out[i].record.ID < out[j].record.ID
	})

	records := make([]worlddomain.Record, len(out))
	for i, s := range out {
		records[i] = s.record
	}
	return records, nil
}

func toRecord(doc recordDoc, kind worlddomain.Kind, folders map[string]*worlddomain.Folder) worlddomain.Record {
	rec := worlddomain.Record{
		ID:        doc.ID,
		UUID:      kind.DocumentName() + "." + doc.ID,
		Kind:      kind,
		Name:      doc.Name,
		Img:       doc.Img,
		Ownership: ownershipLevels(doc.Ownership, doc.Permission),
	}
	if doc.Folder != nil {
		rec.Folder = folders[*doc.Folder]
	}
	if created, ok := worlddomain.ParseTimestamp(doc.Stats.CreatedTime); ok {
		rec.Stats.Created = created
	}
	if modified, ok := worlddomain.ParseTimestamp(doc.Stats.ModifiedTime); ok {
		rec.Stats.Modified = modified
	}

	system := doc.System
	if system == nil {
		system = doc.Data
	}

	switch kind {
	case worlddomain.KindScenes:
		bg := doc.Background.Src
		if bg == "" {
			bg = doc.Img
		}
		rec.Scene = &worlddomain.Scene{Width: doc.Width, Height: doc.Height, Thumb: doc.Thumb, Background: bg}
	case worlddomain.KindActors:
		rec.Actor = &worlddomain.Actor{
			HPValue:   asFloatPtr(lookupPath(system, "attributes.hp.value")),
			HPMax:     asFloatPtr(lookupPath(system, "attributes.hp.max")),
			Biography: asString(lookupPath(system, "details.biography.value")),
		}
	case worlddomain.KindItems:
		price := lookupPath(system, "price.value")
		if price == nil {
			price = lookupPath(system, "price")
		}
		rec.Item = &worlddomain.Item{
			Quantity:    asFloatPtr(lookupPath(system, "quantity")),
			Weight:      asFloatPtr(lookupPath(system, "weight")),
			Price:       asFloatPtr(price),
			Currency:    asString(lookupPath(system, "price.denomination")),
			Description: asString(lookupPath(system, "description.value")),
		}
	case worlddomain.KindArticles:
		rec.Article = &worlddomain.Article{Pages: toPages(doc)}
	case worlddomain.KindTables:
		results := make([]worlddomain.TableResult, 0, len(doc.Results))
		for _, r := range doc.Results {
			res := worlddomain.TableResult{Text: r.Text}
			if len(r.Range) > 0 {
				res.Range[0] = r.Range[0]
				res.Range[1] = r.Range[0]
			}
			if len(r.Range) > 1 {
				res.Range[1] = r.Range[1]
			}
			results = append(results, res)
		}
		rec.Table = &worlddomain.Table{Formula: doc.Formula, Description: doc.Description, Results: results}
	}
	return rec
}

func toPages(doc recordDoc) []worlddomain.ArticlePage {
	if len(doc.Pages) == 0 && doc.Content != "" {
		return []worlddomain.ArticlePage{{Name: doc.Name, Type: "text", Content: doc.Content}}
	}
	pages := make([]pageDoc, len(doc.Pages))
	copy(pages, doc.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Sort < pages[j].Sort })

	out := make([]worlddomain.ArticlePage, 0, len(pages))
	for _, p := range pages {
		out = append(out, worlddomain.ArticlePage{Name: p.Name, Type: p.Type, Content: p.Text.Content})
	}
	return out
}

func ownershipLevels(sources ...map[string]any) map[string]worlddomain.Ownership {
	out := map[string]worlddomain.Ownership{}
	for _, src := range sources {
		for user, raw := range src {
			if _, exists := out[user]; exists {
				continue
			}
			out[user] = worlddomain.Ownership(asInt(raw))
		}
	}
	return out
}

func readJSON(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func lookupPath(m map[string]any, path string) any {
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		i, _ := strconv.Atoi(t)
		return i
	default:
		return 0
	}
}

func asFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
