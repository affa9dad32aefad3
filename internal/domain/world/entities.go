package world

import "time"

type Kind string

const (
	KindScenes   Kind = "Scenes"
	KindActors   Kind = "Actors"
	KindItems    Kind = "Items"
	KindArticles Kind = "Articles"
	KindTables   Kind = "Rollable Tables"
)

// Kinds lists every record collection in export order.
var Kinds = []Kind{KindScenes, KindActors, KindItems, KindArticles, KindTables}

type Ownership int

const (
	OwnershipNone     Ownership = 0
	OwnershipLimited  Ownership = 1
	OwnershipObserver Ownership = 2
	OwnershipOwner    Ownership = 3
)

const (
	RolePlayer     = 1
	RoleTrusted    = 2
	RoleAssistant  = 3
	RoleGamemaster = 4
)

// DefaultOwnershipKey holds the level applied to users without an explicit entry.
const DefaultOwnershipKey = "default"

type World struct {
	ID          string
	Title       string
	Description string
}

type User struct {
	ID      string
	Name    string
	Role    int
	Current bool
}

func (u User) IsGM() bool {
	return u.Role >= RoleGamemaster
}

type Folder struct {
	ID     string
	Name   string
	Parent *Folder
}

type RecordStats struct {
	Created  time.Time
	Modified time.Time
}

// Record is one exportable document. Exactly one variant pointer matching
// Kind is set.
type Record struct {
	ID        string
	UUID      string
	Kind      Kind
	Name      string
	Folder    *Folder
	Img       string
	Ownership map[string]Ownership
	Stats     RecordStats

	Scene   *Scene
	Actor   *Actor
	Item    *Item
	Article *Article
	Table   *Table
}

type Scene struct {
	Width      *float64
	Height     *float64
	Thumb      string
	Background string
}

type Actor struct {
	HPValue   *float64
	HPMax     *float64
	Biography string
}

type Item struct {
	Quantity    *float64
	Weight      *float64
	Price       *float64
	Currency    string
	Description string
}

type Article struct {
	Pages []ArticlePage
}

type ArticlePage struct {
	Name    string
	Type    string
	Content string
}

type Table struct {
	Formula     string
	Description string
	Results     []TableResult
}

type TableResult struct {
	Text  string
	Range [2]int
}

// ExportSettings selects the collections to export and the user whose
// permissions filter them.
type ExportSettings struct {
	Scenes       bool   `json:"exportScenes"`
	Actors       bool   `json:"exportActors"`
	Items        bool   `json:"exportItems"`
	Articles     bool   `json:"exportArticles"`
	Tables       bool   `json:"exportTables"`
	TargetUserID string `json:"permissions,omitempty"`
}

func DefaultExportSettings() ExportSettings {
	return ExportSettings{Scenes: true, Actors: true, Items: true, Articles: true, Tables: true}
}

func (s ExportSettings) Enabled(kind Kind) bool {
	switch kind {
	case KindScenes:
		return s.Scenes
	case KindActors:
		return s.Actors
	case KindItems:
		return s.Items
	case KindArticles:
		return s.Articles
	case KindTables:
		return s.Tables
	default:
		return false
	}
}

type FieldBinding struct {
	Placeholder string
	Path        string
}

// FieldMapping injects record values into templates. Order is kept for
// deterministic output.
type FieldMapping []FieldBinding

type Failure struct {
	Kind       Kind
	RecordID   string
	RecordName string
	Stage      string
	Message    string
}

type RunSummary struct {
	Exported     map[Kind]int
	Skipped      int
	Files        int
	BrokenAssets int
	Failures     []Failure
}

func (s RunSummary) TotalExported() int {
	total := 0
	for _, n := range s.Exported {
		total += n
	}
	return total
}

type ExportData struct {
	World       World
	Users       []User
	Folders     map[string]*Folder
	Collections map[Kind][]Record
}
