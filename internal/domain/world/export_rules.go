package world

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const maxFolderDepth = 256

// HasAccess reports whether user reaches at least level on the record.
// Gamemasters see everything.
func (r Record) HasAccess(user User, level Ownership) bool {
	if user.IsGM() {
		return true
	}
	return r.UserLevel(user) >= level
}

func (r Record) UserLevel(user User) Ownership {
	if lvl, ok := r.Ownership[user.ID]; ok && lvl >= OwnershipNone {
		return lvl
	}
	if lvl, ok := r.Ownership[DefaultOwnershipKey]; ok && lvl >= OwnershipNone {
		return lvl
	}
	return OwnershipNone
}

// DocumentName is the host document class used in UUIDs ("Actor.abc").
func (k Kind) DocumentName() string {
	switch k {
	case KindScenes:
		return "Scene"
	case KindActors:
		return "Actor"
	case KindItems:
		return "Item"
	case KindArticles:
		return "JournalEntry"
	case KindTables:
		return "RollTable"
	default:
		return string(k)
	}
}

// TemplatePrefix is the file name prefix of the kind's templates
// ("Rollable Tables" -> "rollable-tables").
func (k Kind) TemplatePrefix() string {
	return strings.ReplaceAll(strings.ToLower(string(k)), " ", "-")
}

// FolderPath joins the names of folder and its ancestors from the root down,
// without leading or trailing slashes. A revisited node ends the walk.
func FolderPath(folder *Folder) string {
	if folder == nil {
		return ""
	}
	var names []string
	seen := map[*Folder]struct{}{}
	for f := folder; f != nil && len(names) < maxFolderDepth; f = f.Parent {
		if _, ok := seen[f]; ok {
			break
		}
		seen[f] = struct{}{}
		names = append(names, f.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

// SanitizeName drops every rune outside [0-9a-zA-Z_\- ]. The result may be empty.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isFileNameRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isFileNameRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r == '_', r == '-', r == ' ':
		return true
	default:
		return false
	}
}

// VaultPath joins non-empty segments with forward slashes.
func VaultPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

var fieldGetters = map[string]func(Record) string{
	"name": func(r Record) string { return r.Name },
	"uuid": func(r Record) string { return r.UUID },
	"img":  func(r Record) string { return r.Img },
	"width": func(r Record) string {
		if r.Scene == nil {
			return ""
		}
		return formatNumber(r.Scene.Width)
	},
	"height": func(r Record) string {
		if r.Scene == nil {
			return ""
		}
		return formatNumber(r.Scene.Height)
	},
	"thumb": func(r Record) string {
		if r.Scene == nil {
			return ""
		}
		return r.Scene.Thumb
	},
	"background.src": func(r Record) string {
		if r.Scene == nil {
			return ""
		}
		return r.Scene.Background
	},
	"system.attributes.hp.value": func(r Record) string {
		if r.Actor == nil {
			return ""
		}
		return formatNumber(r.Actor.HPValue)
	},
	"system.attributes.hp.max": func(r Record) string {
		if r.Actor == nil {
			return ""
		}
		return formatNumber(r.Actor.HPMax)
	},
	"system.details.biography.value": func(r Record) string {
		if r.Actor == nil {
			return ""
		}
		return r.Actor.Biography
	},
	"system.quantity": func(r Record) string {
		if r.Item == nil {
			return ""
		}
		return formatNumber(r.Item.Quantity)
	},
	"system.weight": func(r Record) string {
		if r.Item == nil {
			return ""
		}
		return formatNumber(r.Item.Weight)
	},
	"system.price.value": func(r Record) string {
		if r.Item == nil {
			return ""
		}
		return formatNumber(r.Item.Price)
	},
	"system.price.denomination": func(r Record) string {
		if r.Item == nil {
			return ""
		}
		return r.Item.Currency
	},
	"system.description.value": func(r Record) string {
		if r.Item == nil {
			return ""
		}
		return r.Item.Description
	},
	"formula": func(r Record) string {
		if r.Table == nil {
			return ""
		}
		return r.Table.Formula
	},
	"description": func(r Record) string {
		if r.Table == nil {
			return ""
		}
		return r.Table.Description
	},
}

var countGetters = map[string]func(Record) int{
	"pages": func(r Record) int {
		if r.Article == nil {
			return 0
		}
		return len(r.Article.Pages)
	},
	"results": func(r Record) int {
		if r.Table == nil {
			return 0
		}
		return len(r.Table.Results)
	},
}

// Field resolves a dotted field path against the record's variant. A "#"
// prefix asks for the size of a collection field. Unknown paths resolve to "".
func (r Record) Field(path string) string {
	if strings.HasPrefix(path, "#") {
		count, ok := countGetters[path[1:]]
		if !ok {
			return "0"
		}
		return strconv.Itoa(count(r))
	}
	get, ok := fieldGetters[path]
	if !ok {
		return ""
	}
	return get(r)
}

// KnownField reports whether path resolves through a typed accessor.
func KnownField(path string) bool {
	if strings.HasPrefix(path, "#") {
		_, ok := countGetters[path[1:]]
		return ok
	}
	_, ok := fieldGetters[path]
	return ok
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Binding maps template placeholders to their values.
type Binding map[string]string

// Apply substitutes every placeholder in one left-to-right pass. Longer
// placeholders win over their substrings and inserted values are not
// scanned again.
func (b Binding) Apply(tmpl string) string {
	if len(b) == 0 || tmpl == "" {
		return tmpl
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, b[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Bind resolves mapping against the record into b. ASSETUUID is always bound.
func (b Binding) Bind(r Record, mapping FieldMapping) Binding {
	b["ASSETUUID"] = r.UUID
	for _, fb := range mapping {
		b[fb.Placeholder] = r.Field(fb.Path)
	}
	return b
}

// ParseTimestamp accepts unix seconds or milliseconds, RFC3339 and plain dates.
func ParseTimestamp(value any) (time.Time, bool) {
	toUnixSeconds := func(v int64) int64 {
		if v > 1_000_000_000_000 || v < -1_000_000_000_000 {
			return v / 1000
		}
		return v
	}

	switch t := value.(type) {
	case float64:
		if t == 0 {
			return time.Time{}, false
		}
		return time.Unix(toUnixSeconds(int64(t)), 0).UTC(), true
	case int:
		if t == 0 {
			return time.Time{}, false
		}
		return time.Unix(toUnixSeconds(int64(t)), 0).UTC(), true
	case int64:
		if t == 0 {
			return time.Time{}, false
		}
		return time.Unix(toUnixSeconds(t), 0).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && i != 0 {
			return time.Unix(toUnixSeconds(i), 0).UTC(), true
		}
		if tm, err := time.Parse(time.RFC3339, s); err == nil {
			return tm.UTC(), true
		}
		if tm, err := time.Parse("2006-01-02", s); err == nil {
			return tm.UTC(), true
		}
	}

	return time.Time{}, false
}
