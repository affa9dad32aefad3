package exporter

import (
	"strconv"
	"strings"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

// nameAllocator hands out page names that are unique per folder. Names
// compare case-insensitively so the vault also works on case-folding file
// systems.
type nameAllocator struct {
	taken map[string]struct{}
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{taken: map[string]struct{}{}}
}

func (a *nameAllocator) reserve(folder, name string) {
	a.taken[collisionKey(folder, name)] = struct{}{}
}

// allocate returns base, or base-2, base-3... for later claimants.
func (a *nameAllocator) allocate(folder, base string) string {
	name := base
	for n := 2; ; n++ {
		key := collisionKey(folder, name)
		if _, taken := a.taken[key]; !taken {
			a.taken[key] = struct{}{}
			return name
		}
		name = base + "-" + strconv.Itoa(n)
	}
}

func collisionKey(folder, name string) string {
	return strings.ToLower(folder + "/" + name)
}

func recordBaseName(rec worlddomain.Record) string {
	if name := strings.TrimSpace(worlddomain.SanitizeName(rec.Name)); name != "" {
		return name
	}
	if id := strings.TrimSpace(worlddomain.SanitizeName(rec.ID)); id != "" {
		return id
	}
	return "untitled"
}
