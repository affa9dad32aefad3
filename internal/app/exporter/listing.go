package exporter

import (
	"sort"
	"strings"
)

// buildListing assembles the rows of one collection into the body of its
// "All <Type>" page. Rows are sorted case-insensitively by their vault key
// and grouped under a heading whenever the folder part of the key changes.
// Each group is written into wrapper at LIST.
func buildListing(rows map[string]string, wrapper string) string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})

	var out strings.Builder
	var group strings.Builder
	folder := ""
	flush := func() {
		if group.Len() == 0 {
			return
		}
		out.WriteString(strings.ReplaceAll(wrapper, "LIST", group.String()))
		group.Reset()
	}

	for _, key := range keys {
		prefix := ""
		if i := strings.LastIndex(key, "/"); i >= 0 {
			prefix = key[:i]
		}
		if prefix != folder {
			flush()
			folder = prefix
			out.WriteString("\n\n### " + folder + " \n\n")
		}
		group.WriteString(rows[key])
	}
	flush()
	return out.String()
}
