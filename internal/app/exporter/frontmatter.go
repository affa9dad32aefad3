package exporter

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

type pageProperties struct {
	UUID     string   `yaml:"uuid,omitempty"`
	Type     string   `yaml:"type"`
	Folder   string   `yaml:"folder,omitempty"`
	Aliases  []string `yaml:"aliases,omitempty"`
	Created  string   `yaml:"created,omitempty"`
	Modified string   `yaml:"modified,omitempty"`
}

// renderFrontmatter returns the YAML properties block for a record page.
// The record's display name becomes an alias when the file name had to
// differ from it.
func renderFrontmatter(rec worlddomain.Record, relFolder, name string) (string, error) {
	props := pageProperties{
		UUID:     rec.UUID,
		Type:     string(rec.Kind),
		Folder:   relFolder,
		Created:  formatDateValue(rec.Stats.Created),
		Modified: formatDateValue(rec.Stats.Modified),
	}
	if rec.Name != "" && rec.Name != name {
		props.Aliases = []string{rec.Name}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(props); err != nil {
		return "", fmt.Errorf("encode frontmatter for %s: %w", rec.ID, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter for %s: %w", rec.ID, err)
	}
	buf.WriteString("---\n")
	return buf.String(), nil
}

func formatDateValue(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
