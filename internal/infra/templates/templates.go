// Package templates serves the Markdown templates used to render vault pages.
// A directory of overrides takes precedence over the embedded defaults.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed defaults/*.md
var defaults embed.FS

var ErrNotFound = errors.New("template not found")

type Source struct {
	// Dir holds <name>.md overrides. Empty means defaults only.
	Dir string
}

func New(dir string) *Source {
	return &Source{Dir: dir}
}

// Load returns the template called name.
func (s *Source) Load(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	file := name + ".md"

	if s != nil && s.Dir != "" {
		b, err := os.ReadFile(filepath.Join(s.Dir, file))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}

	b, err := defaults.ReadFile(path.Join("defaults", file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read default template %s: %w", name, err)
	}
	return string(b), nil
}

// Names lists the embedded template names in sorted order.
func Names() []string {
	entries, err := defaults.ReadDir("defaults")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, strings.TrimSuffix(ent.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}

// WriteDefaults copies the embedded templates into dir so they can be
// edited. Existing files are kept unless overwrite is set.
func WriteDefaults(dir string, overwrite bool) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create template dir: %w", err)
	}
	written := 0
	for _, name := range Names() {
		target := filepath.Join(dir, name+".md")
		if !overwrite {
			if _, err := os.Stat(target); err == nil {
				continue
			}
		}
		b, err := defaults.ReadFile(path.Join("defaults", name+".md"))
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(target, b, 0o644); err != nil {
			return written, fmt.Errorf("write template %s: %w", name, err)
		}
		written++
	}
	return written, nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid template name %q", name)
	}
	return nil
}
